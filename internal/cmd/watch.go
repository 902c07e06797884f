package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/runger/livesearch/internal/livesearch"
	"github.com/runger/livesearch/internal/picker"
)

var (
	watchLanguage string
	watchLinger   time.Duration
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Live search driven by terms read from stdin",
	GroupID: groupCore,
	Long: `Read search terms from stdin, one per line, and print every change to
the live result list and every change of the fetch indicator.

Each line replaces the current term, exactly as typing would in the TUI.

Examples:
  livesearch watch --language Swift
  printf 'rea\nreactivex\n' | livesearch watch --linger 3s`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchLanguage, "language", "l", "", "language filter (default: first configured language)")
	watchCmd.Flags().DurationVar(&watchLinger, "linger", 0, "keep running this long after stdin closes (0 = until interrupted)")
	watchCmd.Flags().StringVar(&colorMode, "color", "auto", "color output: auto, always, or never")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	applyColorMode()

	a, err := openApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	return watchLoop(ctx, a, a.resolveLanguage(watchLanguage), os.Stdin, os.Stdout, watchLinger)
}

// watchLoop runs an engine fed by lines from in until ctx is done, or until
// linger has passed after in reaches EOF when linger is positive.
func watchLoop(ctx context.Context, a *app, language string, in io.Reader, out io.Writer, linger time.Duration) error {
	engine, err := livesearch.New(livesearch.Config{
		Store:         a.store,
		Fetcher:       a.fetcher,
		Throttle:      a.cfg.Throttle(),
		MinTermLength: a.cfg.Search.MinTermLength,
		Observer:      watchPrinter(out),
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	// The scanner cannot be interrupted, so it lives outside the group and
	// hands lines over a channel that is closed at EOF.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error {
		return engine.Run(runCtx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return lingerThenStop(gctx, linger, cancelRun)
				}
				engine.OnCriteriaChanged(line, language)
			}
		}
	})

	return g.Wait()
}

// lingerThenStop waits for linger and then cancels the engine. A zero
// linger leaves the engine running until ctx is done.
func lingerThenStop(ctx context.Context, linger time.Duration, cancel context.CancelFunc) error {
	if linger <= 0 {
		<-ctx.Done()
		return nil
	}
	select {
	case <-ctx.Done():
	case <-time.After(linger):
		cancel()
	}
	return nil
}

// watchPrinter renders engine events as lines on out.
func watchPrinter(out io.Writer) livesearch.Observer {
	return livesearch.ObserverFuncs{
		OnViewUpdate: func(u livesearch.ViewUpdate) {
			switch {
			case u.Cleared:
				fmt.Fprintf(out, "%s- cleared%s\n", colorDim, colorReset)
			case u.FullReload():
				fmt.Fprintf(out, "%s= %s%s  %d cached\n", colorBold, u.Criteria, colorReset, len(u.Results))
				for _, r := range u.Results {
					fmt.Fprintf(out, "    %s\n", picker.DisplayName(r.FullName, 0))
				}
			default:
				cs := u.Changes
				fmt.Fprintf(out, "%s~ %s%s  +%d -%d ~%d  %d cached\n", colorBold, u.Criteria, colorReset,
					len(cs.Insertions), len(cs.Deletions), len(cs.Modifications), len(u.Results))
				for _, i := range cs.Insertions {
					fmt.Fprintf(out, "  %s+%s %s\n", colorGreen, colorReset, picker.DisplayName(u.Results[i].FullName, 0))
				}
				for _, i := range cs.Modifications {
					fmt.Fprintf(out, "  %s~%s %s\n", colorYellow, colorReset, picker.DisplayName(u.Results[i].FullName, 0))
				}
			}
		},
		OnFetchChange: func(fetching bool) {
			if fetching {
				fmt.Fprintf(out, "%s* fetching%s\n", colorDim, colorReset)
			} else {
				fmt.Fprintf(out, "%s* idle%s\n", colorDim, colorReset)
			}
		},
	}
}
