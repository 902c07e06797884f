package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/runger/livesearch/internal/livesearch"
	"github.com/runger/livesearch/internal/picker"
)

var (
	tuiLanguage string
	tuiQuery    string
)

var tuiCmd = &cobra.Command{
	Use:     "tui",
	Short:   "Interactive live search",
	GroupID: groupCore,
	Long: `Open the interactive search picker.

Type a repository name and pick a language with Tab. Cached matches are
shown at once and the list updates as fresh results arrive from GitHub.
Enter prints the selected repository; Esc cancels.

Logs go to the log file (see "livesearch config log.file") so they do not
disturb the screen.

Examples:
  livesearch tui
  livesearch tui --language Go --query cobra`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().StringVarP(&tuiLanguage, "language", "l", "", "initially selected language")
	tuiCmd.Flags().StringVarP(&tuiQuery, "query", "q", "", "initial search term")

	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	// Open /dev/tty for TUI input/output so stdout stays free for the result.
	tty, err := openTTY()
	if err != nil {
		return err
	}
	defer tty.Close()

	cfg, paths, err := loadConfig()
	if err != nil {
		return err
	}
	logFile, err := openLogFile(cfg.LogFilePath(paths))
	if err != nil {
		return err
	}
	defer logFile.Close()

	a, err := newApp(cfg, paths, newLogger(cfg, logFile))
	if err != nil {
		return err
	}
	defer a.Close()

	// Detect the color profile from the tty, not stdout, which may be a pipe.
	lipgloss.SetColorProfile(termenv.NewOutput(tty).ColorProfile())

	observer := picker.NewObserver(nil)
	engine, err := livesearch.New(livesearch.Config{
		Store:         a.store,
		Fetcher:       a.fetcher,
		Throttle:      cfg.Throttle(),
		MinTermLength: cfg.Search.MinTermLength,
		Observer:      observer,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	model := picker.NewModel(cfg.Search.Languages, engine, tuiQuery, engine.MinTermLength()).
		WithLanguage(tuiLanguage)
	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithInput(tty),
		tea.WithOutput(tty),
		tea.WithContext(ctx),
	)
	observer.Attach(p)

	final, err := runPicker(ctx, engine, observer, p)
	if err != nil {
		return err
	}
	if final.Err() != nil {
		return final.Err()
	}
	if r := final.Result(); r != "" {
		fmt.Println(r)
	}
	return nil
}

// runPicker runs the engine and the program side by side. The engine stops
// when the program exits; an engine error is shown by the program, which
// then quits.
func runPicker(ctx context.Context, engine *livesearch.Engine, observer *picker.Observer, p *tea.Program) (picker.Model, error) {
	g, gctx := errgroup.WithContext(ctx)
	engineCtx, stopEngine := context.WithCancel(gctx)
	defer stopEngine()

	g.Go(func() error {
		err := engine.Run(engineCtx)
		observer.EngineStopped(err)
		return err
	})

	var final tea.Model
	g.Go(func() error {
		defer stopEngine()
		m, err := p.Run()
		final = m
		if err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return picker.Model{}, err
	}
	m, ok := final.(picker.Model)
	if !ok {
		return picker.Model{}, fmt.Errorf("unexpected model type %T", final)
	}
	return m, nil
}

// openLogFile opens path for appending, creating its directory.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Compile-time check that the engine accepts the picker's input.
var _ picker.Input = (*livesearch.Engine)(nil)
