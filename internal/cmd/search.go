package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runger/livesearch/internal/livesearch"
	"github.com/runger/livesearch/internal/picker"
	"github.com/runger/livesearch/internal/storage"
)

var (
	searchJSON     bool
	searchOffline  bool
	searchLanguage string
	searchLimit    int
)

var searchCmd = &cobra.Command{
	Use:     "search <term>",
	Short:   "Fetch once and print cached matches",
	GroupID: groupCore,
	Long: `Search GitHub repositories whose name contains <term>, cache the
results, and print every cached repository that matches.

The fetch fails soft: when GitHub is unreachable or rate limited, the
cached matches are printed anyway.

Examples:
  livesearch search reactivex                 # First configured language
  livesearch search --language Go cobra       # Restrict to Go
  livesearch search --json --offline rx       # Cache only, as JSON`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().BoolVar(&searchOffline, "offline", false, "skip the fetch and only read the cache")
	searchCmd.Flags().StringVarP(&searchLanguage, "language", "l", "", "language filter (default: first configured language)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (0 = all)")
	searchCmd.Flags().StringVar(&colorMode, "color", "auto", "color output: auto, always, or never")

	rootCmd.AddCommand(searchCmd)
}

type searchOutput struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Language string `json:"language,omitempty"`
}

type searchResponse struct {
	Term      string         `json:"term"`
	Language  string         `json:"language"`
	Fetched   int            `json:"fetched"`
	Results   []searchOutput `json:"results"`
	Total     int            `json:"total"`
	Truncated bool           `json:"truncated"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	applyColorMode()

	a, err := openApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	criteria := livesearch.Criteria{Term: args[0], Language: a.resolveLanguage(searchLanguage)}
	if !criteria.Active(a.cfg.Search.MinTermLength) {
		return fmt.Errorf("search term must be at least %d characters", a.cfg.Search.MinTermLength)
	}

	ctx := commandContext(cmd)

	// Same step the live pipeline runs for each throttled change.
	fetched := 0
	if !searchOffline {
		results := a.fetcher.Fetch(ctx, criteria.Term, criteria.Language)
		if err := a.store.Upsert(ctx, results); err != nil {
			return fmt.Errorf("failed to cache results: %w", err)
		}
		fetched = len(results)
	}

	rows, err := a.store.Query(ctx, criteria.Predicate())
	if err != nil {
		return err
	}
	total := len(rows)
	truncated := false
	if searchLimit > 0 && len(rows) > searchLimit {
		rows = rows[:searchLimit]
		truncated = true
	}

	if searchJSON {
		return writeSearchJSON(criteria, fetched, rows, total, truncated)
	}

	if len(rows) == 0 {
		fmt.Println("No cached matches.")
		return nil
	}

	width := terminalWidth()
	for _, r := range rows {
		fmt.Printf("%s%s%s\n", colorCyan, picker.DisplayName(r.FullName, width), colorReset)
	}
	if truncated {
		fmt.Printf("%s... %d more%s\n", colorDim, total-len(rows), colorReset)
	}

	return nil
}

func writeSearchJSON(c livesearch.Criteria, fetched int, rows []storage.SearchResult, total int, truncated bool) error {
	output := make([]searchOutput, len(rows))
	for i, r := range rows {
		output[i] = searchOutput{
			ID:       r.ID,
			FullName: r.FullName,
			Language: r.LanguageOrEmpty(),
		}
	}

	resp := searchResponse{
		Term:      c.Term,
		Language:  c.Language,
		Fetched:   fetched,
		Results:   output,
		Total:     total,
		Truncated: truncated,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}
