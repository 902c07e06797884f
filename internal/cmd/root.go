package cmd

import (
	"github.com/spf13/cobra"
)

// Command groups shown in help output.
const (
	groupCore  = "core"
	groupSetup = "setup"
)

var rootCmd = &cobra.Command{
	Use:   "livesearch",
	Short: "live GitHub repository search backed by a local cache",
	Long: `livesearch - live GitHub repository search backed by a local cache
  - type a name, pick a language, results appear as they are cached
  - every search is stored locally and answered instantly next time`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Search:"},
		&cobra.Group{ID: groupSetup, Title: "Setup:"},
	)
	rootCmd.AddCommand(versionCmd)
}
