package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Short:   "Inspect the local result cache",
	GroupID: groupSetup,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached repositories and the cache location",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, paths, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	store, err := openStore(cfg, paths, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.Count(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("failed to count cached results: %w", err)
	}

	dbPath := cfg.DatabasePath(paths)
	size := colorDim + "(unknown)" + colorReset
	if info, err := os.Stat(dbPath); err == nil {
		size = formatSize(info.Size())
	}

	fmt.Printf("%sResult Cache%s\n", colorBold, colorReset)
	fmt.Printf("  %srepositories%s = %d\n", colorCyan, colorReset, count)
	fmt.Printf("  %ssize%s         = %s\n", colorCyan, colorReset, size)
	fmt.Printf("  %spath%s         = %s\n", colorCyan, colorReset, dbPath)
	return nil
}

// formatSize renders a byte count with a binary unit.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
