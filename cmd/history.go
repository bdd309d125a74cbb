package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show previous scans",
	Long: `Display the completed scans recorded in the cache, newest first.

Example:
  photosweep history
  photosweep history -n 50`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of scans to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	entries, err := lib.cache.History(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No scans recorded yet.")
		return nil
	}

	fmt.Printf("%-4s  %-19s  %-16s  %-11s  %8s  %9s  %6s  %6s  %10s\n",
		"Gen", "Scanned", "When", "Mode", "Photos", "Processed", "Issues", "Groups", "Duplicates")
	fmt.Println(strings.Repeat("-", 105))
	for _, e := range entries {
		fmt.Printf("%-4d  %-19s  %-16s  %-11s  %8d  %9d  %6d  %6d  %10d\n",
			e.Generation, e.ScannedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(e.ScannedAt),
			e.Mode, e.TotalAssets, e.Processed, e.TotalIssues, e.TotalGroups, e.TotalDuplicates)
	}

	return nil
}
