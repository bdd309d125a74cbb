package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the cache with the photo library",
	Long: `Compare the photo library with the cache without hashing anything.

New photos are added to the cache as pending and will be picked up by the
next incremental scan. Photos that no longer exist are removed from the
cache together with their issues and duplicate groups.

Example:
  photosweep sync --library ./photos`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	report, err := lib.syncer.Sync(cmd.Context())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Library: %s\n", lib.src.Root())
	fmt.Printf("Photos:  %d\n", report.Total)
	fmt.Printf("Added:   %d\n", report.Added)
	fmt.Printf("Removed: %d\n", report.Removed)

	if report.Added > 0 {
		fmt.Println()
		fmt.Println("Run 'photosweep scan' to scan the new photos")
	}

	return nil
}
