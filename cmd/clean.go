package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photosweep/internal/fileutil"
	"photosweep/internal/models"
	"photosweep/internal/scan"
)

var (
	dryRun    bool
	moveTo    string
	permanent bool
	noConfirm bool
	groupIDs  []string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove or move duplicate photos",
	Long: `Remove duplicate photos, keeping the original of each group.

The clean command will:
1. Sync the library so photos deleted elsewhere are skipped
2. Keep the original of each group (highest resolution, then oldest)
3. Move the other copies to trash (default) or delete them permanently

The default action comes from delete.mode in the config file.

Options:
  --dry-run     Preview what would be removed without actually removing
  --permanent   Delete files permanently instead of moving to trash
  --move-to     Move duplicates to a specific folder
  --yes         Skip confirmation prompt
  --group       Group IDs (or prefixes shown by list) to clean

Example:
  photosweep clean                           # Move to trash (default)
  photosweep clean --permanent               # Delete permanently
  photosweep clean --move-to=./backup        # Move to specific folder
  photosweep clean --dry-run                 # Preview only
  photosweep clean --group=sha256:3f2a9c1b   # Clean only one group`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without removing")
	cleanCmd.Flags().BoolVar(&permanent, "permanent", false, "Delete permanently instead of moving to trash")
	cleanCmd.Flags().StringVar(&moveTo, "move-to", "", "Move duplicates to this folder")
	cleanCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
	cleanCmd.Flags().StringSliceVarP(&groupIDs, "group", "g", nil, "Group IDs to clean (can be specified multiple times)")
	cleanCmd.MarkFlagsMutuallyExclusive("permanent", "move-to")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	remover, err := cfg.Remover()
	if err != nil {
		return err
	}
	if moveTo != "" {
		remover = fileutil.Remover{Mode: fileutil.DeleteMoveTo, MoveTo: moveTo}
	} else if permanent {
		remover = fileutil.Remover{Mode: fileutil.DeletePermanent}
	}

	lib, err := openLibraryWith(remover)
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx := cmd.Context()

	// Resolves file paths and prunes groups whose members are gone
	if _, err := lib.syncer.Sync(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	groups, err := lib.cache.DuplicateGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to get groups: %w", err)
	}

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		return nil
	}

	// Filter groups if --group is specified
	if len(groupIDs) > 0 {
		groups = selectGroups(groups, groupIDs)
		if len(groups) == 0 {
			fmt.Printf("No matching groups found for IDs: %v\n", groupIDs)
			fmt.Println("Run 'photosweep list' to see available group IDs.")
			return nil
		}
		fmt.Printf("Processing %d selected group(s)\n\n", len(groups))
	}

	// Collect files to remove
	var toRemove []string
	var totalSize int64
	for _, group := range groups {
		for _, id := range group.Duplicates() {
			if path, ok := lib.src.Path(id); ok {
				toRemove = append(toRemove, path)
			}
		}
		totalSize += group.PotentialSavingsBytes
	}

	if len(toRemove) == 0 {
		fmt.Println("No files to remove (files may have been already deleted).")
		return nil
	}
	sort.Strings(toRemove)

	action := remover.Describe()
	fmt.Printf("Will %s %d files (%s)\n\n", action, len(toRemove), humanize.Bytes(uint64(totalSize)))

	if dryRun {
		fmt.Println("Files to be removed:")
		for _, path := range toRemove {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
		fmt.Println("(Dry run - no files were modified)")
		fmt.Println("Run without --dry-run to actually remove files.")
		return nil
	}

	// Confirm unless --yes flag is set
	if !noConfirm {
		fmt.Printf("Are you sure you want to %s %d files? [y/N]: ", action, len(toRemove))
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Create move-to directory if needed
	if remover.Mode == fileutil.DeleteMoveTo {
		if err := os.MkdirAll(remover.MoveTo, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", remover.MoveTo, err)
		}
	}

	report, err := scan.Clean(ctx, lib.src, lib.cache, groups)
	if err != nil {
		return err
	}

	failedIDs := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	for _, id := range failedIDs {
		fmt.Fprintf(os.Stderr, "Failed to process %s: %v\n", id, report.Failed[id])
	}

	fmt.Println()
	switch remover.Mode {
	case fileutil.DeleteMoveTo:
		fmt.Printf("Moved %d files to %s\n", len(report.Deleted), remover.MoveTo)
	case fileutil.DeletePermanent:
		fmt.Printf("Permanently deleted %d files\n", len(report.Deleted))
	default:
		fmt.Printf("Moved %d files to trash\n", len(report.Deleted))
	}
	if len(report.Failed) > 0 {
		fmt.Printf("Failed: %d files\n", len(report.Failed))
	}
	fmt.Printf("Space reclaimed: %s\n", humanize.Bytes(uint64(report.FreedBytes)))

	return nil
}

// selectGroups keeps the groups whose id equals or starts with one of ids
func selectGroups(groups []models.DuplicateGroup, ids []string) []models.DuplicateGroup {
	var out []models.DuplicateGroup
	for _, group := range groups {
		for _, id := range ids {
			if group.ID == id || strings.HasPrefix(group.ID, id) {
				out = append(out, group)
				break
			}
		}
	}
	return out
}
