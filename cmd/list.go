package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photosweep/internal/models"
)

var (
	listJSON    bool
	listVerbose bool
	listSummary bool
	listLimit   int
	listOffset  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all duplicate groups",
	Long: `Display the duplicate groups found by the last completed scan.

Each group shows:
- Group ID and how the members matched (exact or similar)
- Photos in the group with resolution and size
- Which photo will be kept (the original) marked with ✓
- Which photos will be removed marked with ✗

Example:
  photosweep list              # Show first 10 groups (default)
  photosweep list -n 0         # Show all groups
  photosweep list -s           # Summary view (compact)
  photosweep list --offset 10  # Groups 11-20`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "Show full paths and capture dates")
	listCmd.Flags().BoolVarP(&listSummary, "summary", "s", false, "Show summary only (group counts and sizes)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 10, "Limit number of groups to display (0 = all)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip first N groups (for pagination)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx := cmd.Context()
	groups, err := lib.cache.DuplicateGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to get groups: %w", err)
	}

	if listJSON {
		if groups == nil {
			groups = []models.DuplicateGroup{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	}

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		fmt.Println("Run 'photosweep scan' to scan for duplicates.")
		return nil
	}

	records, err := lib.cache.Records(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	byID := make(map[string]models.CacheRecord, len(records))
	for _, r := range records {
		byID[r.Metadata.ID] = r
	}

	if listVerbose {
		// Resolve file paths; a missing library only loses the path column
		if _, err := lib.src.ListAllIdentifiers(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not list library")
		}
	}

	// Calculate totals
	totalDuplicates := 0
	var totalSavings int64
	for _, group := range groups {
		totalDuplicates += group.DuplicateCount()
		totalSavings += group.PotentialSavingsBytes
	}

	fmt.Printf("Found %d duplicate groups (%d duplicates, %s reclaimable)\n\n",
		len(groups), totalDuplicates, humanize.Bytes(uint64(totalSavings)))

	// Apply pagination
	totalGroups := len(groups)
	startIdx := listOffset
	if startIdx > len(groups) {
		startIdx = len(groups)
	}
	groups = groups[startIdx:]

	if listLimit > 0 && listLimit < len(groups) {
		groups = groups[:listLimit]
	}

	// Display groups
	if len(groups) == 0 {
		fmt.Printf("No groups in range (offset %d exceeds total %d)\n", listOffset, totalGroups)
	} else if listSummary {
		printSummaryTable(groups, byID)
	} else {
		for _, group := range groups {
			printGroup(lib, group, byID, listVerbose)
		}
	}

	// Show pagination info
	endIdx := startIdx + len(groups)
	if len(groups) > 0 {
		fmt.Printf("Showing groups %d-%d of %d\n", startIdx+1, endIdx, totalGroups)
		if endIdx < totalGroups {
			limitArg := ""
			if listLimit > 0 {
				limitArg = fmt.Sprintf(" -n %d", listLimit)
			}
			fmt.Printf("Next page: photosweep list%s --offset %d\n", limitArg, endIdx)
		}
	}

	fmt.Println()
	fmt.Println("Run 'photosweep clean --dry-run' to preview deletions")
	fmt.Println("Run 'photosweep clean' to remove duplicates")

	return nil
}

func printSummaryTable(groups []models.DuplicateGroup, byID map[string]models.CacheRecord) {
	fmt.Printf("%-20s  %-7s  %-8s  %-12s  %s\n", "Group", "Match", "Photos", "Reclaimable", "Keep (original)")
	fmt.Println(strings.Repeat("-", 80))

	for _, group := range groups {
		keepName := displayName(byID, group.OriginalID)
		if len(keepName) > 30 {
			keepName = keepName[:27] + "..."
		}

		fmt.Printf("%-20s  %-7s  %-8d  %-12s  %s\n",
			shortGroupID(group.ID), matchLabel(group), len(group.MemberIDs),
			humanize.Bytes(uint64(group.PotentialSavingsBytes)), keepName)
	}
	fmt.Println()
}

func printGroup(lib *library, group models.DuplicateGroup, byID map[string]models.CacheRecord, verbose bool) {
	fmt.Printf("Group %s (%d photos, %s, similarity %.2f)\n",
		shortGroupID(group.ID), len(group.MemberIDs), matchLabel(group), group.Similarity)
	fmt.Println(strings.Repeat("-", 60))

	for _, id := range group.MemberIDs {
		marker := "✗"
		if id == group.OriginalID {
			marker = "✓"
		}

		meta := byID[id].Metadata
		size := humanize.Bytes(uint64(meta.EstimatedBytes()))
		if meta.SizeIsEstimated() {
			size = "~" + size
		}

		if verbose {
			path, ok := lib.src.Path(id)
			if !ok {
				path = displayName(byID, id) + " (not found in library)"
			}
			fmt.Printf("  %s %s\n", marker, path)
			fmt.Printf("      ID: %s\n", id)
			fmt.Printf("      Resolution: %dx%d  Size: %s\n", meta.PixelWidth, meta.PixelHeight, size)
			if meta.CreationDate != nil {
				fmt.Printf("      Created: %s\n", meta.CreationDate.Format("2006-01-02 15:04:05"))
			}
		} else {
			fmt.Printf("  %s %-40s  %5dx%-5d  %8s\n",
				marker, shortenPath(displayName(byID, id), 40), meta.PixelWidth, meta.PixelHeight, size)
		}
	}
	fmt.Println()
}

func displayName(byID map[string]models.CacheRecord, id string) string {
	if r, ok := byID[id]; ok && r.Metadata.Filename != "" {
		return r.Metadata.Filename
	}
	return id
}

func matchLabel(group models.DuplicateGroup) string {
	if group.Exact {
		return "exact"
	}
	return "similar"
}

// shortGroupID trims the hash part of a group id for display
func shortGroupID(id string) string {
	prefix, rest, ok := strings.Cut(id, ":")
	if !ok || len(rest) <= 12 {
		return id
	}
	return prefix + ":" + rest[:12]
}

func shortenPath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}

	// Try to show filename and as much of the path as possible
	dir, file := filepath.Split(path)
	if len(file) >= maxLen-3 {
		return "..." + file[len(file)-(maxLen-3):]
	}

	remaining := maxLen - len(file) - 4 // 4 for ".../"
	if remaining > 0 && len(dir) > remaining {
		dir = dir[len(dir)-remaining:]
	}
	return "..." + dir + file
}
