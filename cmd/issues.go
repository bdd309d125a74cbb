package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photosweep/internal/issues"
	"photosweep/internal/models"
	"photosweep/internal/storage"
)

var (
	issuesKind  string
	issuesMinMB int64
	issuesJSON  bool
	issuesLimit int
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List problems found by the last scan",
	Long: `Display the issues found by the last completed scan.

Issue kinds:
  download_incomplete  Original is not stored on this device
  corrupted            File could not be read or decoded
  screenshot           Photo looks like a screenshot
  oversized            File is larger than the large file threshold
  duplicate            Copy of another photo

Example:
  photosweep issues                      # All issues
  photosweep issues --kind screenshot    # Only screenshots
  photosweep issues --kind oversized --min-mb 50`,
	Args: cobra.NoArgs,
	RunE: runIssues,
}

func init() {
	issuesCmd.Flags().StringVarP(&issuesKind, "kind", "k", "", "Only show issues of this kind")
	issuesCmd.Flags().Int64Var(&issuesMinMB, "min-mb", 0, "Only show oversized photos of at least this many MB")
	issuesCmd.Flags().BoolVar(&issuesJSON, "json", false, "Output in JSON format")
	issuesCmd.Flags().IntVarP(&issuesLimit, "limit", "n", 50, "Limit number of issues to display (0 = all)")
	rootCmd.AddCommand(issuesCmd)
}

func runIssues(cmd *cobra.Command, args []string) error {
	kind := models.IssueKind(issuesKind)
	if kind != "" && !validKind(kind) {
		return fmt.Errorf("unknown issue kind %q", issuesKind)
	}

	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	result, err := lib.cache.LastResult(cmd.Context())
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Println("No completed scan found.")
		fmt.Println("Run 'photosweep scan' first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load result: %w", err)
	}

	if issuesMinMB > 0 {
		result = result.FilterLargeFiles(issuesMinMB * issues.MB)
	}

	found := make([]models.Issue, 0, len(result.Issues))
	for _, issue := range result.Issues {
		if kind == "" || issue.Kind == kind {
			found = append(found, issue)
		}
	}

	if issuesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}

	if len(found) == 0 {
		fmt.Println("No issues found.")
		return nil
	}

	records, err := lib.cache.Records(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	byID := make(map[string]models.CacheRecord, len(records))
	for _, r := range records {
		byID[r.Metadata.ID] = r
	}

	fmt.Printf("Scanned %s: %d photos, %d issues\n\n",
		humanize.Time(result.ScannedAt), result.TotalPhotos, len(found))

	shown := found
	if issuesLimit > 0 && issuesLimit < len(shown) {
		shown = shown[:issuesLimit]
	}

	fmt.Printf("%-20s  %-8s  %-36s  %10s  %s\n", "Kind", "Severity", "Photo", "Size", "Details")
	fmt.Println(strings.Repeat("-", 100))
	for _, issue := range shown {
		size := ""
		if issue.ByteSize > 0 {
			size = humanize.Bytes(uint64(issue.ByteSize))
		}
		fmt.Printf("%-20s  %-8s  %-36s  %10s  %s\n",
			issue.Kind, issue.Severity, shortenPath(displayName(byID, issue.AssetID), 36), size, issue.Message)
	}

	if len(shown) < len(found) {
		fmt.Printf("\n... and %d more (use -n 0 to show all)\n", len(found)-len(shown))
	}

	return nil
}

func validKind(kind models.IssueKind) bool {
	for _, k := range models.IssueKinds {
		if k == kind {
			return true
		}
	}
	return false
}
