package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photosweep/internal/models"
	"photosweep/internal/scan"
)

var (
	scanFull   bool
	scanRehash bool
	scanJSON   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the photo library for duplicates and issues",
	Long: `Sync the library with the cache, then scan it for problems.

The scan will:
1. Add new photos to the cache and drop deleted ones
2. Hash every photo that has not been scanned yet (all photos with --full)
3. Flag corrupted files, screenshots, oversized photos and incomplete downloads
4. Group exact and visually similar copies and pick the original of each group
5. Save the results so later scans only look at new photos

Press Ctrl+C to stop early; the photos processed so far are still reported
but nothing is saved.

Example:
  photosweep scan --library ./photos
  photosweep scan --full --threshold 0.95
  photosweep scan --duplicate-mode exact_only`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanFull, "full", false, "Rescan every photo, not only new ones")
	scanCmd.Flags().BoolVar(&scanRehash, "rehash", false, "Ignore cached hashes")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx := cmd.Context()
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := lib.syncer.Sync(sigCtx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	mode := models.ScanIncremental
	if scanFull {
		mode = models.ScanFull
	}
	opts := cfg.ScanOptions(mode)
	opts.Rehash = scanRehash

	if !scanJSON {
		fmt.Printf("Library:   %s\n", lib.src.Root())
		fmt.Printf("Photos:    %d (%d new, %d removed)\n", report.Total, report.Added, report.Removed)
		fmt.Printf("Mode:      %s, %s\n", opts.Mode, opts.DuplicateMode)
		fmt.Printf("Threshold: %.2f\n", opts.SimilarityThreshold)
		fmt.Printf("Workers:   %d\n\n", cfg.Scan.Workers)
	}

	pass := lib.orch.Start(ctx, opts)
	defer pass.Close()

	// The first interrupt cancels the pass; its partial result is still printed
	go func() {
		select {
		case <-sigCtx.Done():
			pass.Cancel()
		case <-pass.Done():
		}
	}()

	lastLine := ""
	clearLine := func() {
		if lastLine != "" {
			fmt.Print("\r" + strings.Repeat(" ", len(lastLine)) + "\r")
			lastLine = ""
		}
	}

	for u := range pass.Updates() {
		switch u.Type {
		case models.UpdateProgress:
			if scanJSON {
				continue
			}
			clearLine()
			lastLine = fmt.Sprintf("%-10s %d/%d", phaseLabel(u.Phase), u.Current, u.Total)
			fmt.Print(lastLine)
		case models.UpdateIssueFound:
			logger.Debug().
				Str("asset_id", u.Issue.AssetID).
				Str("kind", string(u.Issue.Kind)).
				Msg(u.Issue.Message)
		case models.UpdateDuplicateGroup:
			logger.Debug().
				Str("group_id", u.Group.ID).
				Int("members", len(u.Group.MemberIDs)).
				Msg("duplicate group found")
		}
	}
	clearLine()

	result, err := pass.Result()
	if err != nil && !errors.Is(err, scan.ErrCancelled) {
		return fmt.Errorf("scan failed: %w", err)
	}

	if scanJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if errors.Is(err, scan.ErrCancelled) {
		fmt.Println("=== Scan Cancelled (nothing saved) ===")
		if result == nil {
			fmt.Println("No photos were processed.")
			return nil
		}
	} else {
		fmt.Println("=== Scan Complete ===")
	}
	printResultSummary(result)

	if len(result.DuplicateGroups) > 0 && err == nil {
		fmt.Println()
		fmt.Println("Run 'photosweep list' to see duplicate groups")
		fmt.Println("Run 'photosweep clean --dry-run' to preview deletions")
	}

	return nil
}

func printResultSummary(result *models.ScanResult) {
	counts := result.IssueCounts()

	fmt.Printf("Total photos:      %d\n", result.TotalPhotos)
	fmt.Printf("Processed:         %d\n", result.Processed)
	fmt.Printf("Duplicate groups:  %d\n", len(result.DuplicateGroups))
	for _, kind := range models.IssueKinds {
		if counts[kind] > 0 {
			fmt.Printf("%-18s %d\n", issueLabel(kind)+":", counts[kind])
		}
	}
	fmt.Printf("Reclaimable:       %s\n", humanize.Bytes(uint64(result.PotentialSavings())))
}

func issueLabel(kind models.IssueKind) string {
	switch kind {
	case models.IssueDownloadIncomplete:
		return "Not downloaded"
	case models.IssueCorrupted:
		return "Corrupted"
	case models.IssueScreenshot:
		return "Screenshots"
	case models.IssueOversized:
		return "Oversized"
	case models.IssueDuplicate:
		return "Duplicates"
	}
	return string(kind)
}

func phaseLabel(p models.Phase) string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:]) + ":"
}
