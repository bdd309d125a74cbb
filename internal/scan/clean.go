package scan

import (
	"context"
	"fmt"
	"sort"

	"photosweep/internal/models"
	"photosweep/internal/source"
)

// Purger removes cache rows
type Purger interface {
	Delete(ctx context.Context, ids []string) (int64, error)
}

// CleanReport summarizes a Clean call
type CleanReport struct {
	Deleted []string
	Failed  map[string]error
	// Skipped holds groups refused because their original is not a member
	Skipped []string
	// FreedBytes counts the savings of groups whose duplicates were all removed
	FreedBytes int64
}

// Clean deletes every non-original member of groups through the source and
// purges the deleted assets from the cache. Per-asset failures are reported,
// not returned. Groups whose original is not among their members are skipped.
func Clean(ctx context.Context, src source.AssetSource, cache Purger, groups []models.DuplicateGroup) (CleanReport, error) {
	report := CleanReport{Failed: make(map[string]error)}

	valid := make([]models.DuplicateGroup, 0, len(groups))
	for _, g := range groups {
		if !g.HasOriginal() {
			report.Skipped = append(report.Skipped, g.ID)
			continue
		}
		valid = append(valid, g)
	}
	groups = valid

	var ids []string
	for _, g := range groups {
		ids = append(ids, g.Duplicates()...)
	}
	if len(ids) == 0 {
		return report, nil
	}

	failed, err := src.DeleteAssets(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("failed to delete assets: %w", err)
	}
	for id, ferr := range failed {
		report.Failed[id] = ferr
	}

	for _, id := range ids {
		if _, ok := failed[id]; !ok {
			report.Deleted = append(report.Deleted, id)
		}
	}
	sort.Strings(report.Deleted)

	if len(report.Deleted) > 0 {
		if _, err := cache.Delete(ctx, report.Deleted); err != nil {
			return report, fmt.Errorf("failed to purge cache: %w", err)
		}
	}

	for _, g := range groups {
		clean := true
		for _, id := range g.Duplicates() {
			if _, ok := failed[id]; ok {
				clean = false
				break
			}
		}
		if clean {
			report.FreedBytes += g.PotentialSavingsBytes
		}
	}

	return report, nil
}
