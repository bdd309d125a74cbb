// Package issues classifies single assets against the non-duplicate issue
// kinds. Every detector is a pure function of the asset metadata.
package issues

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"photosweep/internal/models"
)

// MB is one decimal megabyte
const MB int64 = 1000 * 1000

// Large file threshold options in bytes
const (
	Size5MB   = 5 * MB
	Size10MB  = 10 * MB
	Size25MB  = 25 * MB
	Size50MB  = 50 * MB
	Size100MB = 100 * MB

	DefaultLargeFileThreshold = Size10MB
)

// SizeOptions lists the accepted large file thresholds
var SizeOptions = []int64{Size5MB, Size10MB, Size25MB, Size50MB, Size100MB}

// ValidSizeOption reports whether v is one of SizeOptions
func ValidSizeOption(v int64) bool {
	for _, opt := range SizeOptions {
		if opt == v {
			return true
		}
	}
	return false
}

// Detector runs the per-asset classifiers
type Detector struct {
	largeFileThreshold int64
}

// NewDetector creates a Detector. A non-positive threshold uses the default.
func NewDetector(largeFileThreshold int64) *Detector {
	if largeFileThreshold <= 0 {
		largeFileThreshold = DefaultLargeFileThreshold
	}
	return &Detector{largeFileThreshold: largeFileThreshold}
}

// Detect returns every issue found for the asset
func (d *Detector) Detect(meta models.AssetMetadata) []models.Issue {
	var found []models.Issue
	for _, fn := range []func(models.AssetMetadata) *models.Issue{
		DetectIncompleteDownload,
		DetectCorrupted,
		DetectScreenshot,
		d.DetectOversized,
	} {
		if issue := fn(meta); issue != nil {
			found = append(found, *issue)
		}
	}
	return found
}

// DetectIncompleteDownload flags assets that have resources but none of them
// stored locally
func DetectIncompleteDownload(meta models.AssetMetadata) *models.Issue {
	if len(meta.Resources) == 0 {
		return nil
	}

	remote := make(map[string]bool)
	for _, r := range meta.Resources {
		if r.LocallyAvailable {
			return nil
		}
		remote[string(r.Kind)] = true
	}

	kinds := make([]string, 0, len(remote))
	for k := range remote {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	return &models.Issue{
		AssetID:  meta.ID,
		Kind:     models.IssueDownloadIncomplete,
		Severity: models.SeverityWarning,
		Message:  "only available remotely: " + strings.Join(kinds, ", "),
	}
}

// DetectCorrupted flags assets with no resources or zero dimensions
func DetectCorrupted(meta models.AssetMetadata) *models.Issue {
	var reason string
	switch {
	case len(meta.Resources) == 0:
		reason = "asset has no resources"
	case meta.PixelWidth == 0 || meta.PixelHeight == 0:
		reason = fmt.Sprintf("invalid dimensions %dx%d", meta.PixelWidth, meta.PixelHeight)
	default:
		return nil
	}

	return &models.Issue{
		AssetID:  meta.ID,
		Kind:     models.IssueCorrupted,
		Severity: models.SeverityCritical,
		Message:  reason,
	}
}

// DetectScreenshot flags assets carrying the screenshot subtype
func DetectScreenshot(meta models.AssetMetadata) *models.Issue {
	if !meta.Subtypes.Has(models.SubtypeScreenshot) {
		return nil
	}
	return &models.Issue{
		AssetID:  meta.ID,
		Kind:     models.IssueScreenshot,
		Severity: models.SeverityInfo,
		ByteSize: meta.EstimatedBytes(),
		Message:  sizeLabel(meta),
	}
}

// DetectOversized flags assets whose size reaches the large file threshold
func (d *Detector) DetectOversized(meta models.AssetMetadata) *models.Issue {
	size := meta.EstimatedBytes()
	if size < d.largeFileThreshold {
		return nil
	}
	return &models.Issue{
		AssetID:  meta.ID,
		Kind:     models.IssueOversized,
		Severity: models.SeverityInfo,
		ByteSize: size,
		Message:  fmt.Sprintf("%s (threshold %s)", sizeLabel(meta), humanize.Bytes(uint64(d.largeFileThreshold))),
	}
}

// sizeLabel formats the asset size, marking heuristic estimates
func sizeLabel(meta models.AssetMetadata) string {
	size := humanize.Bytes(uint64(meta.EstimatedBytes()))
	if meta.SizeIsEstimated() {
		return fmt.Sprintf("~%s estimated from %dx%d pixels", size, meta.PixelWidth, meta.PixelHeight)
	}
	return size
}
