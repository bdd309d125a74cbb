package models

import (
	"sort"
	"time"
)

// ResourceKind identifies one stored representation of an asset
type ResourceKind string

const (
	ResourcePhoto         ResourceKind = "photo"
	ResourceFullSizePhoto ResourceKind = "full_size_photo"
	ResourceAlternate     ResourceKind = "alternate_photo"
	ResourcePairedVideo   ResourceKind = "paired_video"
	ResourceAdjustment    ResourceKind = "adjustment_data"
)

// Resource describes one resource attached to an asset and whether its bytes
// are present on this device
type Resource struct {
	Kind             ResourceKind `json:"kind"`
	LocallyAvailable bool         `json:"locally_available"`
}

// MediaSubtype is a bit set of media subtype flags reported by the source
type MediaSubtype uint32

const (
	SubtypeScreenshot MediaSubtype = 1 << iota
	SubtypePanorama
	SubtypeHDR
	SubtypeLivePhoto
	SubtypeDepthEffect
)

// Has reports whether all bits of flag are set
func (m MediaSubtype) Has(flag MediaSubtype) bool {
	return m&flag == flag
}

// AssetMetadata is an immutable snapshot of one library item
type AssetMetadata struct {
	ID           string       `json:"id"`
	Filename     string       `json:"filename,omitempty"`
	PixelWidth   int          `json:"pixel_width"`
	PixelHeight  int          `json:"pixel_height"`
	CreationDate *time.Time   `json:"creation_date,omitempty"`
	ByteCount    int64        `json:"byte_count"`
	Resources    []Resource   `json:"resources,omitempty"`
	Subtypes     MediaSubtype `json:"subtypes,omitempty"`
}

// Pixels returns width * height
func (m AssetMetadata) Pixels() int64 {
	return int64(m.PixelWidth) * int64(m.PixelHeight)
}

// BytesPerPixel is an empirical compressed-bytes-per-pixel ratio used when no
// measured size is available. It is a heuristic, not ground truth.
const BytesPerPixel = 0.4

// EstimatedBytes returns ByteCount when the source reported one, otherwise
// the heuristic width * height * BytesPerPixel
func (m AssetMetadata) EstimatedBytes() int64 {
	if m.ByteCount > 0 {
		return m.ByteCount
	}
	return int64(float64(m.Pixels()) * BytesPerPixel)
}

// SizeIsEstimated reports whether EstimatedBytes falls back to the heuristic
func (m AssetMetadata) SizeIsEstimated() bool {
	return m.ByteCount <= 0
}

// AssetSignature holds the expensive per-asset data computed during a pass
type AssetSignature struct {
	ExactHash         string `json:"exact_hash,omitempty"` // hex SHA-256 of the primary resource
	Perceptual        uint64 `json:"perceptual,omitempty"`
	HasPerceptual     bool   `json:"has_perceptual"`
	MeasuredByteCount int64  `json:"measured_byte_count"`
}

// Comparable reports whether the signature can take part in duplicate grouping
func (s *AssetSignature) Comparable() bool {
	return s != nil && (s.ExactHash != "" || s.HasPerceptual)
}

// DuplicateGroup is a set of assets considered copies of one another
type DuplicateGroup struct {
	ID                    string   `json:"id"`
	MemberIDs             []string `json:"member_ids"` // original first
	OriginalID            string   `json:"original_id"`
	Similarity            float64  `json:"similarity"`
	Exact                 bool     `json:"exact"` // an exact-hash match contributed
	PotentialSavingsBytes int64    `json:"potential_savings_bytes"`
}

// DuplicateCount returns the number of members that are not the original
func (g DuplicateGroup) DuplicateCount() int {
	return len(g.MemberIDs) - 1
}

// HasOriginal reports whether the original is one of at least two members.
// A group failing this must not be cleaned.
func (g DuplicateGroup) HasOriginal() bool {
	if len(g.MemberIDs) < 2 {
		return false
	}
	for _, id := range g.MemberIDs {
		if id == g.OriginalID {
			return true
		}
	}
	return false
}

// Duplicates returns the member ids that would be removed
func (g DuplicateGroup) Duplicates() []string {
	out := make([]string, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if id != g.OriginalID {
			out = append(out, id)
		}
	}
	return out
}

// Issues returns one duplicate issue per non-original member
func (g DuplicateGroup) Issues() []Issue {
	dups := g.Duplicates()
	out := make([]Issue, 0, len(dups))
	for _, id := range dups {
		out = append(out, Issue{
			AssetID:  id,
			Kind:     IssueDuplicate,
			Severity: SeverityInfo,
			Message:  "duplicate of " + g.OriginalID,
		})
	}
	return out
}

// IssueKind classifies a detected problem
type IssueKind string

const (
	IssueDownloadIncomplete IssueKind = "download_incomplete"
	IssueCorrupted          IssueKind = "corrupted"
	IssueScreenshot         IssueKind = "screenshot"
	IssueOversized          IssueKind = "oversized"
	IssueDuplicate          IssueKind = "duplicate"
)

// IssueKinds lists every kind in display order
var IssueKinds = []IssueKind{
	IssueDownloadIncomplete,
	IssueCorrupted,
	IssueScreenshot,
	IssueOversized,
	IssueDuplicate,
}

// Severity of an issue
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue is a single finding about one asset
type Issue struct {
	AssetID  string    `json:"asset_id"`
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	ByteSize int64     `json:"byte_size,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// ScanStatus is the lifecycle state of a cache row
type ScanStatus string

const (
	StatusPending ScanStatus = "pending"
	StatusScanned ScanStatus = "scanned"
	StatusFailed  ScanStatus = "failed"
)

// CacheRecord is the persisted state of one asset
type CacheRecord struct {
	Metadata      AssetMetadata   `json:"metadata"`
	Status        ScanStatus      `json:"status"`
	Signature     *AssetSignature `json:"signature,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	LastScannedAt *time.Time      `json:"last_scanned_at,omitempty"`
}

// ScanResult is the immutable output of one pass
type ScanResult struct {
	TotalPhotos     int              `json:"total_photos"`
	Processed       int              `json:"processed"`
	Issues          []Issue          `json:"issues"`
	DuplicateGroups []DuplicateGroup `json:"duplicate_groups"`
	ScannedAt       time.Time        `json:"scanned_at"`
	Generation      int64            `json:"generation"`
}

// IssueCounts returns the number of issues per kind
func (r *ScanResult) IssueCounts() map[IssueKind]int {
	counts := make(map[IssueKind]int)
	for _, issue := range r.Issues {
		counts[issue.Kind]++
	}
	return counts
}

// PotentialSavings sums the savings of every duplicate group
func (r *ScanResult) PotentialSavings() int64 {
	var total int64
	for _, g := range r.DuplicateGroups {
		total += g.PotentialSavingsBytes
	}
	return total
}

// FilterLargeFiles derives a new result whose oversized issues are restricted
// to byte sizes of at least minBytes. The receiver is left untouched.
func (r *ScanResult) FilterLargeFiles(minBytes int64) *ScanResult {
	out := *r
	out.Issues = make([]Issue, 0, len(r.Issues))
	for _, issue := range r.Issues {
		if issue.Kind == IssueOversized && issue.ByteSize < minBytes {
			continue
		}
		out.Issues = append(out.Issues, issue)
	}
	out.DuplicateGroups = append([]DuplicateGroup(nil), r.DuplicateGroups...)
	return &out
}

// SortIssues orders issues by asset id, then kind, for stable comparisons
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].AssetID != issues[j].AssetID {
			return issues[i].AssetID < issues[j].AssetID
		}
		return issues[i].Kind < issues[j].Kind
	})
}
