package models

import "fmt"

// DuplicateMode selects which comparisons the grouping engine performs
type DuplicateMode string

const (
	DuplicateExactOnly      DuplicateMode = "exact_only"
	DuplicateIncludeSimilar DuplicateMode = "include_similar"
)

// ScanMode selects which cache rows a pass processes
type ScanMode string

const (
	ScanFull        ScanMode = "full"
	ScanIncremental ScanMode = "incremental"
)

// ScanOptions is the externally owned configuration for one pass
type ScanOptions struct {
	Mode                    ScanMode      `json:"mode"`
	DuplicateMode           DuplicateMode `json:"duplicate_mode"`
	SimilarityThreshold     float64       `json:"similarity_threshold"`
	LargeFileThresholdBytes int64         `json:"large_file_threshold_bytes"`
	Rehash                  bool          `json:"rehash,omitempty"` // ignore cached signatures
}

// Phase of a scan pass
type Phase string

const (
	PhasePreparing Phase = "preparing"
	PhaseScanning  Phase = "scanning"
	PhaseGrouping  Phase = "grouping"
	PhaseSaving    Phase = "saving"
)

// UpdateType tags a ScanUpdate variant
type UpdateType string

const (
	UpdateProgress       UpdateType = "progress"
	UpdateIssueFound     UpdateType = "issue_found"
	UpdateSummary        UpdateType = "summary_updated"
	UpdateDuplicateGroup UpdateType = "duplicate_group_found"
	UpdateCompleted      UpdateType = "completed"
	UpdateCancelled      UpdateType = "cancelled"
	UpdateFailed         UpdateType = "failed"
)

// ScanUpdate is one event on a scan stream. Only the fields of the variant
// named by Type are set.
type ScanUpdate struct {
	Type UpdateType `json:"type"`

	// progress
	Current int   `json:"current,omitempty"`
	Total   int   `json:"total,omitempty"`
	Phase   Phase `json:"phase,omitempty"`

	// issue_found
	Issue *Issue `json:"issue,omitempty"`

	// summary_updated
	Kind  IssueKind `json:"kind,omitempty"`
	Count int       `json:"count,omitempty"`

	// duplicate_group_found
	Group *DuplicateGroup `json:"group,omitempty"`

	// completed, cancelled (Result may be nil when nothing was discovered)
	Result *ScanResult `json:"result,omitempty"`

	// failed
	Err error `json:"-"`
}

// Terminal reports whether the update ends the stream
func (u ScanUpdate) Terminal() bool {
	switch u.Type {
	case UpdateCompleted, UpdateCancelled, UpdateFailed:
		return true
	}
	return false
}

// Summary returns a human readable description of a terminal update
func (u ScanUpdate) Summary() string {
	switch u.Type {
	case UpdateCompleted:
		return fmt.Sprintf("scan completed: %d photos, %d issues, %d duplicate groups",
			u.Result.TotalPhotos, len(u.Result.Issues), len(u.Result.DuplicateGroups))
	case UpdateCancelled:
		if u.Result == nil {
			return "scan cancelled before any item was processed"
		}
		return fmt.Sprintf("scan cancelled after %d of %d items", u.Result.Processed, u.Result.TotalPhotos)
	case UpdateFailed:
		return fmt.Sprintf("scan failed: %v", u.Err)
	}
	return string(u.Type)
}

// ProgressUpdate builds a progress event
func ProgressUpdate(current, total int, phase Phase) ScanUpdate {
	return ScanUpdate{Type: UpdateProgress, Current: current, Total: total, Phase: phase}
}
