package match

import (
	"sort"
	"time"
)

// Candidate is anything the original selector can rank
type Candidate interface {
	CandidateID() string
	CandidatePixels() int64
	CandidateBytes() int64
	CandidateCreated() *time.Time
}

// SortOriginalFirst returns a copy of candidates ordered best-first; the
// first element is the original to keep. The order is total, so any
// permutation of the same input produces the same output:
//  1. higher resolution
//  2. larger byte count
//  3. earlier creation date (missing dates rank last)
//  4. smaller id
func SortOriginalFirst[T Candidate](candidates []T) []T {
	sorted := make([]T, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return better(sorted[i], sorted[j])
	})
	return sorted
}

// better reports whether a should be ranked before b
func better(a, b Candidate) bool {
	if pa, pb := a.CandidatePixels(), b.CandidatePixels(); pa != pb {
		return pa > pb
	}

	if ba, bb := a.CandidateBytes(), b.CandidateBytes(); ba != bb {
		return ba > bb
	}

	ca, cb := a.CandidateCreated(), b.CandidateCreated()
	switch {
	case ca != nil && cb == nil:
		return true
	case ca == nil && cb != nil:
		return false
	case ca != nil && cb != nil && !ca.Equal(*cb):
		return ca.Before(*cb)
	}

	return a.CandidateID() < b.CandidateID()
}
