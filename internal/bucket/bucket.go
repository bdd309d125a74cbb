// Package bucket partitions assets into coarse capture-session classes so that
// duplicate comparison only happens between assets that could plausibly be
// copies of one another.
package bucket

import (
	"fmt"
	"time"

	"photosweep/internal/models"
)

// Resolution band boundaries in pixels. These are empirical defaults.
const (
	LowBandMaxPixels  int64 = 4_000_000  // low: < 4MP
	HighBandMinPixels int64 = 12_000_000 // high: >= 12MP
)

// Band is a resolution class
type Band int

const (
	BandLow Band = iota
	BandMedium
	BandHigh
)

func (b Band) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandMedium:
		return "medium"
	default:
		return "high"
	}
}

// Key identifies one bucket. The zero Year/Week pair with Unknown set is the
// bucket for assets without a creation date.
type Key struct {
	Year    int
	Week    int
	Unknown bool
	Band    Band
}

func (k Key) String() string {
	if k.Unknown {
		return fmt.Sprintf("unknown/%s", k.Band)
	}
	return fmt.Sprintf("%04d-W%02d/%s", k.Year, k.Week, k.Band)
}

// BandFor returns the resolution band for a pixel count
func BandFor(pixels int64) Band {
	switch {
	case pixels >= HighBandMinPixels:
		return BandHigh
	case pixels >= LowBandMaxPixels:
		return BandMedium
	default:
		return BandLow
	}
}

// KeyFor maps an asset to its bucket. The ISO week is evaluated in loc, so the
// same asset and location always yield the same key. A nil loc means UTC.
func KeyFor(meta models.AssetMetadata, loc *time.Location) Key {
	key := Key{Band: BandFor(meta.Pixels())}
	if meta.CreationDate == nil {
		key.Unknown = true
		return key
	}
	if loc == nil {
		loc = time.UTC
	}
	key.Year, key.Week = meta.CreationDate.In(loc).ISOWeek()
	return key
}
