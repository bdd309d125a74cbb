package bucket

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"photosweep/internal/models"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		name   string
		pixels int64
		want   Band
	}{
		{"zero", 0, BandLow},
		{"just under 4MP", 3_999_999, BandLow},
		{"exactly 4MP", 4_000_000, BandMedium},
		{"just under 12MP", 11_999_999, BandMedium},
		{"exactly 12MP", 12_000_000, BandHigh},
		{"48MP", 48_000_000, BandHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BandFor(tt.pixels); got != tt.want {
				t.Errorf("BandFor(%d) = %v, want %v", tt.pixels, got, tt.want)
			}
		})
	}
}

func TestKeyFor_UnknownDate(t *testing.T) {
	meta := models.AssetMetadata{ID: "a", PixelWidth: 4000, PixelHeight: 3000}
	key := KeyFor(meta, time.UTC)

	if !key.Unknown {
		t.Error("expected unknown bucket for missing creation date")
	}
	if key.Band != BandHigh {
		t.Errorf("band = %v, want high", key.Band)
	}
	if key.String() != "unknown/high" {
		t.Errorf("String() = %q", key.String())
	}
}

func TestKeyFor_SameWeekSameBucket(t *testing.T) {
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)
	nextMonday := time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC)

	a := models.AssetMetadata{ID: "a", PixelWidth: 1000, PixelHeight: 1000, CreationDate: &monday}
	b := models.AssetMetadata{ID: "b", PixelWidth: 1200, PixelHeight: 900, CreationDate: &sunday}
	c := models.AssetMetadata{ID: "c", PixelWidth: 1000, PixelHeight: 1000, CreationDate: &nextMonday}

	if KeyFor(a, time.UTC) != KeyFor(b, time.UTC) {
		t.Errorf("same ISO week and band should share a bucket: %v vs %v", KeyFor(a, time.UTC), KeyFor(b, time.UTC))
	}
	if KeyFor(a, time.UTC) == KeyFor(c, time.UTC) {
		t.Error("different ISO weeks should not share a bucket")
	}
}

func TestKeyFor_LocationMatters(t *testing.T) {
	// Sunday 23:30 in New York is already Monday in UTC.
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	ts := time.Date(2024, 3, 10, 23, 30, 0, 0, ny)
	meta := models.AssetMetadata{ID: "a", PixelWidth: 10, PixelHeight: 10, CreationDate: &ts}

	if KeyFor(meta, ny).Week == KeyFor(meta, time.UTC).Week {
		t.Error("expected week to depend on the supplied location")
	}
	if KeyFor(meta, nil) != KeyFor(meta, time.UTC) {
		t.Error("nil location should behave as UTC")
	}
}

func TestKeyFor_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("KeyFor is a pure function of its inputs", prop.ForAll(
		func(w, h int, unix int64, dated bool) bool {
			meta := models.AssetMetadata{ID: "x", PixelWidth: w, PixelHeight: h}
			if dated {
				ts := time.Unix(unix, 0)
				meta.CreationDate = &ts
			}
			first := KeyFor(meta, time.UTC)
			for i := 0; i < 3; i++ {
				if KeyFor(meta, time.UTC) != first {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 10000),
		gen.IntRange(0, 10000),
		gen.Int64Range(0, 4102444800),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
