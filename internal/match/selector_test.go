package match

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photosweep/internal/models"
)

func entry(id string, w, h int, bytes int64, created *time.Time) Entry {
	return Entry{
		Metadata: models.AssetMetadata{
			ID:           id,
			PixelWidth:   w,
			PixelHeight:  h,
			ByteCount:    bytes,
			CreationDate: created,
		},
		Signature: &models.AssetSignature{ExactHash: "h"},
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Metadata.ID
	}
	return out
}

func TestSortOriginalFirst(t *testing.T) {
	early := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	tests := []struct {
		name         string
		candidates   []Entry
		expectedKeep string
	}{
		{
			name: "keep highest resolution",
			candidates: []Entry{
				entry("low", 100, 100, 5000, nil),
				entry("high", 200, 200, 100, nil),
			},
			expectedKeep: "high",
		},
		{
			name: "tie resolution, keep larger file",
			candidates: []Entry{
				entry("small", 100, 100, 100, nil),
				entry("large", 100, 100, 1000, nil),
			},
			expectedKeep: "large",
		},
		{
			name: "tie resolution and size, keep earlier",
			candidates: []Entry{
				entry("new", 100, 100, 100, &late),
				entry("old", 100, 100, 100, &early),
			},
			expectedKeep: "old",
		},
		{
			name: "dated outranks undated",
			candidates: []Entry{
				entry("a-undated", 100, 100, 100, nil),
				entry("z-dated", 100, 100, 100, &late),
			},
			expectedKeep: "z-dated",
		},
		{
			name: "full tie, smaller id",
			candidates: []Entry{
				entry("b", 100, 100, 100, &early),
				entry("a", 100, 100, 100, &early),
			},
			expectedKeep: "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sorted := SortOriginalFirst(tt.candidates)
			require.Len(t, sorted, len(tt.candidates))
			assert.Equal(t, tt.expectedKeep, sorted[0].Metadata.ID)
		})
	}
}

func TestSortOriginalFirst_DoesNotMutateInput(t *testing.T) {
	in := []Entry{entry("a", 1, 1, 1, nil), entry("b", 2, 2, 2, nil)}
	_ = SortOriginalFirst(in)
	assert.Equal(t, []string{"a", "b"}, ids(in))
}

func TestSortOriginalFirst_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Small value ranges force plenty of ties at every step of the chain.
	candidates := make([]Entry, 12)
	for i := range candidates {
		var created *time.Time
		if rng.Intn(3) > 0 {
			ts := base.Add(time.Duration(rng.Intn(3)) * time.Minute)
			created = &ts
		}
		side := 100 * (1 + rng.Intn(2))
		candidates[i] = entry(fmt.Sprintf("asset-%02d", i), side, side, int64(1000*(1+rng.Intn(2))), created)
	}

	want := ids(SortOriginalFirst(candidates))

	for trial := 0; trial < 200; trial++ {
		shuffled := make([]Entry, len(candidates))
		copy(shuffled, candidates)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got := ids(SortOriginalFirst(shuffled))
		require.Equal(t, want, got, "trial %d produced a different order", trial)
	}
}
