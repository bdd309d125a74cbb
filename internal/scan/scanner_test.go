package scan

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photosweep/internal/models"
	"photosweep/internal/source"
	"photosweep/internal/storage"
	libsync "photosweep/internal/sync"
)

var shotDay = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

type harness struct {
	src   *source.Memory
	cache *storage.Cache
	sync  *libsync.Coordinator
	orch  *Orchestrator
}

func newHarness(t *testing.T, assets ...source.MemoryAsset) *harness {
	t.Helper()
	cache, err := storage.NewCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	src := source.NewMemory(assets...)
	return &harness{
		src:   src,
		cache: cache,
		sync:  libsync.NewCoordinator(src, cache),
		orch: NewOrchestrator(src, cache,
			WithProgressStride(1),
			WithProgressInterval(0),
			WithLocation(time.UTC),
			WithDrainTimeout(time.Second),
		),
	}
}

func (h *harness) syncLibrary(t *testing.T) {
	t.Helper()
	_, err := h.sync.Sync(context.Background())
	require.NoError(t, err)
}

// collect drains a pass and returns every update
func collect(t *testing.T, p *Pass) []models.ScanUpdate {
	t.Helper()
	var updates []models.ScanUpdate
	timeout := time.After(10 * time.Second)
	for {
		select {
		case u, ok := <-p.Updates():
			if !ok {
				return updates
			}
			updates = append(updates, u)
		case <-timeout:
			t.Fatal("scan did not terminate")
		}
	}
}

func photo(id string, w, h int, created time.Time, data []byte) source.MemoryAsset {
	return source.MemoryAsset{
		Metadata: models.AssetMetadata{
			ID:           id,
			Filename:     id + ".jpg",
			PixelWidth:   w,
			PixelHeight:  h,
			CreationDate: &created,
			ByteCount:    int64(len(data)),
			Resources:    []models.Resource{{Kind: models.ResourcePhoto, LocallyAvailable: true}},
		},
		Data: data,
	}
}

func threeCopies() []source.MemoryAsset {
	data := []byte("the same photo bytes")
	return []source.MemoryAsset{
		photo("a", 4000, 3000, shotDay, data),
		photo("b", 4000, 3000, shotDay.Add(-time.Minute), data),
		photo("c", 2000, 1500, shotDay, data),
	}
}

func exactOnly() models.ScanOptions {
	return models.ScanOptions{
		Mode:                    models.ScanFull,
		DuplicateMode:           models.DuplicateExactOnly,
		SimilarityThreshold:     0.9,
		LargeFileThresholdBytes: 10 * 1024 * 1024,
	}
}

func gradientPNG(t *testing.T, level png.CompressionLevel) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewOrchestrator_Defaults(t *testing.T) {
	o := NewOrchestrator(source.NewMemory(), nil)

	if o.workers != 4 {
		t.Errorf("default workers = %d, want 4", o.workers)
	}
	if o.hashTimeout != 30*time.Second {
		t.Errorf("default hash timeout = %v, want 30s", o.hashTimeout)
	}

	o = NewOrchestrator(source.NewMemory(), nil, WithWorkers(0), WithProgressStride(-1))
	if o.workers != 4 {
		t.Errorf("workers with 0 = %d, want 4", o.workers)
	}
	if o.progressStride != 25 {
		t.Errorf("stride with -1 = %d, want 25", o.progressStride)
	}
}

func TestScan_EmptyLibrary(t *testing.T) {
	h := newHarness(t)
	h.syncLibrary(t)

	updates := collect(t, h.orch.Start(context.Background(), exactOnly()))
	require.NotEmpty(t, updates)

	last := updates[len(updates)-1]
	require.Equal(t, models.UpdateCompleted, last.Type)
	assert.Equal(t, 0, last.Result.TotalPhotos)
	assert.NotNil(t, last.Result.Issues)
	assert.Empty(t, last.Result.Issues)
	assert.NotNil(t, last.Result.DuplicateGroups)
	assert.Empty(t, last.Result.DuplicateGroups)
}

func TestScan_ExactCopiesFormOneGroup(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)

	updates := collect(t, h.orch.Start(context.Background(), exactOnly()))
	last := updates[len(updates)-1]
	require.Equal(t, models.UpdateCompleted, last.Type, last.Summary())

	result := last.Result
	assert.Equal(t, 3, result.TotalPhotos)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, int64(1), result.Generation)
	require.Len(t, result.DuplicateGroups, 1)

	sum := sha256.Sum256([]byte("the same photo bytes"))
	g := result.DuplicateGroups[0]
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), g.ID)
	assert.Equal(t, "b", g.OriginalID, "earliest capture wins the resolution tie")
	assert.Equal(t, []string{"b", "a", "c"}, g.MemberIDs)
	assert.Equal(t, 1.0, g.Similarity)
	assert.Equal(t, int64(2*len("the same photo bytes")), g.PotentialSavingsBytes)

	counts := result.IssueCounts()
	assert.Equal(t, 2, counts[models.IssueDuplicate])

	var groupEvents int
	for _, u := range updates {
		if u.Type == models.UpdateDuplicateGroup {
			groupEvents++
		}
	}
	assert.Equal(t, 1, groupEvents)

	scanned, err := h.cache.Records(context.Background(), models.StatusScanned)
	require.NoError(t, err)
	assert.Len(t, scanned, 3)
}

func TestScan_SimilarReencodedImages(t *testing.T) {
	fast := gradientPNG(t, png.BestSpeed)
	small := gradientPNG(t, png.BestCompression)
	require.NotEqual(t, fast, small)

	h := newHarness(t,
		photo("x", 64, 64, shotDay, fast),
		photo("y", 64, 64, shotDay, small),
	)
	h.syncLibrary(t)

	opts := exactOnly()
	opts.DuplicateMode = models.DuplicateIncludeSimilar
	result, err := h.orch.Scan(context.Background(), opts, nil)
	require.NoError(t, err)
	require.Len(t, result.DuplicateGroups, 1)

	g := result.DuplicateGroups[0]
	assert.False(t, g.Exact)
	assert.Contains(t, g.ID, "similar:")
	assert.GreaterOrEqual(t, g.Similarity, 0.9)
	assert.ElementsMatch(t, []string{"x", "y"}, g.MemberIDs)

	opts.DuplicateMode = models.DuplicateExactOnly
	result, err = h.orch.Scan(context.Background(), opts, nil)
	require.NoError(t, err)
	assert.Empty(t, result.DuplicateGroups)
}

func TestScan_StreamOrdering(t *testing.T) {
	assets := threeCopies()
	assets = append(assets, photo("d", 100, 100, shotDay, []byte("unique")))
	h := newHarness(t, assets...)
	h.syncLibrary(t)

	updates := collect(t, h.orch.Start(context.Background(), exactOnly()))

	var terminals int
	last := -1
	for i, u := range updates {
		if u.Terminal() {
			terminals++
			assert.Equal(t, len(updates)-1, i, "terminal event must be last")
		}
		if u.Type == models.UpdateProgress {
			assert.GreaterOrEqual(t, u.Current, last, "progress must not go backwards")
			last = u.Current
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, models.PhasePreparing, updates[0].Phase)
}

func TestScan_CancelAfterPreparing(t *testing.T) {
	assets := []source.MemoryAsset{
		photo("a", 100, 100, shotDay, []byte("a")),
		photo("b", 100, 100, shotDay, []byte("b")),
		photo("c", 100, 100, shotDay, []byte("c")),
	}
	h := newHarness(t, assets...)
	h.syncLibrary(t)
	h.src.BeforeRead = func(ctx context.Context, id string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	p := h.orch.Start(context.Background(), exactOnly())
	first := <-p.Updates()
	require.Equal(t, models.PhasePreparing, first.Phase)
	p.Cancel()

	rest := collect(t, p)
	var terminal []models.ScanUpdate
	for _, u := range rest {
		if u.Terminal() {
			terminal = append(terminal, u)
		}
	}
	require.Len(t, terminal, 1)

	switch u := terminal[0]; u.Type {
	case models.UpdateCancelled:
		assert.Nil(t, u.Result)
	case models.UpdateCompleted:
		assert.Empty(t, u.Result.Issues)
		assert.Empty(t, u.Result.DuplicateGroups)
	default:
		t.Fatalf("unexpected terminal %s", u.Type)
	}

	_, err := p.Result()
	if terminal[0].Type == models.UpdateCancelled {
		assert.True(t, errors.Is(err, ErrCancelled))
	}

	pending, err := h.cache.Records(context.Background(), models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "a cancelled pass persists nothing")
}

func TestScan_PartialResultAfterProgress(t *testing.T) {
	assets := threeCopies()
	assets = append(assets, photo("z", 100, 100, shotDay, []byte("z")))

	h := newHarness(t, assets...)
	h.syncLibrary(t)
	h.orch = NewOrchestrator(h.src, h.cache, WithWorkers(1), WithProgressInterval(0), WithProgressStride(1))
	h.src.BeforeRead = func(ctx context.Context, id string) error {
		if id == "z" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	p := h.orch.Start(context.Background(), exactOnly())
	var cancelled bool
	var terminal models.ScanUpdate
	for u := range p.Updates() {
		if u.Type == models.UpdateProgress && u.Phase == models.PhaseScanning && u.Current == 3 && !cancelled {
			p.Cancel()
			cancelled = true
		}
		if u.Terminal() {
			terminal = u
		}
	}

	require.Equal(t, models.UpdateCancelled, terminal.Type)
	require.NotNil(t, terminal.Result)
	assert.Equal(t, 3, terminal.Result.Processed)
	assert.Len(t, terminal.Result.DuplicateGroups, 1)

	token, err := h.cache.SyncToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), token)
}

func TestScan_RoundTripIdempotent(t *testing.T) {
	assets := threeCopies()
	shot := photo("s", 1170, 2532, shotDay, []byte("screenshot"))
	shot.Metadata.Subtypes = models.SubtypeScreenshot
	assets = append(assets, shot)

	h := newHarness(t, assets...)
	h.syncLibrary(t)

	first, err := h.orch.Scan(context.Background(), exactOnly(), nil)
	require.NoError(t, err)

	h.syncLibrary(t)
	opts := exactOnly()
	opts.Mode = models.ScanIncremental
	second, err := h.orch.Scan(context.Background(), opts, nil)
	require.NoError(t, err)

	third, err := h.orch.Scan(context.Background(), exactOnly(), nil)
	require.NoError(t, err)

	for _, r := range []*models.ScanResult{first, second, third} {
		models.SortIssues(r.Issues)
	}
	assert.Equal(t, first.DuplicateGroups, second.DuplicateGroups)
	assert.Equal(t, first.Issues, second.Issues)
	assert.Equal(t, first.DuplicateGroups, third.DuplicateGroups)
	assert.Equal(t, first.Issues, third.Issues)
	assert.Equal(t, int64(3), third.Generation)
}

func TestScan_IncrementalSkipsScannedAssets(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)

	_, err := h.orch.Scan(context.Background(), exactOnly(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, h.src.Reads("a"))

	h.src.Put(photo("d", 4000, 3000, shotDay, []byte("the same photo bytes")))
	h.syncLibrary(t)

	opts := exactOnly()
	opts.Mode = models.ScanIncremental
	result, err := h.orch.Scan(context.Background(), opts, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, h.src.Reads("a"), "scanned asset must not be re-read")
	assert.Equal(t, 1, h.src.Reads("d"))
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 4, result.TotalPhotos)
	require.Len(t, result.DuplicateGroups, 1)
	assert.Len(t, result.DuplicateGroups[0].MemberIDs, 4)

	// A full pass reuses cached signatures unless asked to rehash
	_, err = h.orch.Scan(context.Background(), exactOnly(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.src.Reads("a"))

	opts = exactOnly()
	opts.Rehash = true
	_, err = h.orch.Scan(context.Background(), opts, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, h.src.Reads("a"))
}

func TestScan_PerAssetReadFailure(t *testing.T) {
	assets := threeCopies()
	broken := photo("x", 4000, 3000, shotDay, []byte("the same photo bytes"))
	broken.ReadErr = errors.New("disk error")
	assets = append(assets, broken)

	h := newHarness(t, assets...)
	h.syncLibrary(t)

	result, err := h.orch.Scan(context.Background(), exactOnly(), nil)
	require.NoError(t, err)

	require.Len(t, result.DuplicateGroups, 1)
	assert.NotContains(t, result.DuplicateGroups[0].MemberIDs, "x")

	var corrupted []models.Issue
	for _, issue := range result.Issues {
		if issue.Kind == models.IssueCorrupted {
			corrupted = append(corrupted, issue)
		}
	}
	require.Len(t, corrupted, 1)
	assert.Equal(t, "x", corrupted[0].AssetID)

	rec, err := h.cache.Record(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "disk error")
	assert.Nil(t, rec.Signature)
}

func TestScan_SourceUnavailable(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)
	h.src.ListErr = errors.New("library locked")

	updates := collect(t, h.orch.Start(context.Background(), exactOnly()))
	last := updates[len(updates)-1]
	require.Equal(t, models.UpdateFailed, last.Type)
	assert.True(t, errors.Is(last.Err, source.ErrUnavailable))
	assert.Contains(t, last.Summary(), "scan failed")

	token, err := h.cache.SyncToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), token)

	pending, err := h.cache.Records(context.Background(), models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestScan_NewStartPreemptsPrevious(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)

	var block atomic.Bool
	block.Store(true)
	h.src.BeforeRead = func(ctx context.Context, id string) error {
		if block.Load() {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	first := h.orch.Start(context.Background(), exactOnly())
	<-first.Updates()

	block.Store(false)
	second := h.orch.Start(context.Background(), exactOnly())

	select {
	case <-first.Done():
	default:
		t.Fatal("previous pass must have terminated before the new one starts")
	}
	assert.Equal(t, models.UpdateCancelled, first.Wait().Type)

	updates := collect(t, second)
	assert.Equal(t, models.UpdateCompleted, updates[len(updates)-1].Type)
}

func TestScan_ConsumerWalksAway(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)
	h.src.BeforeRead = func(ctx context.Context, id string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := h.orch.Start(ctx, exactOnly())
	cancel()

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("pass did not stop after the consumer left")
	}
	assert.Equal(t, models.UpdateCancelled, p.Wait().Type)
}

func TestClean_RemovesDuplicates(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)

	result, err := h.orch.Scan(context.Background(), exactOnly(), nil)
	require.NoError(t, err)

	report, err := Clean(context.Background(), h.src, h.cache, result.DuplicateGroups)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, report.Deleted)
	assert.Empty(t, report.Failed)
	assert.Equal(t, result.PotentialSavings(), report.FreedBytes)

	ids, err := h.cache.KnownIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	live, err := h.src.ListAllIdentifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, live)
}

func TestScan_SourceGoesAwayMidPass(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)
	h.src.BeforeRead = func(ctx context.Context, id string) error {
		return fmt.Errorf("%w: volume unmounted", source.ErrUnavailable)
	}

	updates := collect(t, h.orch.Start(context.Background(), exactOnly()))
	last := updates[len(updates)-1]
	require.Equal(t, models.UpdateFailed, last.Type)
	assert.True(t, errors.Is(last.Err, source.ErrUnavailable))

	token, err := h.cache.SyncToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), token)

	failed, err := h.cache.Records(context.Background(), models.StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)

	pending, err := h.cache.Records(context.Background(), models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestScan_SyncDuringPassDropsPurgedMembers(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)
	h.orch = NewOrchestrator(h.src, h.cache, WithWorkers(1), WithLocation(time.UTC))

	var once atomic.Bool
	h.src.BeforeRead = func(ctx context.Context, id string) error {
		if id == "c" && once.CompareAndSwap(false, true) {
			h.src.Remove("a")
			if _, err := h.sync.Sync(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	result, err := h.orch.Scan(context.Background(), exactOnly(), nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	groups, err := h.cache.DuplicateGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "b", groups[0].OriginalID)
	assert.Equal(t, []string{"b", "c"}, groups[0].MemberIDs)

	ids, err := h.cache.KnownIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestScan_ProgressCadenceIsBounded(t *testing.T) {
	var assets []source.MemoryAsset
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("p%02d", i)
		assets = append(assets, photo(id, 100, 100, shotDay, []byte("photo "+id)))
	}
	h := newHarness(t, assets...)
	h.syncLibrary(t)
	h.orch = NewOrchestrator(h.src, h.cache,
		WithProgressStride(10),
		WithProgressInterval(time.Hour),
		WithLocation(time.UTC),
	)

	var scanning []models.ScanUpdate
	for _, u := range collect(t, h.orch.Start(context.Background(), exactOnly())) {
		if u.Type == models.UpdateProgress && u.Phase == models.PhaseScanning {
			scanning = append(scanning, u)
		}
	}

	// Phase start, at most one per stride, and the last item
	require.NotEmpty(t, scanning)
	assert.LessOrEqual(t, len(scanning), 1+25/10+1)
	for i := 1; i < len(scanning); i++ {
		assert.GreaterOrEqual(t, scanning[i].Current, scanning[i-1].Current)
	}
	final := scanning[len(scanning)-1]
	assert.Equal(t, 25, final.Current)
	assert.Equal(t, 25, final.Total)
}

func TestScan_ProgressIntervalLimitsEvents(t *testing.T) {
	var assets []source.MemoryAsset
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("p%02d", i)
		assets = append(assets, photo(id, 100, 100, shotDay, []byte("photo "+id)))
	}
	h := newHarness(t, assets...)
	h.syncLibrary(t)
	h.orch = NewOrchestrator(h.src, h.cache,
		WithProgressStride(1),
		WithProgressInterval(time.Hour),
		WithLocation(time.UTC),
	)

	var scanning []models.ScanUpdate
	for _, u := range collect(t, h.orch.Start(context.Background(), exactOnly())) {
		if u.Type == models.UpdateProgress && u.Phase == models.PhaseScanning {
			scanning = append(scanning, u)
		}
	}

	// Every item passes the stride, so only the interval holds events back:
	// phase start, the first item, and the last item
	require.NotEmpty(t, scanning)
	assert.LessOrEqual(t, len(scanning), 3)
	assert.Equal(t, 10, scanning[len(scanning)-1].Current)
}

func TestClean_SkipsGroupWithoutOriginal(t *testing.T) {
	h := newHarness(t, threeCopies()...)
	h.syncLibrary(t)

	result, err := h.orch.Scan(context.Background(), exactOnly(), nil)
	require.NoError(t, err)
	require.Len(t, result.DuplicateGroups, 1)
	stale := result.DuplicateGroups[0]
	require.Equal(t, "b", stale.OriginalID)

	// The original is deleted outside the app
	h.src.Remove("b")
	h.syncLibrary(t)

	groups, err := h.cache.DuplicateGroups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)

	stale.MemberIDs = []string{"a", "c"}
	report, err := Clean(context.Background(), h.src, h.cache, []models.DuplicateGroup{stale})
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
	assert.Equal(t, []string{stale.ID}, report.Skipped)

	live, err := h.src.ListAllIdentifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, live)
}
