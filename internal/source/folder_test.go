package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photosweep/internal/fileutil"
	"photosweep/internal/models"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestFolder_ListAndMetadata(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 40, 30)
	writePNG(t, filepath.Join(dir, "sub", "Screenshot 2024-01-01.png"), 20, 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	f, err := NewFolder(dir)
	require.NoError(t, err)

	ctx := context.Background()
	ids, err := f.ListAllIdentifiers(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	metas, err := f.FetchMetadata(ctx, append(ids, "unknown-id"))
	require.NoError(t, err)
	require.Len(t, metas, 2)

	byName := make(map[string]models.AssetMetadata)
	for _, m := range metas {
		byName[m.Filename] = m
	}

	a := byName["a.png"]
	assert.Equal(t, 40, a.PixelWidth)
	assert.Equal(t, 30, a.PixelHeight)
	assert.Nil(t, a.CreationDate, "png without EXIF has no creation date")
	assert.Greater(t, a.ByteCount, int64(0))
	assert.False(t, a.Subtypes.Has(models.SubtypeScreenshot))
	require.Len(t, a.Resources, 1)
	assert.True(t, a.Resources[0].LocallyAvailable)

	shot := byName["Screenshot 2024-01-01.png"]
	assert.True(t, shot.Subtypes.Has(models.SubtypeScreenshot))
}

func TestFolder_IDsStableUntilEdited(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 10, 10)

	f, err := NewFolder(dir)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := f.ListAllIdentifiers(ctx)
	require.NoError(t, err)
	again, err := f.ListAllIdentifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	writePNG(t, path, 12, 12)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	edited, err := f.ListAllIdentifiers(ctx)
	require.NoError(t, err)
	require.Len(t, edited, 1)
	assert.NotEqual(t, first[0], edited[0], "an edited file is a new asset")
}

func TestFolder_ReadAndDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 10, 10)

	f, err := NewFolder(dir, WithRemover(fileutil.Remover{Mode: fileutil.DeletePermanent}))
	require.NoError(t, err)
	ctx := context.Background()

	ids, err := f.ListAllIdentifiers(ctx)
	require.NoError(t, err)

	rc, err := f.ReadResource(ctx, ids[0])
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	want, _ := os.ReadFile(path)
	assert.Equal(t, want, data)

	failed, err := f.DeleteAssets(ctx, []string{ids[0], "missing"})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.True(t, errors.Is(failed["missing"], ErrNotFound))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = f.ReadResource(ctx, ids[0])
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFolder_MissingRootUnavailable(t *testing.T) {
	f, err := NewFolder(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)

	_, err = f.ListAllIdentifiers(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFolder_ReadAfterRootRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "library")
	writePNG(t, filepath.Join(dir, "a.png"), 10, 10)
	writePNG(t, filepath.Join(dir, "b.png"), 12, 12)

	f, err := NewFolder(dir)
	require.NoError(t, err)
	ctx := context.Background()

	ids, err := f.ListAllIdentifiers(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	// One file gone is a per-asset problem
	p, ok := f.Path(ids[0])
	require.True(t, ok)
	require.NoError(t, os.Remove(p))
	_, err = f.ReadResource(ctx, ids[0])
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrUnavailable))

	// The whole folder gone is fatal
	require.NoError(t, os.RemoveAll(dir))
	_, err = f.ReadResource(ctx, ids[1])
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestMemory_Basics(t *testing.T) {
	m := NewMemory(
		MemoryAsset{Metadata: models.AssetMetadata{ID: "b"}, Data: []byte("bb")},
		MemoryAsset{Metadata: models.AssetMetadata{ID: "a"}, Data: []byte("aa")},
	)
	ctx := context.Background()

	ids, err := m.ListAllIdentifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	rc, err := m.ReadResource(ctx, "a")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "aa", string(data))
	assert.Equal(t, 1, m.Reads("a"))

	failed, err := m.DeleteAssets(ctx, []string{"a", "zzz"})
	require.NoError(t, err)
	assert.Contains(t, failed, "zzz")

	m.ListErr = errors.New("offline")
	_, err = m.ListAllIdentifiers(ctx)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
