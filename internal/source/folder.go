package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"photosweep/internal/fileutil"
	"photosweep/internal/hash"
	"photosweep/internal/models"
)

var folderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("photosweep/folder-asset"))

// screenshotPrefixes are lower-cased filename prefixes written by common
// screenshot tools
var screenshotPrefixes = []string{"screenshot", "screen shot", "bildschirmfoto", "capture d"}

// Folder is an AssetSource backed by a directory tree. Asset ids are derived
// from relative path, size and modification time, so an edited file shows up
// as a removed asset plus a new one.
type Folder struct {
	root    string
	remover fileutil.Remover

	mu    sync.RWMutex
	paths map[string]string // id -> absolute path
}

// FolderOption configures a Folder
type FolderOption func(*Folder)

// WithRemover sets how DeleteAssets removes files
func WithRemover(r fileutil.Remover) FolderOption {
	return func(f *Folder) {
		f.remover = r
	}
}

// NewFolder creates a Folder rooted at dir
func NewFolder(dir string, opts ...FolderOption) (*Folder, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	f := &Folder{root: abs, paths: make(map[string]string)}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute library directory
func (f *Folder) Root() string {
	return f.root
}

// checkRoot reports ErrUnavailable when the library folder is gone
func (f *Folder) checkRoot() error {
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: not a directory: %s", ErrUnavailable, f.root)
	}
	return nil
}

func (f *Folder) ListAllIdentifiers(ctx context.Context) ([]string, error) {
	if err := f.checkRoot(); err != nil {
		return nil, err
	}

	paths := make(map[string]string)
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !hash.IsSupportedImage(path) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		paths[f.assetID(path, fi)] = path
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to walk folder: %v", ErrUnavailable, err)
	}

	f.mu.Lock()
	f.paths = paths
	f.mu.Unlock()

	ids := make([]string, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *Folder) FetchMetadata(ctx context.Context, ids []string) ([]models.AssetMetadata, error) {
	out := make([]models.AssetMetadata, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, ok := f.path(id)
		if !ok {
			continue
		}
		meta, err := readMetadata(id, path)
		if err != nil {
			continue // removed since listing
		}
		out = append(out, meta)
	}
	return out, nil
}

func (f *Folder) ReadResource(ctx context.Context, id string) (io.ReadCloser, error) {
	path, ok := f.path(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	file, err := os.Open(path)
	if err != nil {
		// A missing file is only the asset's problem unless the whole folder went away
		if rootErr := f.checkRoot(); rootErr != nil {
			return nil, rootErr
		}
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (f *Folder) DeleteAssets(ctx context.Context, ids []string) (map[string]error, error) {
	failed := make(map[string]error)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		path, ok := f.path(id)
		if !ok {
			failed[id] = fmt.Errorf("%w: %s", ErrNotFound, id)
			continue
		}
		if err := f.remover.Remove(path); err != nil {
			failed[id] = err
			continue
		}
		f.mu.Lock()
		delete(f.paths, id)
		f.mu.Unlock()
	}
	return failed, nil
}

// Path returns the file behind an asset id, if it was seen by the last listing
func (f *Folder) Path(id string) (string, bool) {
	return f.path(id)
}

func (f *Folder) path(id string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.paths[id]
	return p, ok
}

func (f *Folder) assetID(path string, fi fs.FileInfo) string {
	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		rel = path
	}
	name := fmt.Sprintf("%s|%d|%d", filepath.ToSlash(rel), fi.Size(), fi.ModTime().UnixNano())
	return uuid.NewSHA1(folderNamespace, []byte(name)).String()
}

// readMetadata reads dimensions and the EXIF capture time without decoding
// pixel data
func readMetadata(id, path string) (models.AssetMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.AssetMetadata{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return models.AssetMetadata{}, err
	}

	meta := models.AssetMetadata{
		ID:        id,
		Filename:  filepath.Base(path),
		ByteCount: stat.Size(),
	}
	if stat.Size() > 0 {
		meta.Resources = []models.Resource{{Kind: models.ResourcePhoto, LocallyAvailable: true}}
	}
	if isScreenshotName(meta.Filename) {
		meta.Subtypes |= models.SubtypeScreenshot
	}

	if cfg, _, err := image.DecodeConfig(file); err == nil {
		meta.PixelWidth = cfg.Width
		meta.PixelHeight = cfg.Height
	}

	if _, err := file.Seek(0, io.SeekStart); err == nil {
		if created, ok := exifCreated(file); ok {
			meta.CreationDate = &created
		}
	}

	return meta, nil
}

// exifCreated returns DateTimeOriginal (or DateTime) when the file has EXIF
func exifCreated(r io.Reader) (time.Time, bool) {
	x, err := exif.Decode(r)
	if err != nil {
		return time.Time{}, false
	}
	ts, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func isScreenshotName(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range screenshotPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
