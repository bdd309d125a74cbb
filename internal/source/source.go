// Package source defines the AssetSource capability the scanner reads the
// photo library through, plus two implementations: a folder on disk and an
// in-memory library.
package source

import (
	"context"
	"errors"
	"io"

	"photosweep/internal/models"
)

var (
	// ErrUnavailable means the library as a whole cannot be read. It is fatal
	// to a scan pass.
	ErrUnavailable = errors.New("asset source unavailable")

	// ErrNotFound means a single asset is gone
	ErrNotFound = errors.New("asset not found")
)

// AssetSource is the read/delete surface of a photo library
type AssetSource interface {
	// ListAllIdentifiers returns the ids of every asset currently in the library
	ListAllIdentifiers(ctx context.Context) ([]string, error)

	// FetchMetadata returns metadata for the given ids. Unknown ids are skipped.
	FetchMetadata(ctx context.Context, ids []string) ([]models.AssetMetadata, error)

	// ReadResource opens the primary resource bytes of one asset
	ReadResource(ctx context.Context, id string) (io.ReadCloser, error)

	// DeleteAssets removes the given assets. The returned map holds per-asset
	// failures; assets absent from it were deleted.
	DeleteAssets(ctx context.Context, ids []string) (map[string]error, error)
}
