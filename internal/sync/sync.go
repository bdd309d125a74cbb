// Package libsync reconciles the asset cache with the live library.
package libsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"photosweep/internal/models"
	"photosweep/internal/source"
)

// Store is the part of the asset cache the coordinator writes to
type Store interface {
	KnownIDs(ctx context.Context) ([]string, error)
	InsertPending(ctx context.Context, metas []models.AssetMetadata) error
	Delete(ctx context.Context, ids []string) (int64, error)
}

// Report summarizes one sync
type Report struct {
	Added    int           `json:"added"`
	Removed  int           `json:"removed"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"duration"`
}

// Changed reports whether the sync touched the cache
func (r Report) Changed() bool {
	return r.Added > 0 || r.Removed > 0
}

// Coordinator diffs the library's identifiers against the cache
type Coordinator struct {
	src    source.AssetSource
	store  Store
	logger zerolog.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a Coordinator
func NewCoordinator(src source.AssetSource, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{src: src, store: store, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync inserts newly seen assets as pending rows and purges rows whose asset
// left the library. Metadata is fetched for additions only. Running it twice
// without library changes is a no-op.
func (c *Coordinator) Sync(ctx context.Context) (Report, error) {
	start := time.Now()

	live, err := c.src.ListAllIdentifiers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list library: %w", err)
	}
	known, err := c.store.KnownIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read cache: %w", err)
	}

	added, removed := diff(live, known)
	report := Report{Total: len(live)}

	if len(added) > 0 {
		metas, err := c.src.FetchMetadata(ctx, added)
		if err != nil {
			return Report{}, fmt.Errorf("failed to fetch metadata: %w", err)
		}
		if err := c.store.InsertPending(ctx, metas); err != nil {
			return Report{}, fmt.Errorf("failed to insert new assets: %w", err)
		}
		report.Added = len(metas)
	}

	if len(removed) > 0 {
		n, err := c.store.Delete(ctx, removed)
		if err != nil {
			return Report{}, fmt.Errorf("failed to purge removed assets: %w", err)
		}
		report.Removed = int(n)
	}

	report.Duration = time.Since(start)
	c.logger.Info().
		Int("added", report.Added).
		Int("removed", report.Removed).
		Int("total", report.Total).
		Dur("duration", report.Duration).
		Msg("library synced")

	return report, nil
}

// diff returns ids present only in live and ids present only in known
func diff(live, known []string) (added, removed []string) {
	liveSet := make(map[string]struct{}, len(live))
	for _, id := range live {
		liveSet[id] = struct{}{}
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
		if _, ok := liveSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range live {
		if _, ok := knownSet[id]; !ok {
			added = append(added, id)
			knownSet[id] = struct{}{}
		}
	}
	return added, removed
}
