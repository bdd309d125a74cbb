package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"photosweep/internal/models"
)

// MemoryAsset is one asset held by a Memory source
type MemoryAsset struct {
	Metadata models.AssetMetadata
	Data     []byte
	ReadErr  error // returned by ReadResource when set
}

// Memory is an in-memory AssetSource. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	assets map[string]MemoryAsset

	// ListErr, when set, fails ListAllIdentifiers and FetchMetadata
	ListErr error

	// BeforeRead, when set, runs at the start of every ReadResource
	BeforeRead func(ctx context.Context, id string) error

	reads map[string]int
}

// NewMemory creates a Memory source holding assets
func NewMemory(assets ...MemoryAsset) *Memory {
	m := &Memory{assets: make(map[string]MemoryAsset), reads: make(map[string]int)}
	for _, a := range assets {
		m.assets[a.Metadata.ID] = a
	}
	return m
}

// Put adds or replaces an asset
func (m *Memory) Put(a MemoryAsset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.Metadata.ID] = a
}

// Remove drops an asset
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assets, id)
}

// Reads returns how many times the resource of id was opened
func (m *Memory) Reads(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[id]
}

func (m *Memory) ListAllIdentifiers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ListErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, m.ListErr)
	}
	ids := make([]string, 0, len(m.assets))
	for id := range m.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) FetchMetadata(ctx context.Context, ids []string) ([]models.AssetMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ListErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, m.ListErr)
	}
	out := make([]models.AssetMetadata, 0, len(ids))
	for _, id := range ids {
		if a, ok := m.assets[id]; ok {
			out = append(out, a.Metadata)
		}
	}
	return out, nil
}

func (m *Memory) ReadResource(ctx context.Context, id string) (io.ReadCloser, error) {
	if m.BeforeRead != nil {
		if err := m.BeforeRead(ctx, id); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[id]++
	a, ok := m.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if a.ReadErr != nil {
		return nil, a.ReadErr
	}
	return io.NopCloser(bytes.NewReader(a.Data)), nil
}

func (m *Memory) DeleteAssets(ctx context.Context, ids []string) (map[string]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := make(map[string]error)
	for _, id := range ids {
		if _, ok := m.assets[id]; !ok {
			failed[id] = fmt.Errorf("%w: %s", ErrNotFound, id)
			continue
		}
		delete(m.assets, id)
	}
	return failed, nil
}
