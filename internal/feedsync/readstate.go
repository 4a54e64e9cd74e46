package feedsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/bryan-buckman/zenith/internal/storage"
)

// ReadTracker records which posts have been opened. The set only grows.
type ReadTracker struct {
	mu    sync.RWMutex
	store *storage.Storage
	order []string
	seen  map[string]struct{}
}

// NewReadTracker returns an empty tracker persisting through store.
func NewReadTracker(store *storage.Storage) *ReadTracker {
	return &ReadTracker{store: store, seen: make(map[string]struct{})}
}

// Load replaces the in-memory set with the persisted one.
func (r *ReadTracker) Load(ctx context.Context) error {
	guids, err := r.store.ReadPostGUIDs(ctx)
	if err != nil {
		return fmt.Errorf("load read posts: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = r.order[:0]
	r.seen = make(map[string]struct{}, len(guids))
	for _, g := range guids {
		if _, ok := r.seen[g]; ok {
			continue
		}
		r.seen[g] = struct{}{}
		r.order = append(r.order, g)
	}
	return nil
}

// MarkRead adds guid to the set and persists it. Known guids are a no-op.
func (r *ReadTracker) MarkRead(ctx context.Context, guid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[guid]; ok {
		return nil
	}
	updated := append(append([]string{}, r.order...), guid)
	if err := r.store.SaveReadPostGUIDs(ctx, updated); err != nil {
		return fmt.Errorf("save read posts: %w", err)
	}
	r.order = updated
	r.seen[guid] = struct{}{}
	return nil
}

// IsRead reports whether guid has been opened.
func (r *ReadTracker) IsRead(guid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.seen[guid]
	return ok
}

// GUIDs returns the read identifiers in the order they were read.
func (r *ReadTracker) GUIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}
