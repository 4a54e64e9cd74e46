package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryan-buckman/zenith/internal/database"
	"github.com/bryan-buckman/zenith/internal/model"
)

func newSQLiteStorage(t *testing.T) *Storage {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "zenith.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestStorage_EmptyStoreReturnsDefaults(t *testing.T) {
	s := New(database.NewMemory())
	ctx := context.Background()

	feeds, err := s.Feeds(ctx)
	if err != nil || feeds == nil || len(feeds) != 0 {
		t.Errorf("expected empty non-nil feed list, got %v (%v)", feeds, err)
	}
	id, err := s.LastSelectedFeedID(ctx)
	if err != nil || id != "" {
		t.Errorf("expected no selection, got %q (%v)", id, err)
	}
	entry, err := s.CachedPosts(ctx, "https://example.com/feed")
	if err != nil || entry != nil {
		t.Errorf("expected no cache entry, got %v (%v)", entry, err)
	}
	count, err := s.DisplayCount(ctx)
	if err != nil || count != model.DefaultDisplayCount {
		t.Errorf("expected default display count %d, got %d (%v)", model.DefaultDisplayCount, count, err)
	}
	guids, err := s.ReadPostGUIDs(ctx)
	if err != nil || len(guids) != 0 {
		t.Errorf("expected no read guids, got %v (%v)", guids, err)
	}
}

func TestStorage_FeedsRoundTripPreservesOrder(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()
	in := []model.Feed{
		model.NewFeed("https://b.example/rss", "B"),
		model.NewFeed("https://a.example/rss", "A"),
	}
	if err := s.SaveFeeds(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := s.Feeds(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("feeds should round-trip in order, got %+v", out)
	}
}

func TestStorage_LastSelectedFeedIDCanBeCleared(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()
	if err := s.SetLastSelectedFeedID(ctx, "https://a.example/rss"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if id, _ := s.LastSelectedFeedID(ctx); id != "https://a.example/rss" {
		t.Errorf("got %q", id)
	}
	if err := s.SetLastSelectedFeedID(ctx, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if id, _ := s.LastSelectedFeedID(ctx); id != "" {
		t.Errorf("selection should be cleared, got %q", id)
	}
}

func TestStorage_CachePostsIsKeyedByFeedURL(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	posts := []model.Post{{GUID: "g1", Title: "One", FeedTitle: "A"}}

	if _, err := s.CachePosts(ctx, "https://a.example/rss", posts, now); err != nil {
		t.Fatalf("cache: %v", err)
	}
	entry, err := s.CachedPosts(ctx, "https://a.example/rss")
	if err != nil || entry == nil {
		t.Fatalf("expected entry, got %v (%v)", entry, err)
	}
	if !entry.Timestamp.Equal(now) {
		t.Errorf("timestamp should be kept, got %v", entry.Timestamp)
	}
	if len(entry.Posts) != 1 || entry.Posts[0].GUID != "g1" {
		t.Errorf("posts should be kept, got %+v", entry.Posts)
	}
	if other, _ := s.CachedPosts(ctx, "https://b.example/rss"); other != nil {
		t.Error("other feeds should have no entry")
	}

	if err := s.RemoveCachedPosts(ctx, "https://a.example/rss"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if entry, _ := s.CachedPosts(ctx, "https://a.example/rss"); entry != nil {
		t.Error("entry should be removed")
	}
}

func TestStorage_DisplayCountAndReadGUIDs(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()
	if err := s.SetDisplayCount(ctx, 48); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if n, _ := s.DisplayCount(ctx); n != 48 {
		t.Errorf("got %d", n)
	}
	if err := s.SaveReadPostGUIDs(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("save guids: %v", err)
	}
	guids, _ := s.ReadPostGUIDs(ctx)
	if len(guids) != 2 || guids[0] != "a" || guids[1] != "b" {
		t.Errorf("got %v", guids)
	}
}
