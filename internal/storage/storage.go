// Package storage provides typed accessors over the durable key/value store.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/zenith/internal/database"
	"github.com/bryan-buckman/zenith/internal/model"
)

// Persisted keys.
const (
	FeedsKey        = "user_feeds"
	LastFeedKey     = "last_selected_feed"
	PostCachePrefix = "post_cache_"
	DisplayCountKey = "display_count"
	ReadPostsKey    = "read_posts_guids"
)

// PostCacheKey returns the key of the cached posts for feedURL.
func PostCacheKey(feedURL string) string {
	return PostCachePrefix + feedURL
}

// Storage reads and writes the JSON values the engine persists.
type Storage struct {
	db database.Store
}

// New wraps db.
func New(db database.Store) *Storage {
	return &Storage{db: db}
}

// get decodes the value at key into v. It reports false when the key is absent.
func (s *Storage) get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.db.Get(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Storage) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Set(ctx, key, raw)
}

// --- Feed list ---

// SaveFeeds replaces the persisted subscription list.
func (s *Storage) SaveFeeds(ctx context.Context, feeds []model.Feed) error {
	if feeds == nil {
		feeds = []model.Feed{}
	}
	return s.set(ctx, FeedsKey, feeds)
}

// Feeds returns the persisted subscription list, empty when none was saved.
func (s *Storage) Feeds(ctx context.Context) ([]model.Feed, error) {
	var feeds []model.Feed
	if _, err := s.get(ctx, FeedsKey, &feeds); err != nil {
		return nil, err
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	return feeds, nil
}

// --- Last selected feed ---

// SetLastSelectedFeedID persists the selected feed id. An empty id is stored as null.
func (s *Storage) SetLastSelectedFeedID(ctx context.Context, feedID string) error {
	var v *string
	if feedID != "" {
		v = &feedID
	}
	return s.set(ctx, LastFeedKey, v)
}

// LastSelectedFeedID returns the persisted selection, or "" for none.
func (s *Storage) LastSelectedFeedID(ctx context.Context) (string, error) {
	var v *string
	if _, err := s.get(ctx, LastFeedKey, &v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// --- Post cache ---

// CachePosts overwrites the cache entry for feedURL, stamped with now.
func (s *Storage) CachePosts(ctx context.Context, feedURL string, posts []model.Post, now time.Time) (*model.CachedPosts, error) {
	if posts == nil {
		posts = []model.Post{}
	}
	entry := &model.CachedPosts{Timestamp: now, Posts: posts}
	if err := s.set(ctx, PostCacheKey(feedURL), entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CachedPosts returns the cache entry for feedURL, or nil if there is none.
func (s *Storage) CachedPosts(ctx context.Context, feedURL string) (*model.CachedPosts, error) {
	var entry model.CachedPosts
	ok, err := s.get(ctx, PostCacheKey(feedURL), &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

// RemoveCachedPosts deletes the cache entry for feedURL.
func (s *Storage) RemoveCachedPosts(ctx context.Context, feedURL string) error {
	return s.db.Remove(ctx, PostCacheKey(feedURL))
}

// --- Display count preference ---

// SetDisplayCount persists the number of posts to display.
func (s *Storage) SetDisplayCount(ctx context.Context, count int) error {
	return s.set(ctx, DisplayCountKey, count)
}

// DisplayCount returns the display preference, model.DefaultDisplayCount when unset.
func (s *Storage) DisplayCount(ctx context.Context) (int, error) {
	var count *int
	if _, err := s.get(ctx, DisplayCountKey, &count); err != nil {
		return model.DefaultDisplayCount, err
	}
	if count == nil {
		return model.DefaultDisplayCount, nil
	}
	return *count, nil
}

// --- Read posts ---

// SaveReadPostGUIDs replaces the persisted read-post identifiers.
func (s *Storage) SaveReadPostGUIDs(ctx context.Context, guids []string) error {
	if guids == nil {
		guids = []string{}
	}
	return s.set(ctx, ReadPostsKey, guids)
}

// ReadPostGUIDs returns the persisted read-post identifiers.
func (s *Storage) ReadPostGUIDs(ctx context.Context) ([]string, error) {
	var guids []string
	if _, err := s.get(ctx, ReadPostsKey, &guids); err != nil {
		return nil, err
	}
	if guids == nil {
		guids = []string{}
	}
	return guids, nil
}
