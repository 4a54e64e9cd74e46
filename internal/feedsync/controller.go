// Package feedsync keeps the subscribed feeds, the cached posts and the
// session display state in step.
package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/zenith/internal/cache"
	"github.com/bryan-buckman/zenith/internal/model"
	"github.com/bryan-buckman/zenith/internal/storage"
)

// Fetcher retrieves feeds and OPML documents.
type Fetcher interface {
	FetchFeed(ctx context.Context, url string) (*model.FeedData, error)
	FetchOPML(ctx context.Context, url string) (string, error)
}

// Controller drives the display state of the selected feed: cached posts
// first, then a network refresh.
type Controller struct {
	state   *State
	store   *storage.Storage
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger

	cacheMu sync.Mutex // orders cache writes against removals
}

// NewController creates a controller writing to state.
func NewController(state *State, store *storage.Storage, fetcher Fetcher, opts ...Option) *Controller {
	o := newOptions(opts)
	return &Controller{
		state:   state,
		store:   store,
		fetcher: fetcher,
		ttl:     cache.TTL,
		now:     o.now,
		log:     o.log.With(slog.String("component", "feed-sync")),
	}
}

// Activate selects feed, shows its cached posts and refreshes it from the
// network, returning when the refresh has been applied. A nil feed clears
// the selection. Fetch failures are recorded in the session state; the
// returned error only reports storage failures.
func (c *Controller) Activate(ctx context.Context, feed *model.Feed) error {
	done, err := c.Start(ctx, feed)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start performs the synchronous part of Activate: selection, persistence of
// the selection and display of cached posts. The network refresh continues
// in the background, detached from ctx cancellation; the returned channel is
// closed once it has finished.
func (c *Controller) Start(ctx context.Context, feed *model.Feed) (<-chan struct{}, error) {
	done := make(chan struct{})

	if feed == nil {
		c.state.clearSelection()
		close(done)
		if err := c.store.SetLastSelectedFeedID(ctx, ""); err != nil {
			return done, fmt.Errorf("persist selection: %w", err)
		}
		return done, nil
	}

	f := *feed
	t := c.state.begin(f)
	if err := c.store.SetLastSelectedFeedID(ctx, f.ID); err != nil {
		c.state.finish(t)
		close(done)
		return done, fmt.Errorf("persist selection: %w", err)
	}

	c.showCached(ctx, t, f)
	c.state.startRefresh(t)

	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		defer c.state.finish(t)
		c.sync(bg, t, f)
	}()
	return done, nil
}

// showCached displays the cache entry for f if there is one.
func (c *Controller) showCached(ctx context.Context, t ticket, f model.Feed) {
	log := c.log.With(slog.String("url", f.URL))
	entry, err := c.store.CachedPosts(ctx, f.URL)
	if err != nil {
		log.Warn("Reading cached posts failed", slog.Any("error", err))
	}
	if entry == nil {
		c.state.showEmpty(t)
		return
	}
	now := c.now()
	stale := cache.IsStale(*entry, now, c.ttl)
	c.state.showCached(t, entry.Posts, stale)
	log.Debug("Showing cached posts",
		slog.Int("posts", len(entry.Posts)),
		slog.Duration("age", cache.Age(*entry, now)),
		slog.Bool("stale", stale),
	)
}

// sync fetches f and applies the outcome if t is still current. The cache
// entry is written either way.
func (c *Controller) sync(ctx context.Context, t ticket, f model.Feed) {
	log := c.log.With(slog.String("url", f.URL))

	posts, err := c.fetch(ctx, f)
	if err != nil {
		if !c.state.applyFailure(t, err.Error()) {
			log.Debug("Discarding failure of superseded activation")
		}
		log.Warn("Feed refresh failed", slog.Any("error", err))
		return
	}
	if !c.state.applyFresh(t, posts) {
		log.Debug("Discarding posts of superseded activation")
	}
	c.writeCache(ctx, f, posts)
}

// Refresh re-fetches the selected feed. Unlike Activate it leaves the loading
// flag and the session error alone and returns the fetch failure to the
// caller; posts on display are unchanged when it fails. A feed whose fetch is
// already in flight returns ErrRefreshInProgress.
func (c *Controller) Refresh(ctx context.Context, feed model.Feed) error {
	t, ok := c.state.ticketFor(feed.ID)
	if !ok {
		return ErrFeedNotActive
	}
	prev, err := c.state.beginRefresh(t)
	if err != nil {
		return err
	}
	defer c.state.endRefresh(t)

	posts, err := c.fetch(ctx, feed)
	if err != nil {
		c.state.restorePhase(t, prev)
		c.log.Warn("Explicit refresh failed", slog.String("url", feed.URL), slog.Any("error", err))
		return err
	}
	c.state.applyFresh(t, posts)
	c.writeCache(ctx, feed, posts)
	return nil
}

// ReportError surfaces msg as the session error.
func (c *Controller) ReportError(msg string) {
	c.state.setError(msg)
}

// fetch returns the feed's posts stamped with its resolved title.
func (c *Controller) fetch(ctx context.Context, f model.Feed) ([]model.Post, error) {
	data, err := c.fetcher.FetchFeed(ctx, f.URL)
	if err != nil {
		return nil, asFetchError(f.URL, err)
	}
	title := data.FeedTitle
	if title == "" {
		title = f.Title
	}
	posts := make([]model.Post, len(data.Items))
	for i, p := range data.Items {
		p.FeedTitle = title
		posts[i] = p
	}
	return posts, nil
}

// writeCache stores posts for f unless f has been unsubscribed meanwhile.
func (c *Controller) writeCache(ctx context.Context, f model.Feed, posts []model.Post) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if !c.state.subscribed(f.ID) {
		c.log.Debug("Skipping cache write of removed feed", slog.String("url", f.URL))
		return
	}
	if _, err := c.store.CachePosts(ctx, f.URL, posts, c.now()); err != nil {
		c.log.Error("Caching posts failed", slog.String("url", f.URL), slog.Any("error", err))
	}
}

// dropCache deletes the cache entry of an unsubscribed feed.
func (c *Controller) dropCache(ctx context.Context, url string) error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return c.store.RemoveCachedPosts(ctx, url)
}
