package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bryan-buckman/zenith/internal/model"
	"github.com/bryan-buckman/zenith/internal/storage"
)

// OutlineParser turns OPML text into feed outlines.
type OutlineParser interface {
	Parse(text string) ([]model.Outline, error)
}

// Subscriptions owns the list of subscribed feeds. Every mutation is
// persisted before the in-memory list changes.
type Subscriptions struct {
	mu      sync.Mutex // serializes mutations
	state   *State
	store   *storage.Storage
	fetcher Fetcher
	parser  OutlineParser
	sync    *Controller
	log     *slog.Logger
}

// NewSubscriptions creates a manager that activates feeds through ctrl.
func NewSubscriptions(state *State, store *storage.Storage, fetcher Fetcher, parser OutlineParser, ctrl *Controller, opts ...Option) *Subscriptions {
	o := newOptions(opts)
	return &Subscriptions{
		state:   state,
		store:   store,
		fetcher: fetcher,
		parser:  parser,
		sync:    ctrl,
		log:     o.log.With(slog.String("component", "subscriptions")),
	}
}

// CanonicalURL returns the identity form of a feed URL.
func CanonicalURL(raw string) string {
	return strings.TrimSpace(raw)
}

// Load restores the persisted feed list.
func (m *Subscriptions) Load(ctx context.Context) ([]model.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	feeds, err := m.store.Feeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feeds: %w", err)
	}
	m.state.setFeeds(feeds)
	return feeds, nil
}

// Feeds returns the subscribed feeds in order.
func (m *Subscriptions) Feeds() []model.Feed {
	return m.state.feedList()
}

// Find returns the subscribed feed with id.
func (m *Subscriptions) Find(id string) (model.Feed, bool) {
	return findFeed(m.state.feedList(), id)
}

// Add validates rawURL by fetching it, subscribes to it and activates it.
func (m *Subscriptions) Add(ctx context.Context, rawURL string) (model.Feed, error) {
	feed, err := m.add(ctx, rawURL)
	if err != nil {
		return model.Feed{}, err
	}
	if err := m.sync.Activate(ctx, &feed); err != nil {
		return feed, err
	}
	return feed, nil
}

func (m *Subscriptions) add(ctx context.Context, rawURL string) (model.Feed, error) {
	url := CanonicalURL(rawURL)
	if url == "" {
		return model.Feed{}, ErrEmptyURL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.state.feedList()
	if _, ok := findFeed(current, url); ok {
		return model.Feed{}, &DuplicateFeedError{URL: url}
	}

	data, err := m.fetcher.FetchFeed(ctx, url)
	if err != nil {
		m.log.Warn("Feed validation failed", slog.String("url", url), slog.Any("error", err))
		return model.Feed{}, asFetchError(url, err)
	}
	title := data.FeedTitle
	if title == "" {
		title = url
	}
	feed := model.NewFeed(url, title)

	updated := append(current, feed)
	if err := m.store.SaveFeeds(ctx, updated); err != nil {
		return model.Feed{}, fmt.Errorf("save feeds: %w", err)
	}
	m.state.setFeeds(updated)
	m.log.Info("Feed added", slog.String("url", url), slog.String("title", title))
	return feed, nil
}

// Remove unsubscribes from the feed with id and drops its cached posts. If it
// was selected, the first remaining feed is activated, or none.
func (m *Subscriptions) Remove(ctx context.Context, id string) error {
	next, wasSelected, err := m.remove(ctx, id)
	if err != nil {
		return err
	}
	if !wasSelected {
		return nil
	}
	return m.sync.Activate(ctx, next)
}

func (m *Subscriptions) remove(ctx context.Context, id string) (*model.Feed, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.state.feedList()
	removed, ok := findFeed(current, id)
	if !ok {
		return nil, false, ErrFeedNotFound
	}
	updated := make([]model.Feed, 0, len(current)-1)
	for _, f := range current {
		if f.ID != id {
			updated = append(updated, f)
		}
	}
	if err := m.store.SaveFeeds(ctx, updated); err != nil {
		return nil, false, fmt.Errorf("save feeds: %w", err)
	}
	m.state.setFeeds(updated)
	if err := m.sync.dropCache(ctx, removed.URL); err != nil {
		m.log.Warn("Removing cached posts failed", slog.String("url", removed.URL), slog.Any("error", err))
	}
	m.log.Info("Feed removed", slog.String("url", removed.URL))

	if m.state.selectedID() != id {
		return nil, false, nil
	}
	if len(updated) == 0 {
		return nil, true, nil
	}
	next := updated[0]
	return &next, true, nil
}

// ImportFromOutline subscribes to every feed of the OPML document at url that
// is not already subscribed, in document order. It returns the feeds added.
// When nothing is new the set is left untouched.
func (m *Subscriptions) ImportFromOutline(ctx context.Context, url string) ([]model.Feed, error) {
	hadSelection := m.state.selectedID() != ""

	added, err := m.importFromOutline(ctx, url)
	if err != nil || len(added) == 0 {
		return added, err
	}
	if !hadSelection {
		first := added[0]
		if err := m.sync.Activate(ctx, &first); err != nil {
			return added, err
		}
	}
	return added, nil
}

func (m *Subscriptions) importFromOutline(ctx context.Context, url string) ([]model.Feed, error) {
	log := m.log.With(slog.String("url", url))

	text, err := m.fetcher.FetchOPML(ctx, url)
	if err != nil {
		log.Warn("OPML fetch failed", slog.Any("error", err))
		return nil, asFetchError(url, err)
	}
	outlines, err := m.parser.Parse(text)
	if err != nil {
		log.Warn("OPML parse failed", slog.Any("error", err))
		return nil, &ParseError{URL: url, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.state.feedList()
	seen := make(map[string]bool, len(current)+len(outlines))
	for _, f := range current {
		seen[f.URL] = true
	}
	var added []model.Feed
	for _, o := range outlines {
		u := CanonicalURL(o.XMLURL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		title := o.Title
		if title == "" {
			title = o.Text
		}
		if title == "" {
			title = u
		}
		added = append(added, model.NewFeed(u, title))
	}
	if len(added) == 0 {
		log.Info("OPML import added no new feeds", slog.Int("outlines", len(outlines)))
		return nil, nil
	}

	updated := append(current, added...)
	if err := m.store.SaveFeeds(ctx, updated); err != nil {
		return nil, fmt.Errorf("save feeds: %w", err)
	}
	m.state.setFeeds(updated)
	log.Info("OPML imported",
		slog.Int("outlines", len(outlines)),
		slog.Int("added", len(added)),
	)
	return added, nil
}

func findFeed(feeds []model.Feed, id string) (model.Feed, bool) {
	for _, f := range feeds {
		if f.ID == id {
			return f, true
		}
	}
	return model.Feed{}, false
}
