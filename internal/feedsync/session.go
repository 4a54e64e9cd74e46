package feedsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bryan-buckman/zenith/internal/model"
	"github.com/bryan-buckman/zenith/internal/storage"
)

// DefaultFeedsError is reported when the default OPML import fails on first run.
const DefaultFeedsError = "Could not load default feeds. Please add a feed manually."

// ErrInvalidDisplayCount is returned for display counts below 1.
var ErrInvalidDisplayCount = errors.New("display count must be at least 1")

// Session wires the sync components around one shared State.
type Session struct {
	State         *State
	Controller    *Controller
	Subscriptions *Subscriptions
	Reads         *ReadTracker

	store *storage.Storage
	log   *slog.Logger
}

// NewSession creates a session over store.
func NewSession(store *storage.Storage, fetcher Fetcher, parser OutlineParser, opts ...Option) *Session {
	state := NewState()
	ctrl := NewController(state, store, fetcher, opts...)
	return &Session{
		State:         state,
		Controller:    ctrl,
		Subscriptions: NewSubscriptions(state, store, fetcher, parser, ctrl, opts...),
		Reads:         NewReadTracker(store),
		store:         store,
		log:           newOptions(opts).log,
	}
}

// Load restores persisted state and activates the last selected feed, or the
// first feed. With no feeds saved, defaultOPMLURL is imported if set.
func (s *Session) Load(ctx context.Context, defaultOPMLURL string) error {
	if err := s.Reads.Load(ctx); err != nil {
		return err
	}
	feeds, err := s.Subscriptions.Load(ctx)
	if err != nil {
		return err
	}

	if len(feeds) > 0 {
		lastID, err := s.store.LastSelectedFeedID(ctx)
		if err != nil {
			s.log.Warn("Reading last selected feed failed", slog.Any("error", err))
		}
		feed, ok := findFeed(feeds, lastID)
		if !ok {
			feed = feeds[0]
		}
		return s.Controller.Activate(ctx, &feed)
	}

	if defaultOPMLURL == "" {
		return nil
	}
	if _, err := s.Subscriptions.ImportFromOutline(ctx, defaultOPMLURL); err != nil {
		s.log.Error("Failed to load default OPML", slog.String("url", defaultOPMLURL), slog.Any("error", err))
		s.Controller.ReportError(DefaultFeedsError)
	}
	return nil
}

// Selected returns the selected feed.
func (s *Session) Selected() (model.Feed, bool) {
	snap := s.State.Snapshot()
	if snap.SelectedFeed == nil {
		return model.Feed{}, false
	}
	return *snap.SelectedFeed, true
}

// RefreshSelected refreshes the selected feed.
func (s *Session) RefreshSelected(ctx context.Context) error {
	feed, ok := s.Selected()
	if !ok {
		return ErrFeedNotActive
	}
	return s.Controller.Refresh(ctx, feed)
}

// DisplayCount returns the persisted display preference.
func (s *Session) DisplayCount(ctx context.Context) (int, error) {
	return s.store.DisplayCount(ctx)
}

// SetDisplayCount persists the display preference.
func (s *Session) SetDisplayCount(ctx context.Context, count int) error {
	if count < 1 {
		return ErrInvalidDisplayCount
	}
	if err := s.store.SetDisplayCount(ctx, count); err != nil {
		return fmt.Errorf("save display count: %w", err)
	}
	return nil
}

// Visible returns the posts matching query (case-insensitive, title or
// summary), truncated to count unless count is model.ShowAllDisplayCount or more.
func Visible(posts []model.Post, query string, count int) []model.Post {
	filtered := posts
	if q := strings.ToLower(strings.TrimSpace(query)); q != "" {
		filtered = make([]model.Post, 0, len(posts))
		for _, p := range posts {
			if strings.Contains(strings.ToLower(p.Title), q) || strings.Contains(strings.ToLower(p.Summary), q) {
				filtered = append(filtered, p)
			}
		}
	}
	if count < model.ShowAllDisplayCount && count >= 0 && len(filtered) > count {
		filtered = filtered[:count]
	}
	return append([]model.Post{}, filtered...)
}
