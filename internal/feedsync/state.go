package feedsync

import (
	"sync"

	"github.com/bryan-buckman/zenith/internal/model"
)

// Phase is the position of the selected feed in the sync state machine:
//
//	Idle -> Loading -> {ShowingCached | ShowingEmpty} -> Refreshing
//	     -> {ShowingFresh | ShowingCachedStale | ShowingEmpty}
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseShowingCached
	PhaseShowingEmpty
	PhaseRefreshing
	PhaseShowingFresh
	PhaseShowingCachedStale
)

var phaseNames = [...]string{
	PhaseIdle:               "idle",
	PhaseLoading:            "loading",
	PhaseShowingCached:      "showing_cached",
	PhaseShowingEmpty:       "showing_empty",
	PhaseRefreshing:         "refreshing",
	PhaseShowingFresh:       "showing_fresh",
	PhaseShowingCachedStale: "showing_cached_stale",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ticket identifies one activation of one feed. Results carrying a ticket
// that is no longer current are not applied to the display.
type ticket struct {
	feedID string
	gen    uint64
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Feeds            []model.Feed `json:"feeds"`
	SelectedFeed     *model.Feed  `json:"selectedFeed"`
	Posts            []model.Post `json:"posts"`
	Loading          bool         `json:"loading"`
	Error            string       `json:"error,omitempty"`
	IsDataStale      bool         `json:"isDataStale"`
	RefreshingFeedID string       `json:"refreshingFeedId,omitempty"`
	Phase            Phase        `json:"phase"`
}

// SelectedID returns the selected feed id, or "" for none.
func (s Snapshot) SelectedID() string {
	if s.SelectedFeed == nil {
		return ""
	}
	return s.SelectedFeed.ID
}

// State holds the session state shared by Subscriptions and Controller.
// The feed list is written only by Subscriptions; every other field is
// written only by Controller.
type State struct {
	mu sync.RWMutex

	feeds []model.Feed

	selected   *model.Feed
	posts      []model.Post
	loading    bool
	err        string
	stale      bool
	refreshing string
	phase      Phase
	gen        uint64
}

// NewState returns an idle state with no feeds.
func NewState() *State {
	return &State{
		feeds: []model.Feed{},
		posts: []model.Post{},
	}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Feeds:            append([]model.Feed{}, s.feeds...),
		Posts:            append([]model.Post{}, s.posts...),
		Loading:          s.loading,
		Error:            s.err,
		IsDataStale:      s.stale,
		RefreshingFeedID: s.refreshing,
		Phase:            s.phase,
	}
	if s.selected != nil {
		f := *s.selected
		snap.SelectedFeed = &f
	}
	return snap
}

// --- Feed list (Subscriptions) ---

func (s *State) feedList() []model.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Feed{}, s.feeds...)
}

func (s *State) setFeeds(feeds []model.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds = append([]model.Feed{}, feeds...)
}

// subscribed reports whether a feed with id is in the feed list.
func (s *State) subscribed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.feeds {
		if f.ID == id {
			return true
		}
	}
	return false
}

func (s *State) selectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return ""
	}
	return s.selected.ID
}

// --- Sync fields (Controller) ---

func (s *State) current(t ticket) bool {
	return s.selected != nil && s.selected.ID == t.feedID && s.gen == t.gen
}

func (s *State) clearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.selected = nil
	s.posts = []model.Post{}
	s.loading = false
	s.err = ""
	s.stale = false
	s.refreshing = ""
	s.phase = PhaseIdle
}

func (s *State) begin(feed model.Feed) ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.loading = true
	s.err = ""
	s.selected = &feed
	s.posts = []model.Post{}
	s.stale = false
	s.refreshing = ""
	s.phase = PhaseLoading
	return ticket{feedID: feed.ID, gen: s.gen}
}

func (s *State) showCached(t ticket, posts []model.Post, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(t) {
		return
	}
	s.posts = posts
	s.stale = stale
	s.loading = false
	s.phase = PhaseShowingCached
}

func (s *State) showEmpty(t ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(t) {
		s.phase = PhaseShowingEmpty
	}
}

// startRefresh marks the ticket's feed as refreshing and returns the phase
// to fall back to if the refresh fails without an error being recorded.
func (s *State) startRefresh(t ticket) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(t) {
		return s.phase
	}
	prev := s.phase
	s.refreshing = t.feedID
	s.phase = PhaseRefreshing
	return prev
}

// beginRefresh is startRefresh for an explicit refresh. It fails while
// another fetch for the feed is in flight.
func (s *State) beginRefresh(t ticket) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(t) {
		return s.phase, ErrFeedNotActive
	}
	if s.refreshing != "" {
		return s.phase, ErrRefreshInProgress
	}
	prev := s.phase
	s.refreshing = t.feedID
	s.phase = PhaseRefreshing
	return prev, nil
}

// ticketFor returns a ticket for feedID if it is the selected feed.
func (s *State) ticketFor(feedID string) (ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil || s.selected.ID != feedID {
		return ticket{}, false
	}
	return ticket{feedID: feedID, gen: s.gen}, true
}

func (s *State) applyFresh(t ticket, posts []model.Post) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(t) {
		return false
	}
	s.posts = posts
	s.stale = false
	s.phase = PhaseShowingFresh
	return true
}

// applyFailure records msg; posts already shown stay. Cached posts keep the
// phase their staleness gives them.
func (s *State) applyFailure(t ticket, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(t) {
		return false
	}
	s.err = msg
	switch {
	case len(s.posts) > 0 && s.stale:
		s.phase = PhaseShowingCachedStale
	case len(s.posts) > 0:
		s.phase = PhaseShowingCached
	default:
		s.phase = PhaseShowingEmpty
	}
	return true
}

func (s *State) restorePhase(t ticket, prev Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(t) && s.phase == PhaseRefreshing {
		s.phase = prev
	}
}

// finish ends an activation: loading off, refreshing marker cleared.
func (s *State) finish(t ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(t) {
		return
	}
	s.loading = false
	if s.refreshing == t.feedID {
		s.refreshing = ""
	}
}

// endRefresh clears the refreshing marker without touching loading.
func (s *State) endRefresh(t ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(t) && s.refreshing == t.feedID {
		s.refreshing = ""
	}
}

func (s *State) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
	s.loading = false
}
