package feedsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/zenith/internal/database"
	"github.com/bryan-buckman/zenith/internal/model"
	"github.com/bryan-buckman/zenith/internal/opml"
	"github.com/bryan-buckman/zenith/internal/storage"
)

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeFetcher serves canned feeds and OPML documents. A gate registered for
// a URL blocks FetchFeed until the gate is closed.
type fakeFetcher struct {
	mu       sync.Mutex
	feeds    map[string]*model.FeedData
	feedErrs map[string]error
	opml     map[string]string
	opmlErrs map[string]error
	gates    map[string]chan struct{}
	calls    []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		feeds:    map[string]*model.FeedData{},
		feedErrs: map[string]error{},
		opml:     map[string]string{},
		opmlErrs: map[string]error{},
		gates:    map[string]chan struct{}{},
	}
}

func (f *fakeFetcher) setFeed(url, title string, posts ...model.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.feedErrs, url)
	f.feeds[url] = &model.FeedData{FeedTitle: title, Items: posts}
}

func (f *fakeFetcher) failFeed(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedErrs[url] = err
}

func (f *fakeFetcher) gate(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[url] = ch
	return ch
}

func (f *fakeFetcher) FetchFeed(ctx context.Context, url string) (*model.FeedData, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	gate := f.gates[url]
	delete(f.gates, url)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.feedErrs[url]; ok {
		return nil, err
	}
	data, ok := f.feeds[url]
	if !ok {
		return nil, fmt.Errorf("fetch feed %s: http error: 404 Not Found", url)
	}
	items := append([]model.Post{}, data.Items...)
	return &model.FeedData{FeedTitle: data.FeedTitle, Items: items}, nil
}

func (f *fakeFetcher) FetchOPML(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.opmlErrs[url]; ok {
		return "", err
	}
	text, ok := f.opml[url]
	if !ok {
		return "", errors.New("opml not found")
	}
	return text, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

// countingStore records writes per key.
type countingStore struct {
	*database.Memory
	mu   sync.Mutex
	sets map[string]int
	fail map[string]error
}

func newCountingStore() *countingStore {
	return &countingStore{Memory: database.NewMemory(), sets: map[string]int{}, fail: map[string]error{}}
}

func (c *countingStore) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	err := c.fail[key]
	c.sets[key]++
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Memory.Set(ctx, key, value)
}

func (c *countingStore) setCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[key]
}

type harness struct {
	db      *countingStore
	store   *storage.Storage
	fetcher *fakeFetcher
	session *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newCountingStore()
	store := storage.New(db)
	fetcher := newFakeFetcher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session := NewSession(store, fetcher, opml.Parser{},
		WithClock(func() time.Time { return testNow }),
		WithLogger(logger),
	)
	return &harness{db: db, store: store, fetcher: fetcher, session: session}
}

// subscribe persists feeds and loads them into the session without fetching.
func (h *harness) subscribe(t *testing.T, feeds ...model.Feed) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.SaveFeeds(ctx, feeds); err != nil {
		t.Fatalf("save feeds: %v", err)
	}
	if _, err := h.session.Subscriptions.Load(ctx); err != nil {
		t.Fatalf("load feeds: %v", err)
	}
}

func (h *harness) cached(t *testing.T, url string) *model.CachedPosts {
	t.Helper()
	entry, err := h.store.CachedPosts(context.Background(), url)
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	return entry
}

func post(guid string) model.Post {
	return model.Post{GUID: guid, Title: "Post " + guid, Link: "https://example.com/" + guid, Summary: "summary of " + guid}
}

func guids(posts []model.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.GUID
	}
	return out
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not finish")
	}
}
