// Package rss provides feed fetching and parsing.
package rss

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/zenith/internal/model"
	"github.com/mmcdole/gofeed"
)

// Concurrency settings
const (
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// DefaultTimeout bounds a single fetch when no client is supplied.
const DefaultTimeout = 30 * time.Second

// maxOPMLSize caps the body read by FetchOPML.
const maxOPMLSize = 10 << 20

// isoLayout matches JavaScript's Date.toISOString output.
const isoLayout = "2006-01-02T15:04:05.000Z"

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newDomainLimiter() *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < DelayBetweenDomainRequests {
			select {
			case <-time.After(DelayBetweenDomainRequests - elapsed):
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the client used for feed and OPML requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client = &http.Client{Timeout: d}
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// Fetcher retrieves feeds and OPML documents over HTTP.
type Fetcher struct {
	client        *http.Client
	userAgent     string
	parser        *gofeed.Parser
	domainLimiter *domainLimiter
	log           *slog.Logger
}

// NewFetcher creates a new fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:        &http.Client{Timeout: DefaultTimeout},
		domainLimiter: newDomainLimiter(),
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.parser = gofeed.NewParser()
	f.parser.Client = f.client
	if f.userAgent != "" {
		f.parser.UserAgent = f.userAgent
	}
	return f
}

// FetchFeed fetches and parses a single feed. Every returned post is stamped
// with the feed's own title.
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) (*model.FeedData, error) {
	log := f.log.With(slog.String("url", feedURL))

	domain := extractDomain(feedURL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limit cancelled for %s: %w", feedURL, err)
	}
	defer f.domainLimiter.release(domain)

	start := time.Now()
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		log.Warn("Feed fetch failed", slog.Any("error", err))
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	now := time.Now()
	data := &model.FeedData{
		FeedTitle: strings.TrimSpace(parsed.Title),
		Items:     make([]model.Post, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		data.Items = append(data.Items, convertItem(item, data.FeedTitle, now))
	}
	log.Debug("Feed fetched",
		slog.Int("items", len(data.Items)),
		slog.Duration("duration", time.Since(start)),
	)
	return data, nil
}

// FetchOPML returns the raw text of the OPML document at opmlURL.
func (f *Fetcher) FetchOPML(ctx context.Context, opmlURL string) (string, error) {
	log := f.log.With(slog.String("url", opmlURL))

	domain := extractDomain(opmlURL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return "", fmt.Errorf("rate limit cancelled for %s: %w", opmlURL, err)
	}
	defer f.domainLimiter.release(domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opmlURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request for %s: %w", opmlURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		log.Warn("OPML fetch failed", slog.Any("error", err))
		return "", fmt.Errorf("fetch opml %s: %w", opmlURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Unexpected status code", slog.Int("status_code", resp.StatusCode))
		return "", fmt.Errorf("fetch opml %s: unexpected status %d", opmlURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOPMLSize))
	if err != nil {
		return "", fmt.Errorf("read opml %s: %w", opmlURL, err)
	}
	return string(body), nil
}

// convertItem maps a parsed item onto a Post.
func convertItem(item *gofeed.Item, feedTitle string, fetchedAt time.Time) model.Post {
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}

	published := fetchedAt
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	return model.Post{
		GUID:       guid,
		Title:      item.Title,
		Link:       item.Link,
		ISODate:    published.UTC().Format(isoLayout),
		Content:    content,
		Summary:    summary,
		FirstImage: firstImage(item),
		Author:     authorName(item),
		FeedTitle:  feedTitle,
	}
}

func authorName(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	return ""
}

// firstImage prefers the item's declared image, then an image enclosure,
// then the first <img> in the item's HTML.
func firstImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if src := firstImageInHTML(item.Content); src != "" {
		return src
	}
	return firstImageInHTML(item.Description)
}

func firstImageInHTML(html string) string {
	if !strings.Contains(html, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}
