package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>Sample Feed</title>
    <link>https://sample.example</link>
    <item>
      <title>With GUID</title>
      <link>https://sample.example/1</link>
      <guid>urn:sample:1</guid>
      <dc:creator>Jane Doe</dc:creator>
      <pubDate>Mon, 01 Jan 2024 12:00:00 +0000</pubDate>
      <description><![CDATA[<p>Intro</p><img src="https://img.example/a.png"><img src="https://img.example/b.png">]]></description>
    </item>
    <item>
      <title>Without GUID</title>
      <link>https://sample.example/2</link>
      <pubDate>Tue, 02 Jan 2024 12:00:00 +0000</pubDate>
      <description>Plain text</description>
      <enclosure url="https://img.example/cover.jpg" length="10" type="image/jpeg"/>
    </item>
  </channel>
</rss>`

func TestFetchFeed_ConvertsItemsToPosts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleRSS)
	}))
	defer server.Close()

	data, err := NewFetcher().FetchFeed(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.FeedTitle != "Sample Feed" {
		t.Errorf("expected feed title 'Sample Feed', got %q", data.FeedTitle)
	}
	if len(data.Items) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(data.Items))
	}

	first := data.Items[0]
	if first.GUID != "urn:sample:1" {
		t.Errorf("expected guid from feed, got %q", first.GUID)
	}
	if first.Author != "Jane Doe" {
		t.Errorf("expected author from dc:creator, got %q", first.Author)
	}
	if first.ISODate != "2024-01-01T12:00:00.000Z" {
		t.Errorf("expected ISO date, got %q", first.ISODate)
	}
	if first.FirstImage != "https://img.example/a.png" {
		t.Errorf("expected first <img> of the description, got %q", first.FirstImage)
	}
	if first.FeedTitle != "Sample Feed" {
		t.Errorf("posts should carry the feed title, got %q", first.FeedTitle)
	}
	if !strings.Contains(first.Content, "Intro") {
		t.Errorf("content should fall back to description, got %q", first.Content)
	}

	second := data.Items[1]
	if second.GUID != "https://sample.example/2" {
		t.Errorf("guid should fall back to link, got %q", second.GUID)
	}
	if second.FirstImage != "https://img.example/cover.jpg" {
		t.Errorf("expected image enclosure, got %q", second.FirstImage)
	}
	if second.Summary != "Plain text" {
		t.Errorf("expected summary from description, got %q", second.Summary)
	}
}

func TestFetchFeed_ReturnsErrorOnHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewFetcher().FetchFeed(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
	if !strings.Contains(err.Error(), server.URL) {
		t.Errorf("error should name the feed URL, got %v", err)
	}
}

func TestFetchFeed_ReturnsErrorOnMalformedFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	}))
	defer server.Close()

	if _, err := NewFetcher().FetchFeed(context.Background(), server.URL); err == nil {
		t.Fatal("expected error on malformed feed")
	}
}

func TestFetchOPML_ReturnsBodyAndSendsUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, `<opml version="2.0"></opml>`)
	}))
	defer server.Close()

	text, err := NewFetcher(WithUserAgent("zenith-test")).FetchOPML(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `<opml version="2.0"></opml>` {
		t.Errorf("got %q", text)
	}
	if gotUA != "zenith-test" {
		t.Errorf("expected user agent to be sent, got %q", gotUA)
	}
}

func TestFetchOPML_ReturnsErrorOnNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewFetcher().FetchOPML(context.Background(), server.URL)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestDomainLimiter_HonoursCancelledContext(t *testing.T) {
	dl := newDomainLimiter()
	ctx := context.Background()
	for i := 0; i < MaxConcurrencyPerDomain; i++ {
		if err := dl.acquire(ctx, "busy.example"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := dl.acquire(cancelled, "busy.example"); err == nil {
		t.Fatal("acquire should fail when all slots are taken and the context is done")
	}
}

func TestFetchOPML_HonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := NewFetcher(WithTimeout(50 * time.Millisecond))
	if _, err := f.FetchOPML(context.Background(), server.URL); err == nil {
		t.Fatal("expected timeout error")
	}
}
