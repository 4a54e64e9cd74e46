// Package model defines shared data structures.
package model

import "time"

// Feed represents a subscribed RSS/Atom feed. ID and URL hold the same
// canonical source address.
type Feed struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// NewFeed builds a Feed identified by its URL.
func NewFeed(url, title string) Feed {
	return Feed{ID: url, URL: url, Title: title}
}

// Post represents a single article/entry from a feed at the time it was fetched.
type Post struct {
	GUID       string `json:"guid"` // unique identifier from feed, falls back to Link
	Title      string `json:"title"`
	Link       string `json:"link"`
	ISODate    string `json:"isoDate"`
	Content    string `json:"content"`
	Summary    string `json:"summary"`
	FirstImage string `json:"firstImage,omitempty"`
	Author     string `json:"author,omitempty"`
	FeedTitle  string `json:"feedTitle"`
}

// CachedPosts is the stored post collection for one feed.
type CachedPosts struct {
	Timestamp time.Time `json:"timestamp"` // time of the last successful fetch
	Posts     []Post    `json:"posts"`
}

// FeedData is what a fetch of a feed URL yields.
type FeedData struct {
	FeedTitle string
	Items     []Post
}

// Outline is a single feed entry of an imported OPML document.
type Outline struct {
	XMLURL  string
	Title   string
	HTMLURL string
	Text    string
}

// Display count preference values.
const (
	DefaultDisplayCount = 24
	// ShowAllDisplayCount and above disable truncation.
	ShowAllDisplayCount = 999
)
