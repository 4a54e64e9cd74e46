package feedsync

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyURL is returned when a feed URL is blank.
	ErrEmptyURL = errors.New("feed url is empty")
	// ErrFeedNotFound is returned when removing a feed that is not subscribed.
	ErrFeedNotFound = errors.New("feed not found")
	// ErrFeedNotActive is returned by Refresh for a feed that is not selected.
	ErrFeedNotActive = errors.New("feed is not the selected feed")
	// ErrRefreshInProgress is returned by Refresh while the feed is being fetched.
	ErrRefreshInProgress = errors.New("feed refresh already in progress")
)

// DuplicateFeedError is returned when adding a URL that is already subscribed.
type DuplicateFeedError struct {
	URL string
}

func (e *DuplicateFeedError) Error() string {
	return fmt.Sprintf("feed already exists: %s", e.URL)
}

// FetchError reports a network or remote failure while fetching a feed or an
// OPML document. Error returns the fetcher's message unchanged.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return e.Err.Error() }

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports an OPML document that could not be turned into feeds.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse opml %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// asFetchError wraps err unless it already is a FetchError.
func asFetchError(url string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{URL: url, Err: err}
}
