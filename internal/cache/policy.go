// Package cache decides whether a stored post collection can be trusted.
package cache

import (
	"time"

	"github.com/bryan-buckman/zenith/internal/model"
)

// TTL is how long a cached post collection stays fresh.
const TTL = 15 * time.Minute

// IsStale reports whether entry is older than ttl at now.
// An entry exactly ttl old is still fresh.
func IsStale(entry model.CachedPosts, now time.Time, ttl time.Duration) bool {
	return Age(entry, now) > ttl
}

// Age returns how long ago entry was fetched.
func Age(entry model.CachedPosts, now time.Time) time.Duration {
	return now.Sub(entry.Timestamp)
}
