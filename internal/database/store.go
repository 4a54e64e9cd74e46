// Package database provides storage backends for the feed cache.
package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("key not found")

// Store defines a durable key/value store.
// SQLite, PostgreSQL and in-memory implementations satisfy this interface.
// Each key is updated atomically on its own; there are no cross-key transactions.
type Store interface {
	Close() error

	// DatabaseType returns the name of the backend ("SQLite", "PostgreSQL" or "Memory").
	DatabaseType() string

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes the key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
