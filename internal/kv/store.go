// Package kv provides the key-value store used for rate-limit counters.
//
// Two backends are available: an in-process Memory store for single-node
// deployments and tests, and a Redis store for sharing counters between
// relay instances.
package kv

import (
	"context"
	"time"
)

// Store is a byte-valued key-value store with per-key expiry.
type Store interface {
	// Get returns the stored value, or nil and no error if the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key. A ttl of zero means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
