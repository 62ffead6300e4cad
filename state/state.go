package state

import (
	"context"
	"time"
)

// Manager is the key-value capability behind the exact response cache and
// the per-tenant cache counters. Backed by Valkey in production and by an
// in-process store when no endpoint is configured.
type Manager interface {
	// Saves the cache for a given key with a given duration.
	SaveCache(ctx context.Context, key string, value []byte, duration time.Duration) error

	// Loads the cache for a given key. Returns (nil, nil) when the key
	// does not exist or has expired.
	LoadCache(ctx context.Context, key string) ([]byte, error)

	// Atomically adds one to the counter at key and returns the new value.
	// Missing counters start from zero.
	Increment(ctx context.Context, key string) (int64, error)
}
