package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

var ErrBackendUnavailable = errors.New("backend unavailable")

// Store is the byte-oriented key-value contract behind the service cache.
// A zero ttl means the key never expires.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	Ping(ctx context.Context) error
	Close() error
}
