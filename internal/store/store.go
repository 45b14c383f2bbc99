// Package store abstracts the shared key-value/pub-sub backend behind the
// narrow set of primitives the queue, cache, rate limiter and subscription
// registry actually use. Production runs on Redis; tests run on the memory
// implementation.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/HGet when the key or field does not exist.
var ErrNotFound = errors.New("store: key not found")

// Message is one published pub/sub payload.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub channel subscription. Close releases the
// dedicated connection backing it.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Store is the backing-store contract. All operations are safe for
// concurrent use; atomicity guarantees (Incr, SetNX) come from the backend.
type Store interface {
	// Counters and plain keys.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Hashes.
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Sets.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Sorted sets (queue scheduling).
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZPopMin(ctx context.Context, key string) (member string, score float64, ok bool, err error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)

	// Pub/sub.
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	Close() error
}
