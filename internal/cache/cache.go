// Package cache is a read-through TTL cache on the backing store, with a
// small in-process hot map in front of it. Pattern invalidation is
// broadcast over a pub/sub channel so every instance drops its hot copies.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"tickerpulse/internal/store"
)

// TTL tiers. The store's native expiry enforces them; a read can never
// return an entry whose TTL has elapsed.
const (
	TTLLong      = 24 * time.Hour   // slow-changing metadata
	TTLMedium    = time.Hour        // derived aggregates
	TTLShort     = 5 * time.Minute  // near-real-time
	TTLVeryShort = time.Minute      // highly volatile
)

const invalidationChannel = "cache:invalidate"

type hotEntry struct {
	value     string
	expiresAt time.Time
}

type Service struct {
	store  store.Store
	logger *logrus.Logger

	mu  sync.RWMutex
	hot map[string]hotEntry

	sub store.Subscription
}

func New(s store.Store, logger *logrus.Logger) *Service {
	return &Service{
		store:  s,
		logger: logger,
		hot:    make(map[string]hotEntry),
	}
}

// Start subscribes to the invalidation channel so pattern invalidations
// from other instances clear this instance's hot map too.
func (c *Service) Start(ctx context.Context) error {
	sub, err := c.store.Subscribe(ctx, invalidationChannel)
	if err != nil {
		return err
	}
	c.sub = sub
	go func() {
		for msg := range sub.Messages() {
			c.dropHotMatching(msg.Payload)
		}
	}()
	return nil
}

// GetOrFetch returns the cached value for key, fetching and storing it with
// the given TTL on a miss. dest must be a pointer; values round-trip as
// JSON. Store failures degrade to a plain fetch.
func (c *Service) GetOrFetch(ctx context.Context, key string, ttl time.Duration, dest interface{}, fetch func(context.Context) (interface{}, error)) error {
	c.mu.RLock()
	if e, ok := c.hot[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.RUnlock()
		return json.Unmarshal([]byte(e.value), dest)
	}
	c.mu.RUnlock()

	// A store hit is served as-is. Stamping the hot map here would grant
	// the value a fresh TTL the backing key no longer has, letting it
	// outlive the store's expiry; only writes prime the hot map, where
	// both clocks start together.
	raw, err := c.store.Get(ctx, key)
	if err == nil {
		return json.Unmarshal([]byte(raw), dest)
	}
	if err != store.ErrNotFound {
		c.logger.Warnf("Cache read failed for %s, fetching directly: %v", key, err)
	}

	fetched, err := fetch(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(fetched)
	if err != nil {
		return err
	}
	if err := c.store.SetEX(ctx, key, string(data), ttl); err != nil {
		c.logger.Warnf("Cache write failed for %s: %v", key, err)
	}
	c.setHot(key, string(data), ttl)
	return json.Unmarshal(data, dest)
}

// Set stores a value directly under key with the given TTL.
func (c *Service) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.store.SetEX(ctx, key, string(data), ttl); err != nil {
		return err
	}
	c.setHot(key, string(data), ttl)
	return nil
}

// Invalidate removes all keys matching pattern (e.g. "ticker:AAPL:*") and
// broadcasts the pattern so other instances drop their hot copies.
func (c *Service) Invalidate(ctx context.Context, pattern string) error {
	keys, err := c.store.Keys(ctx, pattern)
	if err != nil {
		c.logger.Warnf("Cache invalidation scan failed for %s: %v", pattern, err)
		return err
	}
	if len(keys) > 0 {
		if err := c.store.Del(ctx, keys...); err != nil {
			return err
		}
	}
	c.dropHotMatching(pattern)
	if err := c.store.Publish(ctx, invalidationChannel, pattern); err != nil {
		c.logger.Warnf("Cache invalidation broadcast failed for %s: %v", pattern, err)
	}
	return nil
}

func (c *Service) setHot(key, value string, ttl time.Duration) {
	c.mu.Lock()
	c.hot[key] = hotEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Service) dropHotMatching(pattern string) {
	prefix := strings.TrimSuffix(pattern, "*")
	exact := prefix == pattern
	c.mu.Lock()
	for k := range c.hot {
		if (exact && k == pattern) || (!exact && strings.HasPrefix(k, prefix)) {
			delete(c.hot, k)
		}
	}
	c.mu.Unlock()
}

func (c *Service) Close() error {
	if c.sub != nil {
		return c.sub.Close()
	}
	return nil
}
