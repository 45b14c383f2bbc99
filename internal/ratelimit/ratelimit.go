// Package ratelimit implements a fixed-window counter on the store's
// atomic INCR + EXPIRE. Windows are discrete buckets, so up to 2x the limit
// can pass across a window boundary; that imprecision is accepted.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tickerpulse/internal/store"
)

type Limiter struct {
	store  store.Store
	logger *logrus.Logger
}

func New(s store.Store, logger *logrus.Logger) *Limiter {
	return &Limiter{store: s, logger: logger}
}

// IsRateLimited increments the counter for key and reports whether the
// post-increment count exceeds limit. The first hit in a fresh window sets
// the window expiry; INCR being atomic makes that writer unambiguous.
// Store failures degrade to "not limited" rather than blocking ingestion.
func (l *Limiter) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) bool {
	counterKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := l.store.Incr(ctx, counterKey)
	if err != nil {
		l.logger.Warnf("Rate limiter store error for %s, allowing request: %v", key, err)
		return false
	}
	if count == 1 {
		if err := l.store.Expire(ctx, counterKey, window); err != nil {
			l.logger.Warnf("Rate limiter expire failed for %s: %v", key, err)
		}
	}
	return count > int64(limit)
}
