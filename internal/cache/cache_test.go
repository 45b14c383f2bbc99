package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/store"
	"tickerpulse/internal/store/memory"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestGetOrFetchCachesFetchResult(t *testing.T) {
	svc := New(memory.New(), testLogger())
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (interface{}, error) {
		calls++
		return map[string]float64{"price": 187.5}, nil
	}

	var got map[string]float64
	require.NoError(t, svc.GetOrFetch(ctx, "ticker:AAPL:quote", TTLShort, &got, fetch))
	require.NoError(t, svc.GetOrFetch(ctx, "ticker:AAPL:quote", TTLShort, &got, fetch))

	assert.Equal(t, 1, calls, "second read must be a cache hit")
	assert.Equal(t, 187.5, got["price"])
}

func TestGetOrFetchHonorsStoreExpiry(t *testing.T) {
	mem := memory.New()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	svc := New(mem, testLogger())
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	var got int
	require.NoError(t, svc.GetOrFetch(ctx, "k", TTLVeryShort, &got, fetch))
	assert.Equal(t, 1, got)

	// Past the TTL the backing entry is gone; drop the hot copy the way an
	// invalidation would and force a re-fetch.
	now = now.Add(2 * time.Minute)
	svc.dropHotMatching("k")
	require.NoError(t, svc.GetOrFetch(ctx, "k", TTLVeryShort, &got, fetch))
	assert.Equal(t, 2, got)
}

func TestStoreHitNeverOutlivesBackingTTL(t *testing.T) {
	mem := memory.New()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	ctx := context.Background()

	a := New(mem, testLogger())
	b := New(mem, testLogger())
	require.NoError(t, a.Set(ctx, "ticker:AAPL:quote", 1, TTLVeryShort))

	calls := 0
	fetch := func(context.Context) (interface{}, error) {
		calls++
		return 2, nil
	}

	// Read-hit at half-life on another instance.
	now = now.Add(30 * time.Second)
	var got int
	require.NoError(t, b.GetOrFetch(ctx, "ticker:AAPL:quote", TTLVeryShort, &got, fetch))
	assert.Equal(t, 1, got)
	assert.Zero(t, calls)

	// Once the backing key expires, no instance may keep serving the old
	// value from its hot map.
	now = now.Add(31 * time.Second)
	require.NoError(t, b.GetOrFetch(ctx, "ticker:AAPL:quote", TTLVeryShort, &got, fetch))
	assert.Equal(t, 2, got)
	assert.Equal(t, 1, calls)
}

func TestInvalidatePatternDropsStoreKeys(t *testing.T) {
	mem := memory.New()
	svc := New(mem, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "ticker:AAPL:quote", 1, TTLShort))
	require.NoError(t, svc.Set(ctx, "ticker:AAPL:news", 2, TTLShort))
	require.NoError(t, svc.Set(ctx, "ticker:TSLA:quote", 3, TTLShort))

	require.NoError(t, svc.Invalidate(ctx, "ticker:AAPL:*"))

	_, err := mem.Get(ctx, "ticker:AAPL:quote")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.Get(ctx, "ticker:AAPL:news")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.Get(ctx, "ticker:TSLA:quote")
	assert.NoError(t, err, "other tickers must survive")
}

func TestInvalidationBroadcastClearsOtherInstances(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()

	a := New(mem, testLogger())
	b := New(mem, testLogger())
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer a.Close()
	defer b.Close()

	require.NoError(t, b.Set(ctx, "ticker:AAPL:quote", 1, TTLShort))

	// Simulate staleness: the backing key changes underneath b's hot copy,
	// then a invalidates the pattern.
	require.NoError(t, mem.SetEX(ctx, "ticker:AAPL:quote", "99", TTLShort))
	require.NoError(t, a.Invalidate(ctx, "ticker:AAPL:*"))

	var got int
	fetch := func(context.Context) (interface{}, error) { return 42, nil }
	require.Eventually(t, func() bool {
		if err := b.GetOrFetch(ctx, "ticker:AAPL:quote", TTLShort, &got, fetch); err != nil {
			return false
		}
		return got == 42
	}, time.Second, 10*time.Millisecond, "b must drop its hot copy and re-fetch")
}
