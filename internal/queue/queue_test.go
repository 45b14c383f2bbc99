package queue

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/models"
	"tickerpulse/internal/store/memory"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestQueue(opts Options) (*Queue, *memory.Store) {
	mem := memory.New()
	return NewQueue("alerts", mem, opts, testLogger()), mem
}

func ingestPayload(ticker string) models.IngestJob {
	return models.IngestJob{Ticker: ticker}
}

func TestEnqueueRejectsInvalidPayloads(t *testing.T) {
	q, _ := newTestQueue(Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "mine_bitcoin", ingestPayload("AAPL"))
	assert.Error(t, err)

	_, err = q.Enqueue(ctx, models.JobFetchMarketData, models.IngestJob{})
	assert.Error(t, err, "missing ticker must be rejected at enqueue time")

	_, err = q.Enqueue(ctx, models.JobDistributeAlert, models.AlertJob{Ticker: "AAPL"})
	assert.Error(t, err, "user_id and alert_type are required")
}

func TestEnqueueDeduplicatesByJobID(t *testing.T) {
	q, _ := newTestQueue(Options{})
	ctx := context.Background()

	first, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"),
		WithJobID("fetch_market_data:AAPL:1"))
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"),
		WithJobID("fetch_market_data:AAPL:1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths.Waiting, "duplicate enqueue must be a no-op")
}

func TestDeterministicIDBucketsByMinute(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 5, 0, time.UTC)

	sameBucket := DeterministicID("volume_spike", "AAPL:7", base.Add(30*time.Second))
	assert.Equal(t, DeterministicID("volume_spike", "AAPL:7", base), sameBucket)

	nextBucket := DeterministicID("volume_spike", "AAPL:7", base.Add(time.Minute))
	assert.NotEqual(t, DeterministicID("volume_spike", "AAPL:7", base), nextBucket)
}

func TestNextOrdersByPriorityThenFIFO(t *testing.T) {
	q, _ := newTestQueue(Options{})
	ctx := context.Background()

	enqueue := func(id string, priority int) {
		_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"),
			WithJobID(id), WithPriority(priority))
		require.NoError(t, err)
	}
	enqueue("low-1", 3)
	enqueue("high-1", 1)
	enqueue("low-2", 3)
	enqueue("high-2", 1)

	var got []string
	for {
		job, ok, err := q.Next(ctx, "w1")
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, job.ID)
	}
	assert.Equal(t, []string{"high-1", "high-2", "low-1", "low-2"}, got)
}

func TestCompleteDiscardsJob(t *testing.T) {
	q, _ := newTestQueue(Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"), WithJobID("j1"))
	require.NoError(t, err)

	job, ok, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Complete(ctx, job.ID))

	_, err = q.Job(ctx, "j1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depths{}, depths)
}

func TestFailReschedulesWithBackoff(t *testing.T) {
	q, _ := newTestQueue(Options{BackoffBase: time.Millisecond})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"), WithJobID("j1"))
	require.NoError(t, err)

	job, ok, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Fail(ctx, job, errors.New("provider timeout")))

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths.Delayed)
	assert.Zero(t, depths.Waiting)

	// Nothing to serve until the backoff elapses and the job is promoted.
	_, ok, err = q.Next(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Promote(ctx))

	job, ok, err = q.Next(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, 2, job.AttemptsMade)
	assert.Equal(t, "provider timeout", job.LastError)
}

func TestAttemptsCountEveryPickup(t *testing.T) {
	q, _ := newTestQueue(Options{BackoffBase: time.Millisecond})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"), WithJobID("j1"))
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, q.Promote(ctx))
		job, ok, err := q.Next(ctx, "w1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, attempt, job.AttemptsMade)
		require.NoError(t, q.Fail(ctx, job, errors.New("flaky upstream")))
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Promote(ctx))
	job, ok, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, job.AttemptsMade)
	require.NoError(t, q.Complete(ctx, job.ID))
}

func TestExhaustedJobIsRetainedAndRetryable(t *testing.T) {
	q, _ := newTestQueue(Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"),
		WithJobID("j1"), WithMaxAttempts(1))
	require.NoError(t, err)

	job, ok, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Fail(ctx, job, errors.New("provider down")))

	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, StatusFailed, failed[0].Status)
	assert.Equal(t, "provider down", failed[0].LastError)

	require.NoError(t, q.Retry(ctx, "j1"))
	job, err = q.Job(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, job.Status)
	assert.Zero(t, job.AttemptsMade)
	assert.Empty(t, job.LastError)

	assert.ErrorIs(t, q.Retry(ctx, "j1"), ErrNotRetryable)
}

func TestCancelOnlyPendingJobs(t *testing.T) {
	q, _ := newTestQueue(Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"), WithJobID("j1"))
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, "j1"))
	_, err = q.Job(ctx, "j1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// A cancelled job never reaches a worker even though it was scheduled.
	_, ok, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("TSLA"), WithJobID("j2"))
	require.NoError(t, err)
	_, ok, err = q.Next(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.ErrorIs(t, q.Cancel(ctx, "j2"), ErrNotCancellable)
}

func TestRemoveFailedDropsRetainedJob(t *testing.T) {
	q, _ := newTestQueue(Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"),
		WithJobID("j1"), WithMaxAttempts(1))
	require.NoError(t, err)
	job, _, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, errors.New("boom")))

	require.NoError(t, q.RemoveFailed(ctx, "j1"))
	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
	_, err = q.Job(ctx, "j1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStalledJobRequeuedThenFailedPermanently(t *testing.T) {
	mem := memory.New()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	q := NewQueue("alerts", mem, Options{MaxStalled: 1}, testLogger())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"), WithJobID("j1"))
	require.NoError(t, err)

	_, ok, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	// Lock still live: the sweep must leave the job alone.
	require.NoError(t, q.CheckStalled(ctx))
	job, err := q.Job(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, job.Status)

	// Worker dies: lock lapses, first stall re-queues.
	now = now.Add(31 * time.Second)
	require.NoError(t, q.CheckStalled(ctx))
	job, err = q.Job(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, job.Status)
	assert.Equal(t, 1, job.StalledCount)

	// Second stall exceeds the budget: parked as failed, not re-queued.
	_, ok, err = q.Next(ctx, "w2")
	require.NoError(t, err)
	require.True(t, ok)
	now = now.Add(31 * time.Second)
	require.NoError(t, q.CheckStalled(ctx))

	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].StalledCount)
	assert.Contains(t, failed[0].LastError, "stalled")
}

func TestRenewLockKeepsJobAlive(t *testing.T) {
	mem := memory.New()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	q := NewQueue("alerts", mem, Options{}, testLogger())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobFetchMarketData, ingestPayload("AAPL"), WithJobID("j1"))
	require.NoError(t, err)
	_, ok, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(20 * time.Second)
	require.NoError(t, q.RenewLock(ctx, "j1"))
	now = now.Add(20 * time.Second)
	require.NoError(t, q.CheckStalled(ctx))

	job, err := q.Job(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, job.Status)
	assert.Zero(t, job.StalledCount)
}
