package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/models"
	"tickerpulse/internal/queue"
	"tickerpulse/internal/store/memory"
)

func startPool(t *testing.T, set *queue.Set, register func(*Pool)) {
	t.Helper()
	pool := NewPool(set, 2, 10*time.Millisecond, testLogger())
	register(pool)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	pool.Start(ctx, &wg)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestPoolExecutesAndCompletesJob(t *testing.T) {
	mem := memory.New()
	set := queue.NewSet(mem, testLogger())
	ctx := context.Background()

	var executed atomic.Int32
	startPool(t, set, func(p *Pool) {
		p.Register(queue.QueueMarketData, models.JobFetchMarketData, func(context.Context, *queue.Job) error {
			executed.Add(1)
			return nil
		})
	})

	q, _ := set.Get(queue.QueueMarketData)
	job, err := q.Enqueue(ctx, models.JobFetchMarketData, models.IngestJob{Ticker: "AAPL"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return executed.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := q.Job(ctx, job.ID)
		return errors.Is(err, queue.ErrJobNotFound)
	}, 2*time.Second, 10*time.Millisecond, "completed jobs are discarded")
}

func TestPoolFailsJobWithUnregisteredHandler(t *testing.T) {
	mem := memory.New()
	set := queue.NewSet(mem, testLogger())
	ctx := context.Background()

	startPool(t, set, func(*Pool) {})

	q, _ := set.Get(queue.QueueBroadcast) // single attempt, fails straight through
	_, err := q.Enqueue(ctx, models.JobBroadcast, models.WebSocketJob{Ticker: "AAPL", EventType: "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		failed, err := q.FailedJobs(ctx)
		return err == nil && len(failed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)
	assert.Contains(t, failed[0].LastError, "no handler registered")
}

func TestPoolRecoversFromHandlerPanic(t *testing.T) {
	mem := memory.New()
	set := queue.NewSet(mem, testLogger())
	ctx := context.Background()

	startPool(t, set, func(p *Pool) {
		p.Register(queue.QueueBroadcast, models.JobBroadcast, func(context.Context, *queue.Job) error {
			panic("corrupt frame")
		})
	})

	q, _ := set.Get(queue.QueueBroadcast)
	_, err := q.Enqueue(ctx, models.JobBroadcast, models.WebSocketJob{Ticker: "AAPL", EventType: "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		failed, err := q.FailedJobs(ctx)
		return err == nil && len(failed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)
	assert.Contains(t, failed[0].LastError, "handler panic")
}
