// Package worker consumes jobs from the queue set and runs the registered
// domain handlers, reporting outcomes back to the queue for retry
// bookkeeping. Handlers are idempotent by contract: downstream writes key
// on natural identifiers, so re-execution after a crash is safe.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tickerpulse/internal/queue"
)

// HandlerFunc executes one job. Returning an error triggers the queue's
// retry/backoff policy.
type HandlerFunc func(ctx context.Context, job *queue.Job) error

// Pool pulls from every queue in the set under a single total concurrency
// cap, so one busy queue cannot monopolize the workers.
type Pool struct {
	set      *queue.Set
	handlers map[string]HandlerFunc
	sem      chan struct{}
	poll     time.Duration
	logger   *logrus.Logger
	name     string
}

func NewPool(set *queue.Set, concurrency int, poll time.Duration, logger *logrus.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 5
	}
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Pool{
		set:      set,
		handlers: make(map[string]HandlerFunc),
		sem:      make(chan struct{}, concurrency),
		poll:     poll,
		logger:   logger,
		name:     "worker-" + uuid.New().String()[:8],
	}
}

func handlerKey(queueName, jobType string) string {
	return queueName + "/" + jobType
}

// Register binds a handler to (queue, job type). Must be called before Start.
func (p *Pool) Register(queueName, jobType string, fn HandlerFunc) {
	p.handlers[handlerKey(queueName, jobType)] = fn
}

// Start launches one fetch loop per queue. Fetchers block on the shared
// semaphore before pulling, so at most cap jobs run at once process-wide.
func (p *Pool) Start(ctx context.Context, wg *sync.WaitGroup) {
	for _, name := range p.set.Names() {
		q, _ := p.set.Get(name)
		wg.Add(1)
		go p.fetchLoop(ctx, wg, q)
	}
	p.logger.Infof("Worker pool %s started (%d slots)", p.name, cap(p.sem))
}

func (p *Pool) fetchLoop(ctx context.Context, wg *sync.WaitGroup, q *queue.Queue) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p.sem <- struct{}{}:
		}

		job, ok, err := q.Next(ctx, p.name)
		if err != nil {
			<-p.sem
			if ctx.Err() != nil {
				return
			}
			p.logger.Warnf("Fetch from %s failed: %v", q.Name(), err)
			p.sleep(ctx)
			continue
		}
		if !ok {
			<-p.sem
			p.sleep(ctx)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-p.sem }()
			p.execute(ctx, q, job)
		}()
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.poll):
	}
}

// execute runs the handler while renewing the job lock, then reports the
// outcome. A panic is a failure, not a crash.
func (p *Pool) execute(ctx context.Context, q *queue.Queue, job *queue.Job) {
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go func() {
		ticker := time.NewTicker(queue.RenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if err := q.RenewLock(renewCtx, job.ID); err != nil && renewCtx.Err() == nil {
					p.logger.Warnf("Lock renewal failed for %s on %s: %v", job.ID, q.Name(), err)
				}
			}
		}
	}()

	err := p.run(ctx, q, job)
	stopRenew()

	if err != nil {
		if failErr := q.Fail(context.WithoutCancel(ctx), job, err); failErr != nil {
			p.logger.Errorf("Failed to record failure of %s on %s: %v", job.ID, q.Name(), failErr)
		}
		return
	}
	if err := q.Complete(context.WithoutCancel(ctx), job.ID); err != nil {
		p.logger.Errorf("Failed to complete %s on %s: %v", job.ID, q.Name(), err)
	}
}

func (p *Pool) run(ctx context.Context, q *queue.Queue, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	fn, ok := p.handlers[handlerKey(q.Name(), job.Type)]
	if !ok {
		return fmt.Errorf("no handler registered for %s/%s", q.Name(), job.Type)
	}
	return fn(ctx, job)
}
