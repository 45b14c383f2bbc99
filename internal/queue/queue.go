// Package queue implements named job queues on the backing store: priority
// scheduling with FIFO order inside a priority class, exponential retry
// backoff, renewable per-job locks with stall recovery, retained failures
// and an inspection surface for operators.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"tickerpulse/internal/models"
	"tickerpulse/internal/store"
)

// ErrJobNotFound is returned by inspection calls for unknown job IDs.
var ErrJobNotFound = errors.New("queue: job not found")

// ErrNotCancellable is returned when cancelling a job that is not pending.
var ErrNotCancellable = errors.New("queue: only pending jobs can be cancelled")

// ErrNotRetryable is returned when retrying a job that has not failed.
var ErrNotRetryable = errors.New("queue: only failed jobs can be retried")

// Options configure one named queue.
type Options struct {
	MaxAttempts  int           // default attempt budget per job
	BackoffBase  time.Duration // exponential backoff base delay
	LockDuration time.Duration // stall threshold: lock TTL while active
	MaxStalled   int           // stalls tolerated before permanent failure
	DedupWindow  time.Duration // deterministic-ID collision window
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.LockDuration == 0 {
		o.LockDuration = 30 * time.Second
	}
	if o.MaxStalled == 0 {
		o.MaxStalled = 2
	}
	if o.DedupWindow == 0 {
		o.DedupWindow = time.Minute
	}
	return o
}

// Queue is one named queue. Success is ephemeral (completed jobs are
// discarded); failures are retained for operator triage.
type Queue struct {
	name   string
	store  store.Store
	opts   Options
	logger *logrus.Logger
}

func NewQueue(name string, s store.Store, opts Options, logger *logrus.Logger) *Queue {
	return &Queue{name: name, store: s, opts: opts.withDefaults(), logger: logger}
}

func (q *Queue) Name() string { return q.name }

// Options exposes the queue's effective configuration.
func (q *Queue) Options() Options { return q.opts }

func (q *Queue) key(parts ...string) string {
	k := "q:" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// EnqueueOption adjusts a single enqueue call.
type EnqueueOption func(*Job)

// WithPriority sets the job priority (1 highest .. 3 lowest).
func WithPriority(p int) EnqueueOption {
	return func(j *Job) {
		if p >= 1 && p <= 3 {
			j.Priority = p
		}
	}
}

// WithJobID overrides the generated job ID, usually with DeterministicID.
func WithJobID(id string) EnqueueOption {
	return func(j *Job) { j.ID = id }
}

// WithMaxAttempts overrides the queue's default attempt budget.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// Enqueue validates the payload, stores the job and places it on the
// waiting list. It returns immediately; execution happens in the worker
// pool. A duplicate deterministic ID inside the dedup window is a no-op
// and returns the already-queued job.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts ...EnqueueOption) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := models.ValidateJobPayload(jobType, raw); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		Queue:       q.name,
		Type:        jobType,
		Payload:     raw,
		Priority:    3,
		MaxAttempts: q.opts.MaxAttempts,
		Status:      StatusWaiting,
		CreatedAt:   now,
	}
	for _, opt := range opts {
		opt(job)
	}
	if job.ID == "" {
		job.ID = DeterministicID(jobType, fmt.Sprintf("%x", raw[:min(len(raw), 24)]), now)
	}

	// Duplicate suppression: first writer inside the window wins.
	fresh, err := q.store.SetNX(ctx, q.key("dedup", job.ID), "1", q.opts.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	if !fresh {
		if existing, err := q.Job(ctx, job.ID); err == nil {
			return existing, nil
		}
		// Already completed and discarded inside the window.
		job.Status = StatusCompleted
		return job, nil
	}

	if err := q.store.HSet(ctx, q.key("job", job.ID), job.toFields()); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	if err := q.pushWaiting(ctx, job.ID, job.Priority); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	q.logger.Debugf("Enqueued %s job %s on %s (priority %d)", jobType, job.ID, q.name, job.Priority)
	return job, nil
}

// pushWaiting scores the job so lower priorities are served first and FIFO
// order holds inside a priority class.
func (q *Queue) pushWaiting(ctx context.Context, id string, priority int) error {
	seq, err := q.store.Incr(ctx, q.key("seq"))
	if err != nil {
		return err
	}
	score := float64(priority)*1e12 + float64(seq)
	return q.store.ZAdd(ctx, q.key("wait"), score, id)
}

// Next pops the highest-priority waiting job, marks it active and takes its
// processing lock on behalf of worker. ok is false when the queue is empty.
func (q *Queue) Next(ctx context.Context, worker string) (job *Job, ok bool, err error) {
	for {
		id, _, found, err := q.store.ZPopMin(ctx, q.key("wait"))
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}

		j, err := q.Job(ctx, id)
		if err == ErrJobNotFound {
			continue // cancelled between scheduling and fetch
		}
		if err != nil {
			return nil, false, err
		}

		j.Status = StatusActive
		j.AttemptsMade++
		if err := q.store.HSet(ctx, q.key("job", id), map[string]string{
			"status":        StatusActive,
			"attempts_made": strconv.Itoa(j.AttemptsMade),
		}); err != nil {
			return nil, false, err
		}
		if err := q.store.SAdd(ctx, q.key("active"), id); err != nil {
			return nil, false, err
		}
		if err := q.store.SetEX(ctx, q.key("lock", id), worker, q.opts.LockDuration); err != nil {
			return nil, false, err
		}
		return j, true, nil
	}
}

// RenewLock re-confirms an active job. A job whose lock lapses is presumed
// stalled by the maintenance sweep.
func (q *Queue) RenewLock(ctx context.Context, id string) error {
	return q.store.Expire(ctx, q.key("lock", id), q.opts.LockDuration)
}

// Complete discards the job: success is not retained.
func (q *Queue) Complete(ctx context.Context, id string) error {
	if err := q.store.SRem(ctx, q.key("active"), id); err != nil {
		return err
	}
	return q.store.Del(ctx, q.key("lock", id), q.key("job", id))
}

// Fail records a handler failure. With attempts remaining the job is
// rescheduled with exponential backoff; otherwise it is parked as failed
// for manual recovery, never dropped.
func (q *Queue) Fail(ctx context.Context, job *Job, jobErr error) error {
	if err := q.store.SRem(ctx, q.key("active"), job.ID); err != nil {
		return err
	}
	if err := q.store.Del(ctx, q.key("lock", job.ID)); err != nil {
		return err
	}

	job.LastError = jobErr.Error()

	// AttemptsMade was counted when the worker picked the job up.
	if job.AttemptsMade < job.MaxAttempts {
		delay := q.backoff(job.AttemptsMade)
		job.Status = StatusDelayed
		if err := q.store.HSet(ctx, q.key("job", job.ID), job.toFields()); err != nil {
			return err
		}
		readyAt := float64(time.Now().Add(delay).UnixMilli())
		q.logger.Warnf("Job %s on %s failed (attempt %d/%d), retrying in %s: %v",
			job.ID, q.name, job.AttemptsMade, job.MaxAttempts, delay, jobErr)
		return q.store.ZAdd(ctx, q.key("delayed"), readyAt, job.ID)
	}

	job.Status = StatusFailed
	if err := q.store.HSet(ctx, q.key("job", job.ID), job.toFields()); err != nil {
		return err
	}
	q.logger.Errorf("Job %s on %s failed permanently after %d attempts: %v",
		job.ID, q.name, job.AttemptsMade, jobErr)
	return q.store.SAdd(ctx, q.key("failed"), job.ID)
}

func (q *Queue) backoff(attempt int) time.Duration {
	return q.opts.BackoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
}

// Promote moves delayed jobs whose backoff has elapsed back to the waiting
// list. Called periodically by the maintenance loop.
func (q *Queue) Promote(ctx context.Context) error {
	due, err := q.store.ZRangeByScore(ctx, q.key("delayed"), 0, float64(time.Now().UnixMilli()))
	if err != nil {
		return err
	}
	for _, id := range due {
		if err := q.store.ZRem(ctx, q.key("delayed"), id); err != nil {
			return err
		}
		job, err := q.Job(ctx, id)
		if err == ErrJobNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := q.store.HSet(ctx, q.key("job", id), map[string]string{"status": StatusWaiting}); err != nil {
			return err
		}
		if err := q.pushWaiting(ctx, id, job.Priority); err != nil {
			return err
		}
	}
	return nil
}

// CheckStalled sweeps active jobs whose lock lapsed. A stalled job is
// re-queued until it has stalled MaxStalled times, then failed permanently.
func (q *Queue) CheckStalled(ctx context.Context) error {
	active, err := q.store.SMembers(ctx, q.key("active"))
	if err != nil {
		return err
	}
	for _, id := range active {
		_, err := q.store.Get(ctx, q.key("lock", id))
		if err == nil {
			continue // lock held, worker alive
		}
		if err != store.ErrNotFound {
			return err
		}

		job, jobErr := q.Job(ctx, id)
		if jobErr == ErrJobNotFound {
			_ = q.store.SRem(ctx, q.key("active"), id)
			continue
		}
		if jobErr != nil {
			return jobErr
		}

		job.StalledCount++
		if err := q.store.SRem(ctx, q.key("active"), id); err != nil {
			return err
		}

		if job.StalledCount > q.opts.MaxStalled {
			job.Status = StatusFailed
			job.LastError = fmt.Sprintf("stalled %d times, presumed unrecoverable", job.StalledCount)
			if err := q.store.HSet(ctx, q.key("job", id), job.toFields()); err != nil {
				return err
			}
			q.logger.Errorf("Job %s on %s failed after %d stalls", id, q.name, job.StalledCount)
			if err := q.store.SAdd(ctx, q.key("failed"), id); err != nil {
				return err
			}
			continue
		}

		job.Status = StatusWaiting
		if err := q.store.HSet(ctx, q.key("job", id), job.toFields()); err != nil {
			return err
		}
		q.logger.Warnf("Job %s on %s stalled (%d/%d), re-queueing", id, q.name, job.StalledCount, q.opts.MaxStalled)
		if err := q.pushWaiting(ctx, id, job.Priority); err != nil {
			return err
		}
	}
	return nil
}

// Job returns the stored job by ID.
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	fields, err := q.store.HGetAll(ctx, q.key("job", id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromFields(q.name, fields), nil
}

// FailedJobs lists jobs retained after exhausting their attempts.
func (q *Queue) FailedJobs(ctx context.Context) ([]*Job, error) {
	ids, err := q.store.SMembers(ctx, q.key("failed"))
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Job(ctx, id)
		if err == ErrJobNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Retry resets a failed job to a fresh waiting state.
func (q *Queue) Retry(ctx context.Context, id string) error {
	job, err := q.Job(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != StatusFailed {
		return ErrNotRetryable
	}
	job.AttemptsMade = 0
	job.StalledCount = 0
	job.Status = StatusWaiting
	job.LastError = ""
	if err := q.store.SRem(ctx, q.key("failed"), id); err != nil {
		return err
	}
	if err := q.store.HSet(ctx, q.key("job", id), job.toFields()); err != nil {
		return err
	}
	return q.pushWaiting(ctx, id, job.Priority)
}

// RemoveFailed discards a retained failed job once an operator (or the
// expiry sweep) decides it is no longer worth keeping.
func (q *Queue) RemoveFailed(ctx context.Context, id string) error {
	if err := q.store.SRem(ctx, q.key("failed"), id); err != nil {
		return err
	}
	return q.store.Del(ctx, q.key("job", id), q.key("dedup", id))
}

// Cancel removes a pending (waiting or delayed) job outright. Active jobs
// cannot be cancelled; they fail naturally or via stall detection.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	job, err := q.Job(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != StatusWaiting && job.Status != StatusDelayed {
		return ErrNotCancellable
	}
	if err := q.store.ZRem(ctx, q.key("wait"), id); err != nil {
		return err
	}
	if err := q.store.ZRem(ctx, q.key("delayed"), id); err != nil {
		return err
	}
	return q.store.Del(ctx, q.key("job", id), q.key("dedup", id))
}

// Depths reports per-state queue depth.
type Depths struct {
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
	Failed  int64 `json:"failed"`
}

func (q *Queue) Depths(ctx context.Context) (Depths, error) {
	var d Depths
	var err error
	if d.Waiting, err = q.store.ZCard(ctx, q.key("wait")); err != nil {
		return d, err
	}
	if d.Delayed, err = q.store.ZCard(ctx, q.key("delayed")); err != nil {
		return d, err
	}
	if d.Active, err = q.store.SCard(ctx, q.key("active")); err != nil {
		return d, err
	}
	if d.Failed, err = q.store.SCard(ctx, q.key("failed")); err != nil {
		return d, err
	}
	return d, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
