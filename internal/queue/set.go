package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tickerpulse/internal/store"
)

// Queue names. Each is configured independently below.
const (
	QueueAlerts        = "alerts"
	QueueNotifications = "notifications"
	QueueBroadcast     = "ws-broadcast"
	QueueWorker        = "worker"
	QueueMarketData    = "market-data"
	QueueNews          = "news"
	QueueFilings       = "filings"
)

// RenewInterval is how often an active worker re-confirms its job lock.
// Half the default lock duration, so one missed renewal is survivable.
const RenewInterval = 15 * time.Second

// Set owns the seven named queues. It runs its internals on a duplicate
// store connection so queue traffic cannot starve the shared one.
type Set struct {
	queues map[string]*Queue
	order  []string
	logger *logrus.Logger
}

// NewSet builds the queue set with per-queue retry policy: broadcasts are
// fire-and-forget, notifications get extra attempts for durability.
func NewSet(s store.Store, logger *logrus.Logger) *Set {
	configs := []struct {
		name string
		opts Options
	}{
		{QueueAlerts, Options{}},
		{QueueNotifications, Options{MaxAttempts: 5}},
		{QueueBroadcast, Options{MaxAttempts: 1}},
		{QueueWorker, Options{}},
		{QueueMarketData, Options{}},
		{QueueNews, Options{}},
		{QueueFilings, Options{}},
	}

	set := &Set{queues: make(map[string]*Queue, len(configs)), logger: logger}
	for _, c := range configs {
		set.queues[c.name] = NewQueue(c.name, s, c.opts, logger)
		set.order = append(set.order, c.name)
	}
	return set
}

// Get returns the named queue.
func (s *Set) Get(name string) (*Queue, bool) {
	q, ok := s.queues[name]
	return q, ok
}

// Names returns queue names in declaration order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// StartMaintenance runs the per-queue scheduler loops: promoting delayed
// jobs every second and sweeping for stalled jobs every RenewInterval.
func (s *Set) StartMaintenance(ctx context.Context, wg *sync.WaitGroup) {
	for _, name := range s.order {
		q := s.queues[name]
		wg.Add(1)
		go func(q *Queue) {
			defer wg.Done()
			promote := time.NewTicker(time.Second)
			stall := time.NewTicker(RenewInterval)
			defer promote.Stop()
			defer stall.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-promote.C:
					if err := q.Promote(ctx); err != nil && ctx.Err() == nil {
						s.logger.Warnf("Promote failed on %s: %v", q.Name(), err)
					}
				case <-stall.C:
					if err := q.CheckStalled(ctx); err != nil && ctx.Err() == nil {
						s.logger.Warnf("Stall sweep failed on %s: %v", q.Name(), err)
					}
				}
			}
		}(q)
	}
}

// Depths aggregates per-queue depth statistics.
func (s *Set) Depths(ctx context.Context) (map[string]Depths, error) {
	out := make(map[string]Depths, len(s.queues))
	for name, q := range s.queues {
		d, err := q.Depths(ctx)
		if err != nil {
			return nil, err
		}
		out[name] = d
	}
	return out, nil
}
