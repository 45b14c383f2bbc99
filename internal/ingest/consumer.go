// Package ingest feeds the job queues from the upstream market-events
// topic. Each event is rate-limited per source before an ingestion job
// is enqueued; over-limit events are dropped, not buffered.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"tickerpulse/internal/config"
	"tickerpulse/internal/models"
	"tickerpulse/internal/queue"
	"tickerpulse/internal/ratelimit"
)

// marketEvent is the upstream event schema.
type marketEvent struct {
	Symbol    string `json:"symbol"`
	EventType string `json:"event_type"` // "market", "news" or "filing"
	Source    string `json:"source"`
}

type Consumer struct {
	reader  *kafka.Reader
	queues  *queue.Set
	limiter *ratelimit.Limiter
	cfg     config.Config
	logger  *logrus.Logger
}

func NewConsumer(cfg config.Config, queues *queue.Set, limiter *ratelimit.Limiter, logger *logrus.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Kafka.Broker},
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return &Consumer{reader: reader, queues: queues, limiter: limiter, cfg: cfg, logger: logger}
}

func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Info("Market event consumer started")
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				continue
			}
			c.handle(ctx, msg.Value)
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, raw []byte) {
	var event marketEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		c.logger.Errorf("Unmarshal event failed: %v", err)
		return
	}
	if event.Symbol == "" {
		c.logger.Error("Invalid event: missing symbol")
		return
	}

	limitKey := "ingest:" + event.EventType + ":" + event.Symbol
	if c.limiter.IsRateLimited(ctx, limitKey,
		c.cfg.RateLimit.IngestLimit,
		time.Duration(c.cfg.RateLimit.IngestWindowSeconds)*time.Second) {
		c.logger.Warnf("Rate limited %s event for %s, dropping", event.EventType, event.Symbol)
		return
	}

	var queueName, jobType string
	switch event.EventType {
	case "news":
		queueName, jobType = queue.QueueNews, models.JobPollNews
	case "filing":
		queueName, jobType = queue.QueueFilings, models.JobFetchFilings
	default:
		queueName, jobType = queue.QueueMarketData, models.JobFetchMarketData
	}

	q, _ := c.queues.Get(queueName)
	payload := models.IngestJob{Ticker: event.Symbol}
	if _, err := q.Enqueue(ctx, jobType, payload,
		queue.WithJobID(queue.DeterministicID(jobType, event.Symbol, time.Now()))); err != nil {
		c.logger.Errorf("Enqueue %s for %s failed: %v", jobType, event.Symbol, err)
		return
	}
	c.logger.Debugf("Queued %s job for %s", jobType, event.Symbol)
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warnf("Consumer close failed: %v", err)
	}
}
