package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tickerpulse/internal/cache"
	"tickerpulse/internal/models"
	"tickerpulse/internal/queue"
	"tickerpulse/internal/store"
	"tickerpulse/internal/subscription"
	"tickerpulse/internal/validation"
)

// Spike detection thresholds: ratio of current volume to the trailing
// average. Severity escalates with the ratio.
const (
	spikeRatio    = 2.0
	highRatio     = 3.0
	criticalRatio = 4.0

	notificationTTL = 24 * time.Hour
	newsLookback    = 24 * time.Hour
)

// DataStore is the slice of the external relational store the handlers
// write through.
type DataStore interface {
	SaveAlert(ctx context.Context, a models.Alert) (bool, error)
	RecentAlerts(ctx context.Context, ticker string, since time.Time) ([]models.Alert, error)
	SaveSnapshot(ctx context.Context, s models.MarketSnapshot) error
	SaveSpike(ctx context.Context, r models.SpikeRecord) error
	VolumeSnapshots(ctx context.Context, ticker string, n int) ([]float64, error)
	SaveNewsItem(ctx context.Context, item models.NewsItem) (bool, error)
	SaveFiling(ctx context.Context, f models.Filing) (bool, error)
	WatchersOf(ctx context.Context, ticker string) ([]int64, error)
	ContactPoint(ctx context.Context, userID int64) (models.ContactPoint, bool, error)
}

// MarketDataProvider, NewsProvider and FilingsProvider are the third-party
// data sources, consumed through the narrowest possible surface.
type MarketDataProvider interface {
	Quote(ctx context.Context, ticker string) (models.MarketSnapshot, error)
}

type NewsProvider interface {
	Latest(ctx context.Context, ticker string, since time.Time) ([]models.NewsItem, error)
}

type FilingsProvider interface {
	Recent(ctx context.Context, ticker string) ([]models.Filing, error)
}

// Notifier delivers an offline notification to a contact point.
type Notifier interface {
	Deliver(ctx context.Context, cp models.ContactPoint, subject, body string) error
}

// Handlers wires the domain job handlers to their collaborators.
type Handlers struct {
	data     DataStore
	engine   *validation.Engine
	queues   *queue.Set
	registry *subscription.Registry
	pubsub   store.Store
	cache    *cache.Service
	market   MarketDataProvider
	news     NewsProvider
	filings  FilingsProvider
	notifier Notifier
	logger   *logrus.Logger
}

func NewHandlers(
	data DataStore,
	engine *validation.Engine,
	queues *queue.Set,
	registry *subscription.Registry,
	pubsub store.Store,
	cacheSvc *cache.Service,
	market MarketDataProvider,
	news NewsProvider,
	filings FilingsProvider,
	notifier Notifier,
	logger *logrus.Logger,
) *Handlers {
	return &Handlers{
		data:     data,
		engine:   engine,
		queues:   queues,
		registry: registry,
		pubsub:   pubsub,
		cache:    cacheSvc,
		market:   market,
		news:     news,
		filings:  filings,
		notifier: notifier,
		logger:   logger,
	}
}

// RegisterAll binds every handler to its (queue, type) slot.
func (h *Handlers) RegisterAll(p *Pool) {
	p.Register(queue.QueueMarketData, models.JobFetchMarketData, h.HandleMarketData)
	p.Register(queue.QueueNews, models.JobPollNews, h.HandleNews)
	p.Register(queue.QueueFilings, models.JobFetchFilings, h.HandleFilings)
	p.Register(queue.QueueAlerts, models.JobDistributeAlert, h.HandleDistributeAlert)
	p.Register(queue.QueueNotifications, models.JobNotifyUser, h.HandleNotifyUser)
	p.Register(queue.QueueBroadcast, models.JobBroadcast, h.HandleBroadcast)
	p.Register(queue.QueueWorker, models.JobRevalidate, h.HandleRevalidate)
	p.Register(queue.QueueWorker, models.JobSweepExpired, h.HandleSweepExpired)
}

// HandleMarketData ingests one market snapshot, detects volume spikes
// against the trailing average, validates candidates and fans out alert
// jobs to every watcher of the ticker.
func (h *Handlers) HandleMarketData(ctx context.Context, job *queue.Job) error {
	var p models.IngestJob
	if err := job.Unmarshal(&p); err != nil {
		return err
	}

	snapshot, err := h.market.Quote(ctx, p.Ticker)
	if err != nil {
		return fmt.Errorf("fetch quote for %s: %w", p.Ticker, err)
	}

	// Trailing average comes from snapshots stored before this one. The
	// snapshot itself is persisted only after validation, so the engine's
	// volume context never counts the candidate in its own average.
	volumes, err := h.data.VolumeSnapshots(ctx, p.Ticker, 5)
	if err != nil {
		return fmt.Errorf("volume history for %s: %w", p.Ticker, err)
	}
	if len(volumes) == 0 {
		return h.persistSnapshot(ctx, snapshot) // first observation, nothing to compare against
	}
	var sum float64
	for _, v := range volumes {
		sum += v
	}
	avg := sum / float64(len(volumes))
	if avg <= 0 || snapshot.Volume/avg < spikeRatio {
		return h.persistSnapshot(ctx, snapshot)
	}

	ratio := snapshot.Volume / avg
	candidate := models.CandidateAlert{
		Ticker:          p.Ticker,
		SpikePercentage: (ratio - 1) * 100,
		Volume:          snapshot.Volume,
		ObservedAt:      snapshot.ObservedAt,
	}

	if dup, err := h.engine.IsDuplicate(ctx, candidate, 0); err != nil {
		h.logger.Warnf("Duplicate check failed for %s, continuing: %v", p.Ticker, err)
	} else if dup {
		h.logger.Infof("Suppressing duplicate spike alert for %s", p.Ticker)
		return h.persistSnapshot(ctx, snapshot)
	}

	result := h.engine.Validate(ctx, candidate)
	if err := h.persistSnapshot(ctx, snapshot); err != nil {
		return err
	}

	// Record the spike after validation so the candidate does not count
	// itself as its own historical match.
	if err := h.data.SaveSpike(ctx, models.SpikeRecord{
		Ticker:          p.Ticker,
		SpikePercentage: candidate.SpikePercentage,
		ObservedAt:      candidate.ObservedAt,
	}); err != nil {
		return err
	}

	if result.Recommendation != models.RecommendAlert {
		h.logger.Infof("Spike on %s scored %s (confidence %.2f): %v",
			p.Ticker, result.Recommendation, result.ConfidenceScore, result.Reasons)
		return nil
	}

	severity := models.SeverityMedium
	switch {
	case ratio >= criticalRatio:
		severity = models.SeverityCritical
	case ratio >= highRatio:
		severity = models.SeverityHigh
	}

	message := fmt.Sprintf("%s volume spike: %.1fx trailing average (confidence %.2f)",
		p.Ticker, ratio, result.ConfidenceScore)
	return h.fanOutAlert(ctx, p.Ticker, models.AlertVolumeSpike, severity, message, map[string]interface{}{
		"spike_percentage": candidate.SpikePercentage,
		"volume":           candidate.Volume,
		"confidence":       result.ConfidenceScore,
	})
}

func (h *Handlers) persistSnapshot(ctx context.Context, s models.MarketSnapshot) error {
	if err := h.data.SaveSnapshot(ctx, s); err != nil {
		return err
	}
	_ = h.cache.Set(ctx, "ticker:"+s.Ticker+":volume", s, cache.TTLVeryShort)
	return nil
}

// HandleNews polls the news provider and raises alerts for fresh items
// with strong sentiment.
func (h *Handlers) HandleNews(ctx context.Context, job *queue.Job) error {
	var p models.IngestJob
	if err := job.Unmarshal(&p); err != nil {
		return err
	}

	items, err := h.news.Latest(ctx, p.Ticker, time.Now().Add(-newsLookback))
	if err != nil {
		return fmt.Errorf("poll news for %s: %w", p.Ticker, err)
	}

	for _, item := range items {
		fresh, err := h.data.SaveNewsItem(ctx, item)
		if err != nil {
			return err
		}
		if !fresh || item.Sentiment > -0.6 && item.Sentiment < 0.6 {
			continue
		}
		severity := models.SeverityMedium
		if item.Sentiment <= -0.8 || item.Sentiment >= 0.8 {
			severity = models.SeverityHigh
		}
		message := fmt.Sprintf("%s news: %s", p.Ticker, item.Headline)
		if err := h.fanOutAlert(ctx, p.Ticker, models.AlertNews, severity, message, map[string]interface{}{
			"news_id":   item.ID,
			"sentiment": item.Sentiment,
			"source":    item.Source,
		}); err != nil {
			return err
		}
	}
	if len(items) > 0 {
		_ = h.cache.Invalidate(ctx, "ticker:"+p.Ticker+":news*")
	}
	return nil
}

// HandleFilings ingests new regulatory filings; 8-K material events rank
// above routine forms.
func (h *Handlers) HandleFilings(ctx context.Context, job *queue.Job) error {
	var p models.IngestJob
	if err := job.Unmarshal(&p); err != nil {
		return err
	}

	filings, err := h.filings.Recent(ctx, p.Ticker)
	if err != nil {
		return fmt.Errorf("fetch filings for %s: %w", p.Ticker, err)
	}

	for _, f := range filings {
		fresh, err := h.data.SaveFiling(ctx, f)
		if err != nil {
			return err
		}
		if !fresh {
			continue
		}
		severity := models.SeverityMedium
		if f.FormType == "8-K" {
			severity = models.SeverityHigh
		}
		message := fmt.Sprintf("%s filed %s: %s", p.Ticker, f.FormType, f.Description)
		if err := h.fanOutAlert(ctx, p.Ticker, models.AlertFiling, severity, message, map[string]interface{}{
			"accession_no": f.AccessionNo,
			"form_type":    f.FormType,
		}); err != nil {
			return err
		}
	}
	return nil
}

// fanOutAlert enqueues one distribution job per watcher. Deterministic job
// IDs keyed on (ticker, user) suppress duplicate enqueues within a tick.
func (h *Handlers) fanOutAlert(ctx context.Context, ticker, alertType, severity, message string, metadata map[string]interface{}) error {
	watchers, err := h.data.WatchersOf(ctx, ticker)
	if err != nil {
		return fmt.Errorf("watchers of %s: %w", ticker, err)
	}
	alertsQ, _ := h.queues.Get(queue.QueueAlerts)
	for _, userID := range watchers {
		payload := models.AlertJob{
			Ticker:   ticker,
			UserID:   userID,
			Type:     alertType,
			Severity: severity,
			Message:  message,
			Metadata: metadata,
		}
		subject := fmt.Sprintf("%s:%s:%d", alertType, ticker, userID)
		_, err := alertsQ.Enqueue(ctx, models.JobDistributeAlert, payload,
			queue.WithJobID(queue.DeterministicID(models.JobDistributeAlert, subject, time.Now())),
			queue.WithPriority(models.AlertPriority(severity)),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleDistributeAlert persists the alert, publishes it on the user's
// channel, and falls back to a durable notification when no live
// connection exists.
func (h *Handlers) HandleDistributeAlert(ctx context.Context, job *queue.Job) error {
	var p models.AlertJob
	if err := job.Unmarshal(&p); err != nil {
		return err
	}

	// Bucket on the job's creation time so a retried job maps onto the
	// same natural key. The insert doubles as the delivery guard: only the
	// execution that wins the row may publish, so a retry after a partial
	// failure cannot push the frame a second time.
	alert := models.Alert{
		ID:        uuid.New().String(),
		Ticker:    p.Ticker,
		UserID:    p.UserID,
		Type:      p.Type,
		Severity:  p.Severity,
		Message:   p.Message,
		Metadata:  p.Metadata,
		Bucket:    job.CreatedAt.Truncate(time.Minute),
		CreatedAt: time.Now(),
	}
	fresh, err := h.data.SaveAlert(ctx, alert)
	if err != nil {
		return err
	}
	if !fresh {
		h.logger.Infof("Alert for user %d on %s already distributed, skipping", p.UserID, p.Ticker)
		return nil
	}

	frame, err := json.Marshal(map[string]interface{}{
		"type":    "alert",
		"payload": alert,
	})
	if err != nil {
		return err
	}
	if err := h.pubsub.Publish(ctx, subscription.UserChannel(p.UserID), string(frame)); err != nil {
		return fmt.Errorf("publish alert for user %d: %w", p.UserID, err)
	}

	live, err := h.registry.Subscribers(ctx, subscription.UserTopic(p.UserID))
	if err != nil {
		return fmt.Errorf("liveness lookup for user %d: %w", p.UserID, err)
	}
	if len(live) == 0 {
		notifQ, _ := h.queues.Get(queue.QueueNotifications)
		_, err := notifQ.Enqueue(ctx, models.JobNotifyUser, models.NotificationJob{
			UserID:    p.UserID,
			Ticker:    p.Ticker,
			Payload:   frame,
			Priority:  models.AlertPriority(p.Severity),
			ExpiresAt: time.Now().Add(notificationTTL),
		}, queue.WithPriority(models.AlertPriority(p.Severity)))
		if err != nil {
			return err
		}
		h.logger.Infof("User %d offline, queued notification for %s alert", p.UserID, p.Ticker)
	}

	// Critical alerts also go out to everyone watching the ticker live.
	if p.Severity == models.SeverityCritical {
		bq, _ := h.queues.Get(queue.QueueBroadcast)
		data, _ := json.Marshal(alert)
		if _, err := bq.Enqueue(ctx, models.JobBroadcast, models.WebSocketJob{
			Ticker:    p.Ticker,
			EventType: "ticker_alert",
			Data:      data,
		}); err != nil {
			return err
		}
	}
	return nil
}

// HandleNotifyUser delivers a queued offline notification, dropping it
// silently once its expiry has passed.
func (h *Handlers) HandleNotifyUser(ctx context.Context, job *queue.Job) error {
	var p models.NotificationJob
	if err := job.Unmarshal(&p); err != nil {
		return err
	}
	if !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt) {
		h.logger.Infof("Dropping expired notification for user %d (%s)", p.UserID, p.Ticker)
		return nil
	}

	cp, ok, err := h.data.ContactPoint(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !ok {
		h.logger.Warnf("User %d has no active contact point, dropping notification", p.UserID)
		return nil
	}

	subject := fmt.Sprintf("TickerPulse alert: %s", p.Ticker)
	return h.notifier.Deliver(ctx, cp, subject, string(p.Payload))
}

// HandleBroadcast pushes an event to a set of connections, resolving the
// ticker's reverse index when no explicit connection list is supplied.
func (h *Handlers) HandleBroadcast(ctx context.Context, job *queue.Job) error {
	var p models.WebSocketJob
	if err := job.Unmarshal(&p); err != nil {
		return err
	}

	conns := p.ConnectionIDs
	if len(conns) == 0 {
		var err error
		conns, err = h.registry.Subscribers(ctx, subscription.TickerTopic(p.Ticker))
		if err != nil {
			return err
		}
	}

	frame, err := json.Marshal(map[string]interface{}{
		"type":    p.EventType,
		"payload": json.RawMessage(p.Data),
	})
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(conns))
	for _, connID := range conns {
		userID, err := h.registry.UserOf(ctx, connID)
		if err != nil {
			continue // connection closed between lookup and publish
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		if err := h.pubsub.Publish(ctx, subscription.UserChannel(userID), string(frame)); err != nil {
			h.logger.Warnf("Broadcast publish failed for user %d: %v", userID, err)
		}
	}
	return nil
}

// HandleRevalidate re-scores recent alerts for a ticker against the
// current history and flags ones that no longer hold up.
func (h *Handlers) HandleRevalidate(ctx context.Context, job *queue.Job) error {
	var p models.IngestJob
	if err := job.Unmarshal(&p); err != nil {
		return err
	}

	alerts, err := h.data.RecentAlerts(ctx, p.Ticker, time.Now().Add(-validation.DefaultDuplicateLookback))
	if err != nil {
		return err
	}
	for _, a := range alerts {
		spike, ok := a.Metadata["spike_percentage"].(float64)
		if !ok {
			continue
		}
		volume, _ := a.Metadata["volume"].(float64)
		result := h.engine.Validate(ctx, models.CandidateAlert{
			Ticker:          a.Ticker,
			SpikePercentage: spike,
			Volume:          volume,
			ObservedAt:      a.CreatedAt,
		})
		if result.Recommendation == models.RecommendDismiss {
			h.logger.Warnf("Alert %s on %s no longer validates (confidence %.2f): %v",
				a.ID, a.Ticker, result.ConfidenceScore, result.Reasons)
		}
	}
	return nil
}

// HandleSweepExpired prunes retained failed notification jobs whose
// payload expiry has passed; they can never be usefully retried.
func (h *Handlers) HandleSweepExpired(ctx context.Context, _ *queue.Job) error {
	notifQ, _ := h.queues.Get(queue.QueueNotifications)
	failed, err := notifQ.FailedJobs(ctx)
	if err != nil {
		return err
	}
	for _, j := range failed {
		var p models.NotificationJob
		if err := j.Unmarshal(&p); err != nil {
			continue
		}
		if !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt) {
			if err := notifQ.RemoveFailed(ctx, j.ID); err != nil {
				return err
			}
			h.logger.Infof("Swept expired failed notification %s", j.ID)
		}
	}
	return nil
}
