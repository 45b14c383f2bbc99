package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Job types. Each queue accepts a closed set of types; payloads are
// validated at enqueue time, not when the worker first unmarshals them.
const (
	JobDistributeAlert = "distribute_alert"
	JobNotifyUser      = "notify_user"
	JobBroadcast       = "ws_broadcast"
	JobFetchMarketData = "fetch_market_data"
	JobPollNews        = "poll_news"
	JobFetchFilings    = "fetch_filings"
	JobRevalidate      = "revalidate_alerts"
	JobSweepExpired    = "sweep_expired_notifications"
)

// AlertJob asks the distribution queue to deliver one alert to one user.
type AlertJob struct {
	Ticker   string                 `json:"ticker_id"`
	UserID   int64                  `json:"user_id"`
	Type     string                 `json:"alert_type"`
	Severity string                 `json:"severity"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NotificationJob is the durable fallback when no live connection exists.
type NotificationJob struct {
	UserID    int64           `json:"user_id"`
	Ticker    string          `json:"ticker_id"`
	Payload   json.RawMessage `json:"payload"`
	Priority  int             `json:"priority"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// WebSocketJob pushes an event to a set of live connections. An empty
// ConnectionIDs slice means "everyone subscribed to the ticker".
type WebSocketJob struct {
	Ticker        string          `json:"ticker_id"`
	ConnectionIDs []string        `json:"connection_ids,omitempty"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
}

// IngestJob drives the market-data, news and filings queues.
type IngestJob struct {
	Ticker string `json:"ticker_id"`
}

// AlertPriority maps alert severity onto queue priority (1 served first).
func AlertPriority(severity string) int {
	switch severity {
	case SeverityCritical:
		return 1
	case SeverityHigh:
		return 2
	default:
		return 3
	}
}

// ValidateJobPayload checks that raw decodes into the payload schema for
// the given job type and that its required fields are present.
func ValidateJobPayload(jobType string, raw []byte) error {
	switch jobType {
	case JobDistributeAlert:
		var p AlertJob
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", jobType, err)
		}
		if p.Ticker == "" || p.UserID == 0 || p.Type == "" {
			return fmt.Errorf("invalid %s payload: ticker_id, user_id and alert_type are required", jobType)
		}
	case JobNotifyUser:
		var p NotificationJob
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", jobType, err)
		}
		if p.UserID == 0 {
			return fmt.Errorf("invalid %s payload: user_id is required", jobType)
		}
	case JobBroadcast:
		var p WebSocketJob
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", jobType, err)
		}
		if p.Ticker == "" && len(p.ConnectionIDs) == 0 {
			return fmt.Errorf("invalid %s payload: ticker_id or connection_ids required", jobType)
		}
	case JobFetchMarketData, JobPollNews, JobFetchFilings, JobRevalidate:
		var p IngestJob
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", jobType, err)
		}
		if p.Ticker == "" {
			return fmt.Errorf("invalid %s payload: ticker_id is required", jobType)
		}
	case JobSweepExpired:
		// no payload
	default:
		return fmt.Errorf("unknown job type %q", jobType)
	}
	return nil
}
