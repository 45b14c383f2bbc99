package models

import "time"

// Alert severities as carried on AlertJob payloads.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Alert types recognised by the distribution pipeline.
const (
	AlertVolumeSpike   = "volume_spike"
	AlertDivergence    = "divergence"
	AlertContradiction = "contradiction"
	AlertNews          = "news"
	AlertFiling        = "filing"
)

// Alert is a validated, deliverable alert. Persistence is keyed on
// (Ticker, Bucket) so re-running a distribution job cannot create a
// second row for the same detection.
type Alert struct {
	ID        string                 `json:"id"`
	Ticker    string                 `json:"ticker"`
	UserID    int64                  `json:"user_id"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Bucket    time.Time              `json:"bucket"`
	CreatedAt time.Time              `json:"created_at"`
}

// CandidateAlert is the ephemeral input to the validation engine.
type CandidateAlert struct {
	Ticker          string    `json:"ticker"`
	SpikePercentage float64   `json:"spike_percentage"`
	Volume          float64   `json:"volume"`
	PriceMovement   float64   `json:"price_movement"`
	ObservedAt      time.Time `json:"observed_at"`
}

// Validation recommendations.
const (
	RecommendAlert   = "alert"
	RecommendHold    = "hold"
	RecommendDismiss = "dismiss"
)

// ValidationResult is the immutable output of a single validation pass.
// ConfidenceScore and FalsePositiveProbability are exact complements.
type ValidationResult struct {
	IsValid                  bool     `json:"is_valid"`
	ConfidenceScore          float64  `json:"confidence_score"`
	FalsePositiveProbability float64  `json:"false_positive_probability"`
	Reasons                  []string `json:"reasons"`
	Recommendation           string   `json:"recommendation"`
	SimilarityScore          float64  `json:"similarity_score,omitempty"`
}

// SpikeRecord is one historical spike observation for a ticker.
type SpikeRecord struct {
	Ticker          string    `json:"ticker"`
	SpikePercentage float64   `json:"spike_percentage"`
	ObservedAt      time.Time `json:"observed_at"`
}

// MarketSnapshot is a point-in-time quote pulled from the market data provider.
type MarketSnapshot struct {
	Ticker     string    `json:"ticker"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewsItem is a headline pulled from the news provider.
type NewsItem struct {
	ID          string    `json:"id"`
	Ticker      string    `json:"ticker"`
	Headline    string    `json:"headline"`
	Source      string    `json:"source"`
	Sentiment   float64   `json:"sentiment"`
	PublishedAt time.Time `json:"published_at"`
}

// Filing is a regulatory filing pulled from the filings provider.
type Filing struct {
	AccessionNo string    `json:"accession_no"`
	Ticker      string    `json:"ticker"`
	FormType    string    `json:"form_type"`
	Description string    `json:"description"`
	FiledAt     time.Time `json:"filed_at"`
}

// ContactPoint describes how a user receives offline notifications.
type ContactPoint struct {
	UserID        int64                  `json:"user_id"`
	Type          string                 `json:"type"` // "telegram" or "email"
	Configuration map[string]interface{} `json:"configuration"`
	Status        string                 `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
}
