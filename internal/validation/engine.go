// Package validation scores candidate alerts for false-positive risk
// before they are allowed to reach users. Scoring is a pure function of
// the candidate plus the ticker's recent history; every call computes a
// fresh, immutable result.
package validation

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"tickerpulse/internal/models"
)

// Scoring constants. Probabilities are adjusted from a neutral base and
// clamped to [0,1]; confidence is always the exact complement.
const (
	baseFalsePositive    = 0.5
	noHistoryFP          = 0.1
	degradedFP           = 0.5
	alertThreshold       = 0.75
	dismissThreshold     = 0.3
	spikeProximityPoints = 10.0
	historyWindow        = 30 * 24 * time.Hour
	volumeLookback       = 5
	noisyWeeklySpikes    = 3

	// DefaultDuplicateLookback is the duplicate-check window when the
	// caller does not supply one.
	DefaultDuplicateLookback = 24 * time.Hour
)

// HistoryStore is the narrow slice of the external data store the engine
// reads. All methods are per-ticker lookups.
type HistoryStore interface {
	SpikeHistory(ctx context.Context, ticker string, since time.Time) ([]models.SpikeRecord, error)
	VolumeSnapshots(ctx context.Context, ticker string, n int) ([]float64, error)
	ContradictionCount(ctx context.Context, ticker string, since time.Time) (int, error)
	RecentAlerts(ctx context.Context, ticker string, since time.Time) ([]models.Alert, error)
}

type Engine struct {
	history HistoryStore
	logger  *logrus.Logger
}

func NewEngine(history HistoryStore, logger *logrus.Logger) *Engine {
	return &Engine{history: history, logger: logger}
}

// Validate scores a candidate alert. Infrastructure failures never dismiss:
// they degrade to a conservative hold for manual review.
func (e *Engine) Validate(ctx context.Context, c models.CandidateAlert) models.ValidationResult {
	since := c.ObservedAt.Add(-historyWindow)
	history, err := e.history.SpikeHistory(ctx, c.Ticker, since)
	if err != nil {
		e.logger.Warnf("Spike history unavailable for %s, holding for review: %v", c.Ticker, err)
		return degradedResult("spike history unavailable")
	}

	// A ticker with no history at all is a genuine novel signal, not a
	// data-quality penalty.
	if len(history) == 0 {
		return finalize(noHistoryFP, 0.9, []string{"no historical spikes for ticker, treating as genuine signal"})
	}

	fp := baseFalsePositive
	var reasons []string

	similarity, fpAdj, simReasons := e.scoreSimilarity(c, history)
	fp += fpAdj
	reasons = append(reasons, simReasons...)

	volAdj, volReasons := e.scoreVolume(ctx, c)
	fp += volAdj
	reasons = append(reasons, volReasons...)

	corrAdj, corrReasons := e.scoreCorroboration(ctx, c, since)
	fp += corrAdj
	reasons = append(reasons, corrReasons...)

	return finalize(fp, similarity, reasons)
}

// scoreSimilarity counts historical spikes within 10 percentage points of
// the candidate. Novel patterns score high; repeated near-identical spikes
// look like volatility noise, especially on chronically spiky tickers.
func (e *Engine) scoreSimilarity(c models.CandidateAlert, history []models.SpikeRecord) (similarity, fpAdj float64, reasons []string) {
	matches := 0
	weekly := 0
	weekAgo := c.ObservedAt.Add(-7 * 24 * time.Hour)
	for _, h := range history {
		if math.Abs(h.SpikePercentage-c.SpikePercentage) <= spikeProximityPoints {
			matches++
		}
		if h.ObservedAt.After(weekAgo) {
			weekly++
		}
	}

	switch {
	case matches == 0:
		return 0.9, -0.2, []string{"novel spike pattern, no similar historical spikes"}
	case matches == 1:
		return 0.6, -0.05, []string{"one similar historical spike"}
	default:
		similarity = 0.3
		fpAdj = 0.2
		reasons = []string{"multiple similar historical spikes"}
		if weekly > noisyWeeklySpikes {
			similarity = math.Max(similarity-0.1, 0)
			fpAdj += 0.1
			reasons = append(reasons, "high weekly spike frequency, likely volatility noise")
		}
		return similarity, fpAdj, reasons
	}
}

// scoreVolume compares current volume against the trailing 5-snapshot
// average. Volume confirmation is evidence; thin volume is suspicion.
func (e *Engine) scoreVolume(ctx context.Context, c models.CandidateAlert) (fpAdj float64, reasons []string) {
	snapshots, err := e.history.VolumeSnapshots(ctx, c.Ticker, volumeLookback)
	if err != nil {
		e.logger.Warnf("Volume snapshots unavailable for %s: %v", c.Ticker, err)
		return 0, []string{"volume context unavailable"}
	}
	if len(snapshots) == 0 || c.Volume <= 0 {
		return 0, nil
	}

	var sum float64
	for _, v := range snapshots {
		sum += v
	}
	avg := sum / float64(len(snapshots))
	if avg <= 0 {
		return 0, nil
	}

	ratio := c.Volume / avg
	switch {
	case ratio > 3:
		return -0.2, []string{"extreme volume confirmation"}
	case ratio > 2:
		return -0.1, []string{"strong volume confirmation"}
	case ratio < 0.5:
		return 0.2, []string{"weak volume relative to trailing average"}
	default:
		return 0, nil
	}
}

// scoreCorroboration treats recently validated contradiction alerts for
// the same ticker as independent evidence that something real is moving.
func (e *Engine) scoreCorroboration(ctx context.Context, c models.CandidateAlert, since time.Time) (fpAdj float64, reasons []string) {
	count, err := e.history.ContradictionCount(ctx, c.Ticker, since)
	if err != nil {
		e.logger.Warnf("Contradiction lookup unavailable for %s: %v", c.Ticker, err)
		return 0, nil
	}
	if count == 0 {
		return 0, nil
	}
	adj := -0.1 * math.Min(float64(count), 2)
	return adj, []string{"corroborated by recent contradiction alerts"}
}

// IsDuplicate reports whether a prior alert for the ticker inside the
// lookback window has a spike percentage within 10 points of the
// candidate. Lookup failure is reported, not treated as a duplicate.
func (e *Engine) IsDuplicate(ctx context.Context, c models.CandidateAlert, lookback time.Duration) (bool, error) {
	if lookback <= 0 {
		lookback = DefaultDuplicateLookback
	}
	prior, err := e.history.RecentAlerts(ctx, c.Ticker, c.ObservedAt.Add(-lookback))
	if err != nil {
		return false, err
	}
	for _, a := range prior {
		if spike, ok := a.Metadata["spike_percentage"].(float64); ok {
			if math.Abs(spike-c.SpikePercentage) <= spikeProximityPoints {
				return true, nil
			}
		}
	}
	return false, nil
}

func degradedResult(reason string) models.ValidationResult {
	return models.ValidationResult{
		IsValid:                  true,
		ConfidenceScore:          1 - degradedFP,
		FalsePositiveProbability: degradedFP,
		Reasons:                  []string{reason},
		Recommendation:           models.RecommendHold,
	}
}

func finalize(fp, similarity float64, reasons []string) models.ValidationResult {
	fp = clamp01(fp)
	confidence := 1 - fp

	recommendation := models.RecommendHold
	switch {
	case confidence > alertThreshold:
		recommendation = models.RecommendAlert
	case confidence < dismissThreshold:
		recommendation = models.RecommendDismiss
	}

	return models.ValidationResult{
		IsValid:                  recommendation != models.RecommendDismiss,
		ConfidenceScore:          confidence,
		FalsePositiveProbability: fp,
		Reasons:                  reasons,
		Recommendation:           recommendation,
		SimilarityScore:          similarity,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
