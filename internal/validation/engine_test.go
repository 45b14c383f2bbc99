package validation

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
)

type fakeHistory struct {
	spikes         []models.SpikeRecord
	volumes        []float64
	contradictions int
	alerts         []models.Alert

	spikesErr  error
	volumesErr error
	alertsErr  error
}

func (f *fakeHistory) SpikeHistory(_ context.Context, _ string, _ time.Time) ([]models.SpikeRecord, error) {
	return f.spikes, f.spikesErr
}

func (f *fakeHistory) VolumeSnapshots(_ context.Context, _ string, _ int) ([]float64, error) {
	return f.volumes, f.volumesErr
}

func (f *fakeHistory) ContradictionCount(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.contradictions, nil
}

func (f *fakeHistory) RecentAlerts(_ context.Context, _ string, _ time.Time) ([]models.Alert, error) {
	return f.alerts, f.alertsErr
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func candidate(spike, volume float64) models.CandidateAlert {
	return models.CandidateAlert{
		Ticker:          "AAPL",
		SpikePercentage: spike,
		Volume:          volume,
		ObservedAt:      time.Now(),
	}
}

func TestValidateNoHistoryIsGenuineSignal(t *testing.T) {
	engine := NewEngine(&fakeHistory{}, testLogger())

	result := engine.Validate(context.Background(), candidate(320, 1000))

	assert.Equal(t, 0.1, result.FalsePositiveProbability)
	assert.Equal(t, models.RecommendAlert, result.Recommendation)
	assert.True(t, result.IsValid)
	assert.InDelta(t, 0.9, result.ConfidenceScore, 1e-9)
}

func TestValidateRepeatedSpikesScoreWorseThanNovel(t *testing.T) {
	now := time.Now()
	history := &fakeHistory{
		spikes: []models.SpikeRecord{
			{Ticker: "AAPL", SpikePercentage: 48, ObservedAt: now.Add(-20 * 24 * time.Hour)},
			{Ticker: "AAPL", SpikePercentage: 52, ObservedAt: now.Add(-15 * 24 * time.Hour)},
			{Ticker: "AAPL", SpikePercentage: 55, ObservedAt: now.Add(-10 * 24 * time.Hour)},
		},
	}
	engine := NewEngine(history, testLogger())

	result := engine.Validate(context.Background(), candidate(50, 0))

	noHistory := NewEngine(&fakeHistory{}, testLogger()).Validate(context.Background(), candidate(50, 0))
	assert.Greater(t, result.FalsePositiveProbability, noHistory.FalsePositiveProbability)
	assert.Equal(t, 0.3, result.SimilarityScore)
}

func TestValidateVolatilityNoisePenalty(t *testing.T) {
	now := time.Now()
	spikes := make([]models.SpikeRecord, 0, 6)
	// Five spikes this week plus one older, all near the candidate.
	for i := 0; i < 5; i++ {
		spikes = append(spikes, models.SpikeRecord{
			Ticker: "MEME", SpikePercentage: 50, ObservedAt: now.Add(-time.Duration(i+1) * 24 * time.Hour),
		})
	}
	spikes = append(spikes, models.SpikeRecord{Ticker: "MEME", SpikePercentage: 50, ObservedAt: now.Add(-20 * 24 * time.Hour)})
	engine := NewEngine(&fakeHistory{spikes: spikes}, testLogger())

	result := engine.Validate(context.Background(), candidate(50, 0))

	assert.InDelta(t, 0.2, result.SimilarityScore, 1e-9)
	assert.Contains(t, result.Reasons, "high weekly spike frequency, likely volatility noise")
	// base 0.5 + similar 0.2 + noise 0.1
	assert.InDelta(t, 0.8, result.FalsePositiveProbability, 1e-9)
	assert.Equal(t, models.RecommendDismiss, result.Recommendation)
	assert.False(t, result.IsValid)
}

func TestValidateVolumeContext(t *testing.T) {
	base := &fakeHistory{
		spikes: []models.SpikeRecord{
			{Ticker: "AAPL", SpikePercentage: 48, ObservedAt: time.Now().Add(-20 * 24 * time.Hour)},
		},
		volumes: []float64{100, 100, 100, 100, 100},
	}
	engine := NewEngine(base, testLogger())
	ctx := context.Background()

	extreme := engine.Validate(ctx, candidate(50, 400)) // 4x average
	strong := engine.Validate(ctx, candidate(50, 250))  // 2.5x
	neutral := engine.Validate(ctx, candidate(50, 100)) // 1x
	weak := engine.Validate(ctx, candidate(50, 30))     // 0.3x

	assert.Less(t, extreme.FalsePositiveProbability, strong.FalsePositiveProbability)
	assert.Less(t, strong.FalsePositiveProbability, neutral.FalsePositiveProbability)
	assert.Greater(t, weak.FalsePositiveProbability, neutral.FalsePositiveProbability)
	assert.Contains(t, extreme.Reasons, "extreme volume confirmation")
	assert.Contains(t, weak.Reasons, "weak volume relative to trailing average")
}

func TestValidateCorroborationLowersFalsePositive(t *testing.T) {
	spikes := []models.SpikeRecord{
		{Ticker: "AAPL", SpikePercentage: 48, ObservedAt: time.Now().Add(-20 * 24 * time.Hour)},
	}
	plain := NewEngine(&fakeHistory{spikes: spikes}, testLogger()).
		Validate(context.Background(), candidate(50, 0))
	corroborated := NewEngine(&fakeHistory{spikes: spikes, contradictions: 2}, testLogger()).
		Validate(context.Background(), candidate(50, 0))

	assert.Less(t, corroborated.FalsePositiveProbability, plain.FalsePositiveProbability)
	assert.Contains(t, corroborated.Reasons, "corroborated by recent contradiction alerts")
}

func TestConfidenceIsExactComplement(t *testing.T) {
	histories := []*fakeHistory{
		{},
		{spikes: []models.SpikeRecord{{SpikePercentage: 50, ObservedAt: time.Now()}}},
		{spikesErr: errors.New("store down")},
		{spikes: []models.SpikeRecord{{SpikePercentage: 45, ObservedAt: time.Now()}}, volumes: []float64{100}},
	}
	for _, h := range histories {
		result := NewEngine(h, testLogger()).Validate(context.Background(), candidate(50, 400))
		assert.InDelta(t, 1.0, result.ConfidenceScore+result.FalsePositiveProbability, 1e-9)
	}
}

func TestValidateDegradesToHoldOnHistoryFailure(t *testing.T) {
	engine := NewEngine(&fakeHistory{spikesErr: errors.New("connection refused")}, testLogger())

	result := engine.Validate(context.Background(), candidate(50, 1000))

	assert.True(t, result.IsValid)
	assert.Equal(t, models.RecommendHold, result.Recommendation)
	assert.InDelta(t, 0.5, result.ConfidenceScore, 1e-9)
}

func TestIsDuplicate(t *testing.T) {
	now := time.Now()
	alerts := []models.Alert{
		{
			Ticker:    "AAPL",
			Type:      models.AlertVolumeSpike,
			CreatedAt: now.Add(-2 * time.Hour),
			Metadata:  map[string]interface{}{"spike_percentage": 55.0},
		},
	}
	engine := NewEngine(&fakeHistory{alerts: alerts}, testLogger())
	ctx := context.Background()

	dup, err := engine.IsDuplicate(ctx, candidate(50, 0), 0)
	require.NoError(t, err)
	assert.True(t, dup, "spike within 10 points inside the window is a duplicate")

	dup, err = engine.IsDuplicate(ctx, candidate(30, 0), 0)
	require.NoError(t, err)
	assert.False(t, dup, "spike more than 10 points away is not a duplicate")
}

func TestIsDuplicateReportsLookupFailure(t *testing.T) {
	engine := NewEngine(&fakeHistory{alertsErr: errors.New("timeout")}, testLogger())

	dup, err := engine.IsDuplicate(context.Background(), candidate(50, 0), time.Hour)
	require.Error(t, err)
	assert.False(t, dup)
}
