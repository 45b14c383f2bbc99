package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertPriority(t *testing.T) {
	assert.Equal(t, 1, AlertPriority(SeverityCritical))
	assert.Equal(t, 2, AlertPriority(SeverityHigh))
	assert.Equal(t, 3, AlertPriority(SeverityMedium))
	assert.Equal(t, 3, AlertPriority(SeverityLow))
	assert.Equal(t, 3, AlertPriority("unknown"))
}

func TestValidateJobPayload(t *testing.T) {
	cases := []struct {
		name    string
		jobType string
		raw     string
		wantErr bool
	}{
		{"valid alert", JobDistributeAlert, `{"ticker_id":"AAPL","user_id":7,"alert_type":"volume_spike"}`, false},
		{"alert missing user", JobDistributeAlert, `{"ticker_id":"AAPL","alert_type":"volume_spike"}`, true},
		{"valid notification", JobNotifyUser, `{"user_id":7}`, false},
		{"notification missing user", JobNotifyUser, `{"ticker_id":"AAPL"}`, true},
		{"broadcast by ticker", JobBroadcast, `{"ticker_id":"AAPL","event_type":"ticker_alert"}`, false},
		{"broadcast by connections", JobBroadcast, `{"connection_ids":["c1"],"event_type":"ticker_alert"}`, false},
		{"broadcast without target", JobBroadcast, `{"event_type":"ticker_alert"}`, true},
		{"valid ingest", JobFetchMarketData, `{"ticker_id":"AAPL"}`, false},
		{"ingest missing ticker", JobPollNews, `{}`, true},
		{"sweep takes no payload", JobSweepExpired, `{}`, false},
		{"unknown type", "mine_bitcoin", `{}`, true},
		{"malformed json", JobFetchMarketData, `{`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateJobPayload(tc.jobType, []byte(tc.raw))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
