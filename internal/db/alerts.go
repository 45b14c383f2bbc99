package db

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"tickerpulse/internal/models"
)

// SaveAlert persists a delivered alert and reports whether the row was
// freshly inserted. The (ticker, user_id, type, bucket) key makes
// re-running a distribution job a conflict, and the caller uses the fresh
// flag to skip the delivery side effects it already performed.
func (d *DB) SaveAlert(ctx context.Context, a models.Alert) (bool, error) {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal alert metadata: %w", err)
	}
	query := `
        INSERT INTO alerts (id, ticker, user_id, type, severity, message, metadata, bucket, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (ticker, user_id, type, bucket) DO NOTHING`
	tag, err := d.Pool.Exec(ctx, query,
		a.ID, a.Ticker, a.UserID, a.Type, a.Severity, a.Message, metadata, a.Bucket, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to save alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecentAlerts returns alerts for a ticker created after since, newest
// first. Used by the duplicate check.
func (d *DB) RecentAlerts(ctx context.Context, ticker string, since time.Time) ([]models.Alert, error) {
	rows, err := d.Pool.Query(ctx, `
        SELECT id, ticker, user_id, type, severity, message, metadata, bucket, created_at
        FROM alerts
        WHERE ticker = $1 AND created_at >= $2
        ORDER BY created_at DESC`, ticker, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent alerts for %s: %w", ticker, err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.Ticker, &a.UserID, &a.Type, &a.Severity,
			&a.Message, &metadata, &a.Bucket, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode alert metadata: %w", err)
			}
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ContradictionCount counts validated contradiction alerts for the ticker
// after since. The validation engine reads it as a corroboration signal.
func (d *DB) ContradictionCount(ctx context.Context, ticker string, since time.Time) (int, error) {
	var count int
	err := d.Pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM alerts
        WHERE ticker = $1 AND type = $2 AND created_at >= $3`,
		ticker, models.AlertContradiction, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count contradictions for %s: %w", ticker, err)
	}
	return count, nil
}
