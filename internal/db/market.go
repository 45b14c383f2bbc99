package db

import (
	"context"
	"fmt"
	"time"

	"tickerpulse/internal/models"
)

// SaveSnapshot records one market snapshot and, when the snapshot is a
// spike, its spike history row.
func (d *DB) SaveSnapshot(ctx context.Context, s models.MarketSnapshot) error {
	_, err := d.Pool.Exec(ctx, `
        INSERT INTO volume_snapshots (ticker, price, volume, observed_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (ticker, observed_at) DO NOTHING`,
		s.Ticker, s.Price, s.Volume, s.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", s.Ticker, err)
	}
	return nil
}

// SaveSpike records a detected spike in the ticker's history.
func (d *DB) SaveSpike(ctx context.Context, r models.SpikeRecord) error {
	_, err := d.Pool.Exec(ctx, `
        INSERT INTO spike_history (ticker, spike_percentage, observed_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (ticker, observed_at) DO NOTHING`,
		r.Ticker, r.SpikePercentage, r.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to save spike for %s: %w", r.Ticker, err)
	}
	return nil
}

// SpikeHistory returns spike records for a ticker after since.
func (d *DB) SpikeHistory(ctx context.Context, ticker string, since time.Time) ([]models.SpikeRecord, error) {
	rows, err := d.Pool.Query(ctx, `
        SELECT ticker, spike_percentage, observed_at
        FROM spike_history
        WHERE ticker = $1 AND observed_at >= $2
        ORDER BY observed_at DESC`, ticker, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get spike history for %s: %w", ticker, err)
	}
	defer rows.Close()

	var records []models.SpikeRecord
	for rows.Next() {
		var r models.SpikeRecord
		if err := rows.Scan(&r.Ticker, &r.SpikePercentage, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan spike record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// VolumeSnapshots returns the n most recent volume observations.
func (d *DB) VolumeSnapshots(ctx context.Context, ticker string, n int) ([]float64, error) {
	rows, err := d.Pool.Query(ctx, `
        SELECT volume FROM volume_snapshots
        WHERE ticker = $1
        ORDER BY observed_at DESC
        LIMIT $2`, ticker, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get volume snapshots for %s: %w", ticker, err)
	}
	defer rows.Close()

	var volumes []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// SaveNewsItem stores a headline; re-polling the same item is a no-op.
func (d *DB) SaveNewsItem(ctx context.Context, item models.NewsItem) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `
        INSERT INTO news_items (id, ticker, headline, source, sentiment, published_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING`,
		item.ID, item.Ticker, item.Headline, item.Source, item.Sentiment, item.PublishedAt)
	if err != nil {
		return false, fmt.Errorf("failed to save news item %s: %w", item.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SaveFiling stores a filing keyed by accession number; duplicates no-op.
func (d *DB) SaveFiling(ctx context.Context, f models.Filing) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `
        INSERT INTO filings (accession_no, ticker, form_type, description, filed_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (accession_no) DO NOTHING`,
		f.AccessionNo, f.Ticker, f.FormType, f.Description, f.FiledAt)
	if err != nil {
		return false, fmt.Errorf("failed to save filing %s: %w", f.AccessionNo, err)
	}
	return tag.RowsAffected() > 0, nil
}
