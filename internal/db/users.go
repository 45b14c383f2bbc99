package db

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"tickerpulse/internal/models"
)

// WatchersOf returns the users whose watchlists include the ticker.
func (d *DB) WatchersOf(ctx context.Context, ticker string) ([]int64, error) {
	rows, err := d.Pool.Query(ctx, `
        SELECT user_id FROM watchlists WHERE ticker = $1`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchers of %s: %w", ticker, err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan watcher: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// ContactPoint returns the active contact point for a user; ok is false
// when the user has none configured.
func (d *DB) ContactPoint(ctx context.Context, userID int64) (models.ContactPoint, bool, error) {
	var cp models.ContactPoint
	var configuration []byte
	err := d.Pool.QueryRow(ctx, `
        SELECT user_id, type, configuration, status, created_at
        FROM contact_points
        WHERE user_id = $1 AND status = 'active'
        ORDER BY created_at DESC
        LIMIT 1`, userID).Scan(&cp.UserID, &cp.Type, &configuration, &cp.Status, &cp.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.ContactPoint{}, false, nil
		}
		return models.ContactPoint{}, false, fmt.Errorf("failed to get contact point for user %d: %w", userID, err)
	}
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &cp.Configuration); err != nil {
			return models.ContactPoint{}, false, fmt.Errorf("failed to decode contact point configuration: %w", err)
		}
	}
	return cp, true, nil
}
