// Package subscription keeps the mapping between live connections and the
// topics they follow in the backing store, so any process instance can
// resolve fan-out targets. Two indices are kept consistent: a forward hash
// (connection -> topics) and a reverse set per topic (topic -> connections).
// The forward record, not a scan, is the source of truth for cleanup.
package subscription

import (
	"context"
	"fmt"
	"time"

	"tickerpulse/internal/store"
)

const userIDField = "user_id"

// UserChannel is the pub/sub channel alerts for a user are published on.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%d:alerts", userID)
}

// TickerTopic is the registry topic for a ticker symbol.
func TickerTopic(ticker string) string {
	return "ticker:" + ticker
}

// UserTopic marks a connection as a live connection of a user; the alert
// distributor uses it to decide between live push and queued notification.
func UserTopic(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

type Registry struct {
	store store.Store
}

func New(s store.Store) *Registry {
	return &Registry{store: s}
}

func forwardKey(connID string) string { return "ws:conn:" + connID }
func reverseKey(topic string) string  { return "ws:topic:" + topic }

// Register records a new live connection and its owning user.
func (r *Registry) Register(ctx context.Context, connID string, userID int64) error {
	if err := r.store.HSet(ctx, forwardKey(connID), map[string]string{
		userIDField: fmt.Sprintf("%d", userID),
	}); err != nil {
		return err
	}
	return r.Subscribe(ctx, connID, []string{UserTopic(userID)})
}

// Subscribe adds the connection to each topic's reverse set and records the
// membership in the forward hash so Unsubscribe/Cleanup can undo exactly it.
func (r *Registry) Subscribe(ctx context.Context, connID string, topics []string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	fields := make(map[string]string, len(topics))
	for _, topic := range topics {
		if err := r.store.SAdd(ctx, reverseKey(topic), connID); err != nil {
			return err
		}
		fields[topic] = now
	}
	return r.store.HSet(ctx, forwardKey(connID), fields)
}

// Unsubscribe removes the connection from each topic's reverse set and
// drops the forward-index fields.
func (r *Registry) Unsubscribe(ctx context.Context, connID string, topics []string) error {
	for _, topic := range topics {
		if err := r.store.SRem(ctx, reverseKey(topic), connID); err != nil {
			return err
		}
	}
	return r.store.HDel(ctx, forwardKey(connID), topics...)
}

// Cleanup removes the connection from every topic it was forward-recorded
// under and deletes the forward record itself.
func (r *Registry) Cleanup(ctx context.Context, connID string) error {
	record, err := r.store.HGetAll(ctx, forwardKey(connID))
	if err != nil {
		return err
	}
	for topic := range record {
		if topic == userIDField {
			continue
		}
		if err := r.store.SRem(ctx, reverseKey(topic), connID); err != nil {
			return err
		}
	}
	return r.store.Del(ctx, forwardKey(connID))
}

// Subscribers returns the connection IDs currently subscribed to topic.
func (r *Registry) Subscribers(ctx context.Context, topic string) ([]string, error) {
	return r.store.SMembers(ctx, reverseKey(topic))
}

// UserOf resolves the owning user of a connection.
func (r *Registry) UserOf(ctx context.Context, connID string) (int64, error) {
	raw, err := r.store.HGet(ctx, forwardKey(connID), userIDField)
	if err != nil {
		return 0, err
	}
	var userID int64
	if _, err := fmt.Sscanf(raw, "%d", &userID); err != nil {
		return 0, fmt.Errorf("corrupt user_id for connection %s: %w", connID, err)
	}
	return userID, nil
}
