// Package notify records lifecycle notifications in a transactional outbox
// and relays them to a delivery channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Topics published by the lifecycle controller.
const (
	TopicDisputeSent           = "dispute_sent"
	TopicResponseReceived      = "response_received"
	TopicNextActionRecommended = "next_action_recommended"
	TopicFollowUpDue           = "follow_up_due"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusDead      Status = "dead"
)

// Message is one outbox row.
type Message struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Sink accepts notifications as part of the caller's transaction, so a
// message exists exactly when the state change that produced it commits.
type Sink interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// OutboxSink writes to the outbox table.
type OutboxSink struct{}

func NewOutboxSink() *OutboxSink {
	return &OutboxSink{}
}

func (s *OutboxSink) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("notify: missing topic")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, string(b)); err != nil {
		return fmt.Errorf("notify: enqueue outbox: %w", err)
	}
	return nil
}

// Store is the relay's view of the outbox.
type Store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	MarkAttempt(ctx context.Context, tx pgx.Tx, id string, attempts int, status Status, at time.Time) error
}

type PGStore struct{}

func NewStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, topic, payload, status, attempts, last_attempt, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: claim pending: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.LastAttempt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', last_attempt = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("notify: mark processed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkAttempt(ctx context.Context, tx pgx.Tx, id string, attempts int, status Status, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = $2, status = $3, last_attempt = $4 WHERE id = $1`, id, attempts, status, at); err != nil {
		return fmt.Errorf("notify: mark attempt: %w", err)
	}
	return nil
}
