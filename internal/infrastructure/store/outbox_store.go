package store

import (
	"context"
	"fmt"

	"github.com/example/bookstore/internal/domain"
)

// PGOutboxStore persists outbox events in PostgreSQL. With a transaction it
// serves as the in-transaction appender; with a plain DB handle it serves
// the relay.
type PGOutboxStore struct {
	q DBTX
}

func NewOutboxStore(q DBTX) *PGOutboxStore {
	return &PGOutboxStore{q: q}
}

func (s *PGOutboxStore) Append(ctx context.Context, event *domain.OutboxEvent) error {
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, status, attempt_count)
		 VALUES ($1, $2, $3, $4, $5, 0)
		 RETURNING id, created_at`,
		event.AggregateType, event.AggregateID, event.EventType, []byte(event.Payload), domain.OutboxPending,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	event.Status = domain.OutboxPending
	return nil
}

// FetchPending returns PENDING events oldest first so per-aggregate causal
// order is preserved across relay cycles.
func (s *PGOutboxStore) FetchPending(ctx context.Context) ([]domain.OutboxEvent, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at
		 FROM outbox_events WHERE status = $1 ORDER BY created_at ASC, id ASC`,
		domain.OutboxPending)
	if err != nil {
		return nil, fmt.Errorf("fetch pending events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload, &e.Status, &e.AttemptCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PGOutboxStore) MarkPublished(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx,
		`UPDATE outbox_events SET status = $1 WHERE id = $2`, domain.OutboxPublished, id,
	); err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

func (s *PGOutboxStore) MarkAttempt(ctx context.Context, id int64, attempts int, terminal bool) error {
	status := domain.OutboxPending
	if terminal {
		status = domain.OutboxFailed
	}
	if _, err := s.q.ExecContext(ctx,
		`UPDATE outbox_events SET attempt_count = $1, status = $2 WHERE id = $3`, attempts, status, id,
	); err != nil {
		return fmt.Errorf("mark outbox attempt: %w", err)
	}
	return nil
}
