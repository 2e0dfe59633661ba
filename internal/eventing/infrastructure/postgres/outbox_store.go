package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"school-billing/internal/eventing"
)

const defaultMaxAttempts = 5

// OutboxStore keeps outbox records in event_outbox.
type OutboxStore struct {
	db          *sql.DB
	maxAttempts int
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithMaxAttempts sets how many failed deliveries park a record as failed.
func WithMaxAttempts(attempts int) OutboxOption {
	return func(store *OutboxStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Insert writes an envelope to the outbox. A repeated event id is ignored and
// the id of the existing record is returned.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	var id string
	err = s.db.QueryRowContext(ctx, `
INSERT INTO event_outbox (id, event_id, event_type, school_id, payload, status, attempts)
VALUES ($1, $2, $3, $4, $5, 'pending', 0)
ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
RETURNING id`, eventing.NewEventID(), env.EventID, env.EventType, env.SchoolID, payload).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListPending returns the oldest pending records.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, payload
FROM event_outbox
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventing.OutboxRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
			env     eventing.Envelope
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		out = append(out, eventing.OutboxRecord{ID: id, Envelope: env})
	}
	return out, rows.Err()
}

// MarkSent marks a record as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE event_outbox
SET status = 'sent', sent_at = NOW()
WHERE id = $1`, id)
	return err
}

// MarkFailed counts a failed delivery; the record stays pending until it reaches maxAttempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE event_outbox
SET attempts = attempts + 1,
	status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END
WHERE id = $1`, id, s.maxAttempts)
	return err
}
