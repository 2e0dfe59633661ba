package memory

import (
	"context"
	"sync"

	"school-billing/internal/eventing"
)

const (
	statusPending = "pending"
	statusSent    = "sent"
	statusFailed  = "failed"
)

type outboxEntry struct {
	record   eventing.OutboxRecord
	status   string
	attempts int
}

// OutboxStore is an in-memory outbox.
type OutboxStore struct {
	mu          sync.Mutex
	entries     []*outboxEntry
	byEventID   map[string]string
	maxAttempts int
}

// NewOutboxStore constructs an outbox that parks records after maxAttempts failures.
func NewOutboxStore(maxAttempts int) *OutboxStore {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OutboxStore{byEventID: make(map[string]string), maxAttempts: maxAttempts}
}

// Insert appends an envelope. A repeated event id returns the existing record id.
func (s *OutboxStore) Insert(_ context.Context, env eventing.Envelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEventID[env.EventID]; ok {
		return id, nil
	}
	id := eventing.NewEventID()
	s.entries = append(s.entries, &outboxEntry{
		record: eventing.OutboxRecord{ID: id, Envelope: env},
		status: statusPending,
	})
	s.byEventID[env.EventID] = id
	return id, nil
}

// ListPending returns pending records in insertion order.
func (s *OutboxStore) ListPending(_ context.Context, limit int) ([]eventing.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventing.OutboxRecord
	for _, entry := range s.entries {
		if entry.status != statusPending {
			continue
		}
		out = append(out, entry.record)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks a record as delivered.
func (s *OutboxStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.find(id); entry != nil {
		entry.status = statusSent
	}
	return nil
}

// MarkFailed counts a failed delivery.
func (s *OutboxStore) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.find(id); entry != nil {
		entry.attempts++
		if entry.attempts >= s.maxAttempts {
			entry.status = statusFailed
		}
	}
	return nil
}

// Status returns a record's status and attempt count.
func (s *OutboxStore) Status(id string) (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.find(id); entry != nil {
		return entry.status, entry.attempts
	}
	return "", 0
}

func (s *OutboxStore) find(id string) *outboxEntry {
	for _, entry := range s.entries {
		if entry.record.ID == id {
			return entry
		}
	}
	return nil
}
