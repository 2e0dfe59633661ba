package memory

import (
	"context"
	"sync"

	billing "school-billing/internal/billing/domain"
	reminders "school-billing/internal/reminders/domain"
)

type sentKey struct {
	schoolID  string
	paymentID string
	kind      reminders.Kind
	day       string
}

// SentLog is an in-memory reminder log.
type SentLog struct {
	mu      sync.Mutex
	entries map[sentKey]reminders.Reminder
}

// NewSentLog constructs an empty SentLog.
func NewSentLog() *SentLog {
	return &SentLog{entries: make(map[sentKey]reminders.Reminder)}
}

// WasSent reports whether a reminder was already recorded for the day.
func (l *SentLog) WasSent(_ context.Context, schoolID, paymentID string, kind reminders.Kind, day billing.Date) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[sentKey{schoolID: schoolID, paymentID: paymentID, kind: kind, day: day.String()}]
	return ok, nil
}

// Record stores a delivered reminder. Recording the same key twice is a no-op.
func (l *SentLog) Record(_ context.Context, r reminders.Reminder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := sentKey{schoolID: r.SchoolID, paymentID: r.PaymentID, kind: r.Kind, day: r.SentOn.String()}
	if _, ok := l.entries[key]; !ok {
		l.entries[key] = r
	}
	return nil
}

// Len returns the number of recorded reminders.
func (l *SentLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
