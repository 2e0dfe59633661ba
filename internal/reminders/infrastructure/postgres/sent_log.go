package postgres

import (
	"context"
	"database/sql"
	"errors"

	billing "school-billing/internal/billing/domain"
	reminders "school-billing/internal/reminders/domain"
)

// SentLog persists delivered reminders in reminder_log.
type SentLog struct {
	db *sql.DB
}

// NewSentLog constructs a SentLog.
func NewSentLog(db *sql.DB) *SentLog {
	return &SentLog{db: db}
}

// WasSent reports whether a reminder was already recorded for the day.
func (l *SentLog) WasSent(ctx context.Context, schoolID, paymentID string, kind reminders.Kind, day billing.Date) (bool, error) {
	if l == nil || l.db == nil {
		return false, errors.New("reminder log: nil db")
	}
	var exists bool
	err := l.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM reminder_log
	WHERE school_id = $1 AND payment_id = $2 AND kind = $3 AND sent_on = $4
)`, schoolID, paymentID, string(kind), day).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Record stores a delivered reminder; a second record for the same day is ignored.
func (l *SentLog) Record(ctx context.Context, r reminders.Reminder) error {
	if l == nil || l.db == nil {
		return errors.New("reminder log: nil db")
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO reminder_log (school_id, payment_id, kind, sent_on, student_id, recipient, amount)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (school_id, payment_id, kind, sent_on) DO NOTHING`,
		r.SchoolID, r.PaymentID, string(r.Kind), r.SentOn, r.StudentID, r.Recipient, r.Amount)
	return err
}
