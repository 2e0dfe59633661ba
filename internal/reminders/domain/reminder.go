package reminders

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	billing "school-billing/internal/billing/domain"
)

// Kind classifies why a guardian is being reminded.
type Kind string

const (
	KindUpcoming Kind = "upcoming"
	KindDueToday Kind = "due_today"
	KindOverdue  Kind = "overdue"
)

// ErrNoRecipient is returned when a student has no guardian phone on file.
var ErrNoRecipient = errors.New("reminders: no recipient")

// Reminder is one message to be sent for one payment on one day.
type Reminder struct {
	SchoolID     string
	PaymentID    string
	StudentID    string
	StudentName  string
	Recipient    string
	Kind         Kind
	DueDate      billing.Date
	BaseAmount   decimal.Decimal
	Interest     decimal.Decimal
	Amount       decimal.Decimal
	OverdueDays  int
	DaysUntilDue int
	SentOn       billing.Date
}

// SentLog records delivered reminders so a payment is reminded at most once per kind per day.
type SentLog interface {
	WasSent(ctx context.Context, schoolID, paymentID string, kind Kind, day billing.Date) (bool, error)
	Record(ctx context.Context, reminder Reminder) error
}

// KindFor decides whether a resolved payment deserves a reminder and of which kind.
// Paid and scholarship payments never do. On-time payments are reminded only when
// the due date is at most daysBefore days away; daysBefore <= 0 disables that band.
func KindFor(p billing.ResolvedPayment, daysBefore int) (Kind, bool) {
	if p.Scholarship || p.ResolvedStatus == billing.PaymentStatusPaid {
		return "", false
	}
	switch p.DueState {
	case billing.DueStateOverdue:
		return KindOverdue, true
	case billing.DueStateDueToday:
		return KindDueToday, true
	case billing.DueStateOnTime:
		if daysBefore <= 0 {
			return "", false
		}
		if billing.DaysBetween(p.DueDate, p.ReferenceDate) <= daysBefore {
			return KindUpcoming, true
		}
	}
	return "", false
}

// New builds the reminder for a student's payment.
func New(schoolID string, student billing.Student, p billing.ResolvedPayment, kind Kind) Reminder {
	return Reminder{
		SchoolID:     schoolID,
		PaymentID:    p.ID,
		StudentID:    student.ID,
		StudentName:  student.Name,
		Recipient:    student.GuardianPhone,
		Kind:         kind,
		DueDate:      p.DueDate,
		BaseAmount:   p.BaseAmount,
		Interest:     p.InterestAmount,
		Amount:       p.CalculatedAmount,
		OverdueDays:  p.OverdueDays,
		DaysUntilDue: billing.DaysBetween(p.DueDate, p.ReferenceDate),
		SentOn:       p.ReferenceDate,
	}
}
