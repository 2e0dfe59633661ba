package billing

import "github.com/shopspring/decimal"

// PaymentStatus is the coarse status stored with a payment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusOverdue PaymentStatus = "overdue"
)

// ParsePaymentStatus validates a stored or requested status.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	switch PaymentStatus(value) {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusOverdue:
		return PaymentStatus(value), nil
	default:
		return "", ErrInvalidStatus
	}
}

// Payment is one billing obligation of one student for one cycle.
type Payment struct {
	ID             string          `json:"id"`
	StudentID      string          `json:"student_id"`
	DueDate        Date            `json:"due_date"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	Status         PaymentStatus   `json:"status"`
	PaidAt         *Date           `json:"paid_at,omitempty"`
	InterestWaived bool            `json:"interest_waived"`
}

// IsPaid reports whether the stored status is paid.
func (p Payment) IsPaid() bool { return p.Status == PaymentStatusPaid }

// Validate checks the record invariants before it enters the engine or storage.
func (p Payment) Validate() error {
	if p.StudentID == "" {
		return ErrEmptyStudentID
	}
	if p.DueDate.IsZero() {
		return ErrInvalidDate
	}
	if p.BaseAmount.IsNegative() {
		return ErrNegativeAmount
	}
	if _, err := ParsePaymentStatus(string(p.Status)); err != nil {
		return err
	}
	hasPaidAt := p.PaidAt != nil && !p.PaidAt.IsZero()
	if p.IsPaid() && !hasPaidAt {
		return ErrMissingPaidAt
	}
	if !p.IsPaid() && p.PaidAt != nil {
		return ErrUnexpectedPaidAt
	}
	return nil
}

// MarkPaid settles the payment on paidAt.
func (p Payment) MarkPaid(paidAt Date) (Payment, error) {
	if paidAt.IsZero() {
		return p, ErrInvalidDate
	}
	if p.IsPaid() {
		return p, ErrAlreadyPaid
	}
	p.Status = PaymentStatusPaid
	p.PaidAt = &paidAt
	return p, nil
}

// Reopen reverts a settled payment to pending.
func (p Payment) Reopen() (Payment, error) {
	if !p.IsPaid() {
		return p, ErrNotPaid
	}
	p.Status = PaymentStatusPending
	p.PaidAt = nil
	return p, nil
}

// Reschedule moves the due date.
func (p Payment) Reschedule(due Date) (Payment, error) {
	if due.IsZero() {
		return p, ErrInvalidDate
	}
	p.DueDate = due
	return p, nil
}

// WithInterestWaived toggles the interest waiver.
func (p Payment) WithInterestWaived(waived bool) Payment {
	p.InterestWaived = waived
	return p
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	StudentID string
	Status    PaymentStatus // resolved status, applied after valuation
}
