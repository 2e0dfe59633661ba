package billing

import "errors"

var (
	// ErrInvalidDate is returned when a civil date is malformed or missing.
	ErrInvalidDate = errors.New("billing: invalid date")
	// ErrInvalidCycle is returned when a billing cycle has an out of range month or year.
	ErrInvalidCycle = errors.New("billing: invalid cycle")
	// ErrMissingPaidAt is returned when a paid payment carries no payment date.
	ErrMissingPaidAt = errors.New("billing: paid payment without paid_at")
	// ErrUnexpectedPaidAt is returned when an unpaid payment carries a payment date.
	ErrUnexpectedPaidAt = errors.New("billing: paid_at set on unpaid payment")
	// ErrNegativeRate is returned when the daily interest rate is negative.
	ErrNegativeRate = errors.New("billing: negative interest rate")
	// ErrNegativeAmount is returned when a fee or amount is negative.
	ErrNegativeAmount = errors.New("billing: negative amount")
	// ErrInvalidStatus is returned for an unknown payment or student status.
	ErrInvalidStatus = errors.New("billing: invalid status")
	// ErrEmptyStudentID is returned when a payment or student has no student id.
	ErrEmptyStudentID = errors.New("billing: empty student id")
	// ErrAlreadyPaid is returned when marking a settled payment as paid again.
	ErrAlreadyPaid = errors.New("billing: payment already paid")
	// ErrNotPaid is returned when reopening a payment that is not paid.
	ErrNotPaid = errors.New("billing: payment not paid")
	// ErrPaymentNotFound is returned when a payment does not exist.
	ErrPaymentNotFound = errors.New("billing: payment not found")
	// ErrDuplicateInvoice is returned when a student already has an invoice in the month.
	ErrDuplicateInvoice = errors.New("billing: invoice already exists for month")
	// ErrStudentNotFound is returned when a student does not exist.
	ErrStudentNotFound = errors.New("billing: student not found")
)
