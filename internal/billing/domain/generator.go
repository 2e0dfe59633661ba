package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultDueDay is used for students without a valid payment due day.
const DefaultDueDay = 10

// DefaultMonthlyFee is billed to students whose monthly fee is unset.
var DefaultMonthlyFee = decimal.NewFromInt(200)

// invoiceNamespace scopes deterministic invoice ids.
var invoiceNamespace = uuid.MustParse("6f1c2a9e-3b7d-4c41-9e0a-2d8b7f4c1a63")

// Cycle is one calendar month of billing.
type Cycle struct {
	Year  int
	Month time.Month
}

// CycleOf returns the cycle containing d.
func CycleOf(d Date) Cycle {
	return Cycle{Year: d.Year(), Month: d.Month()}
}

// ParseCycle parses "YYYY-MM".
func ParseCycle(value string) (Cycle, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil || len(value) != 7 {
		return Cycle{}, fmt.Errorf("%w: %q", ErrInvalidCycle, value)
	}
	return Cycle{Year: t.Year(), Month: t.Month()}, nil
}

// Valid reports whether the cycle names a real month.
func (c Cycle) Valid() bool {
	return c.Year >= 1 && c.Year <= 9999 && c.Month >= time.January && c.Month <= time.December
}

// IsZero reports whether the cycle is unset.
func (c Cycle) IsZero() bool { return c.Year == 0 && c.Month == 0 }

// String formats the cycle as YYYY-MM.
func (c Cycle) String() string {
	return fmt.Sprintf("%04d-%02d", c.Year, int(c.Month))
}

// DaysInMonth returns the length of the cycle month.
func (c Cycle) DaysInMonth() int {
	return time.Date(c.Year, c.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Contains reports whether d falls in the cycle month.
func (c Cycle) Contains(d Date) bool {
	return !d.IsZero() && d.Year() == c.Year && d.Month() == c.Month
}

// DueDate returns the cycle date for day, clamped to the last day of the month.
func (c Cycle) DueDate(day int) Date {
	if last := c.DaysInMonth(); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return NewDate(c.Year, c.Month, day)
}

// InvoiceID is the deterministic id of a student's invoice for a cycle.
func InvoiceID(studentID string, cycle Cycle) string {
	return uuid.NewSHA1(invoiceNamespace, []byte(studentID+"|"+cycle.String())).String()
}

// GeneratorOptions holds the fallbacks used by GenerateMissingInvoices.
type GeneratorOptions struct {
	DefaultDueDay int
	DefaultFee    decimal.Decimal
}

func (o GeneratorOptions) normalized() GeneratorOptions {
	if o.DefaultDueDay < 1 || o.DefaultDueDay > 31 {
		o.DefaultDueDay = DefaultDueDay
	}
	if !o.DefaultFee.IsPositive() {
		o.DefaultFee = DefaultMonthlyFee
	}
	return o
}

// GenerateMissingInvoices returns the invoices the cycle is missing.
//
// A student gets at most one invoice per calendar month: any existing payment
// dated inside the cycle suppresses generation. When the due day has already
// passed in the cycle the invoice is still back-billed for that month.
func GenerateMissingInvoices(students []Student, existing []Payment, cycle Cycle, opts GeneratorOptions) ([]Payment, error) {
	if !cycle.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCycle, cycle)
	}
	opts = opts.normalized()

	billed := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		if cycle.Contains(p.DueDate) {
			billed[p.StudentID] = struct{}{}
		}
	}

	var created []Payment
	for _, student := range students {
		if !student.IsActive() || student.ID == "" {
			continue
		}
		if _, ok := billed[student.ID]; ok {
			continue
		}
		due := cycle.DueDate(student.DueDay(opts.DefaultDueDay))
		if !student.EnrollmentDate.IsZero() && student.EnrollmentDate.After(due) {
			continue
		}
		created = append(created, pendingInvoice(student, due, opts))
		billed[student.ID] = struct{}{}
	}
	return created, nil
}

// FirstInvoice builds the invoice issued when a student enrolls. A zero due
// date falls back to the student's due day in the enrollment month, or to the
// enrollment date itself when that day has already passed.
func FirstInvoice(student Student, due Date, opts GeneratorOptions) (Payment, error) {
	if student.ID == "" {
		return Payment{}, ErrEmptyStudentID
	}
	opts = opts.normalized()
	if due.IsZero() {
		if student.EnrollmentDate.IsZero() {
			return Payment{}, fmt.Errorf("%w: student %s has no enrollment date", ErrInvalidDate, student.ID)
		}
		due = CycleOf(student.EnrollmentDate).DueDate(student.DueDay(opts.DefaultDueDay))
		if due.Before(student.EnrollmentDate) {
			due = student.EnrollmentDate
		}
	}
	return pendingInvoice(student, due, opts), nil
}

func pendingInvoice(student Student, due Date, opts GeneratorOptions) Payment {
	fee := student.MonthlyFee
	if !fee.IsPositive() {
		fee = opts.DefaultFee
	}
	return Payment{
		ID:         InvoiceID(student.ID, CycleOf(due)),
		StudentID:  student.ID,
		DueDate:    due,
		BaseAmount: fee,
		Status:     PaymentStatusPending,
	}
}
