package billing

import "github.com/shopspring/decimal"

// StudentStatus controls whether a student accrues new invoices.
type StudentStatus string

const (
	StudentStatusActive   StudentStatus = "active"
	StudentStatusInactive StudentStatus = "inactive"
)

// Student is the billing-relevant projection of a student.
type Student struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	GuardianPhone  string          `json:"guardian_phone,omitempty"`
	MonthlyFee     decimal.Decimal `json:"monthly_fee"`
	PaymentDueDay  int             `json:"payment_due_day"`
	EnrollmentDate Date            `json:"enrollment_date"`
	Status         StudentStatus   `json:"status"`
	PolicyID       string          `json:"policy_id,omitempty"`
}

// IsActive reports whether the student accrues invoices.
func (s Student) IsActive() bool { return s.Status == StudentStatusActive }

// DueDay returns the configured due day, or fallback when unset or out of range.
func (s Student) DueDay(fallback int) int {
	if s.PaymentDueDay >= 1 && s.PaymentDueDay <= 31 {
		return s.PaymentDueDay
	}
	return fallback
}

// Validate checks the student record before it is stored.
func (s Student) Validate() error {
	if s.ID == "" {
		return ErrEmptyStudentID
	}
	if s.MonthlyFee.IsNegative() {
		return ErrNegativeAmount
	}
	switch s.Status {
	case StudentStatusActive, StudentStatusInactive:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// PricingPolicy overrides the stored fee of the students that reference it.
type PricingPolicy struct {
	ID            string          `json:"id" yaml:"id"`
	FeeOnTime     decimal.Decimal `json:"fee_on_time" yaml:"fee_on_time"`
	FeeLate       decimal.Decimal `json:"fee_late" yaml:"fee_late"`
	IsScholarship bool            `json:"is_scholarship" yaml:"is_scholarship"`
}

// Validate checks the policy amounts.
func (p PricingPolicy) Validate() error {
	if p.FeeOnTime.IsNegative() || p.FeeLate.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

// PolicyBook resolves a student's pricing policy by reference.
type PolicyBook map[string]PricingPolicy

// NewPolicyBook indexes policies by id. Later entries win.
func NewPolicyBook(policies []PricingPolicy) PolicyBook {
	book := make(PolicyBook, len(policies))
	for _, policy := range policies {
		if policy.ID == "" {
			continue
		}
		book[policy.ID] = policy
	}
	return book
}

// For returns the student's policy, or nil when the student has none.
func (b PolicyBook) For(student Student) *PricingPolicy {
	if b == nil || student.PolicyID == "" {
		return nil
	}
	policy, ok := b[student.PolicyID]
	if !ok {
		return nil
	}
	return &policy
}
