package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ResolvedPayment is a payment projected onto a reference date.
type ResolvedPayment struct {
	Payment
	ResolvedStatus   PaymentStatus   `json:"resolved_status"`
	CalculatedAmount decimal.Decimal `json:"calculated_amount"`
	InterestAmount   decimal.Decimal `json:"interest_amount"`
	OverdueDays      int             `json:"overdue_days"`
	ReferenceDate    Date            `json:"reference_date"`
	// DueState is empty for scholarship payments, which are never classified.
	DueState    DueState `json:"due_state,omitempty"`
	Scholarship bool     `json:"scholarship,omitempty"`
}

// Valuate resolves what a payment is worth on today.
//
// A paid payment is judged on its own paid_at date, not on today, so a settled
// record never accrues interest retroactively. Interest is simple daily interest
// on the late base and is recomputed from scratch on every call.
func Valuate(p Payment, today Date, dailyRate decimal.Decimal, policy *PricingPolicy) (ResolvedPayment, error) {
	if p.DueDate.IsZero() {
		return ResolvedPayment{}, fmt.Errorf("%w: payment %s has no due date", ErrInvalidDate, p.ID)
	}
	if dailyRate.IsNegative() {
		return ResolvedPayment{}, ErrNegativeRate
	}
	paid := p.IsPaid()
	ref := today
	if paid {
		if p.PaidAt == nil || p.PaidAt.IsZero() {
			return ResolvedPayment{}, fmt.Errorf("%w: payment %s", ErrMissingPaidAt, p.ID)
		}
		ref = *p.PaidAt
	}
	if ref.IsZero() {
		return ResolvedPayment{}, fmt.Errorf("%w: empty reference date", ErrInvalidDate)
	}

	resolved := ResolvedPayment{
		Payment:          p,
		ResolvedStatus:   PaymentStatusPending,
		CalculatedAmount: decimal.Zero,
		InterestAmount:   decimal.Zero,
		ReferenceDate:    ref,
	}
	if paid {
		resolved.ResolvedStatus = PaymentStatusPaid
	}

	if policy != nil && policy.IsScholarship {
		resolved.Scholarship = true
		return resolved, nil
	}

	resolved.DueState = Classify(p.DueDate, ref)
	if resolved.DueState != DueStateOverdue {
		resolved.CalculatedAmount = p.BaseAmount
		if policy != nil {
			resolved.CalculatedAmount = policy.FeeOnTime
		}
		return resolved, nil
	}

	lateBase := p.BaseAmount
	if policy != nil {
		lateBase = policy.FeeLate
	}
	days := DaysBetween(ref, p.DueDate)
	if days < 0 {
		days = 0
	}
	resolved.OverdueDays = days
	if !paid {
		resolved.ResolvedStatus = PaymentStatusOverdue
	}
	if !p.InterestWaived {
		resolved.InterestAmount = lateBase.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days)))
	}
	resolved.CalculatedAmount = lateBase.Add(resolved.InterestAmount)
	return resolved, nil
}

// PolicyLookup returns the policy for a student id, or nil.
type PolicyLookup func(studentID string) *PricingPolicy

// ValuateBatch valuates every payment against the same reference date.
func ValuateBatch(payments []Payment, today Date, dailyRate decimal.Decimal, lookup PolicyLookup) ([]ResolvedPayment, error) {
	result := make([]ResolvedPayment, 0, len(payments))
	for _, p := range payments {
		var policy *PricingPolicy
		if lookup != nil {
			policy = lookup(p.StudentID)
		}
		resolved, err := Valuate(p, today, dailyRate, policy)
		if err != nil {
			return nil, err
		}
		result = append(result, resolved)
	}
	return result, nil
}

// Summary aggregates a set of resolved payments.
type Summary struct {
	ReferenceDate   Date            `json:"reference_date"`
	Pending         int             `json:"pending"`
	Overdue         int             `json:"overdue"`
	Paid            int             `json:"paid"`
	Outstanding     decimal.Decimal `json:"outstanding"`
	OverdueAmount   decimal.Decimal `json:"overdue_amount"`
	InterestAccrued decimal.Decimal `json:"interest_accrued"`
	Collected       decimal.Decimal `json:"collected"`
}

// Summarize totals resolved payments by resolved status.
func Summarize(today Date, payments []ResolvedPayment) Summary {
	summary := Summary{
		ReferenceDate:   today,
		Outstanding:     decimal.Zero,
		OverdueAmount:   decimal.Zero,
		InterestAccrued: decimal.Zero,
		Collected:       decimal.Zero,
	}
	for _, p := range payments {
		switch p.ResolvedStatus {
		case PaymentStatusPaid:
			summary.Paid++
			summary.Collected = summary.Collected.Add(p.CalculatedAmount)
		case PaymentStatusOverdue:
			summary.Overdue++
			summary.OverdueAmount = summary.OverdueAmount.Add(p.CalculatedAmount)
			summary.Outstanding = summary.Outstanding.Add(p.CalculatedAmount)
			summary.InterestAccrued = summary.InterestAccrued.Add(p.InterestAmount)
		default:
			summary.Pending++
			summary.Outstanding = summary.Outstanding.Add(p.CalculatedAmount)
		}
	}
	return summary
}
