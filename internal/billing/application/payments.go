package application

import (
	"context"

	billing "school-billing/internal/billing/domain"
	"school-billing/internal/observability/metrics"
)

// MarkPaid settles a payment. A zero paidAt means today.
func (s *Service) MarkPaid(ctx context.Context, id string, paidAt billing.Date) (*billing.ResolvedPayment, error) {
	return s.mutate(ctx, "pay", id, func(p billing.Payment, today billing.Date) (billing.Payment, error) {
		if paidAt.IsZero() {
			paidAt = today
		}
		return p.MarkPaid(paidAt)
	})
}

// Reopen reverts a settled payment.
func (s *Service) Reopen(ctx context.Context, id string) (*billing.ResolvedPayment, error) {
	return s.mutate(ctx, "reopen", id, func(p billing.Payment, _ billing.Date) (billing.Payment, error) {
		return p.Reopen()
	})
}

// Reschedule moves a payment's due date.
func (s *Service) Reschedule(ctx context.Context, id string, due billing.Date) (*billing.ResolvedPayment, error) {
	return s.mutate(ctx, "reschedule", id, func(p billing.Payment, _ billing.Date) (billing.Payment, error) {
		return p.Reschedule(due)
	})
}

// SetInterestWaived toggles the interest waiver of a payment.
func (s *Service) SetInterestWaived(ctx context.Context, id string, waived bool) (*billing.ResolvedPayment, error) {
	return s.mutate(ctx, "waive", id, func(p billing.Payment, _ billing.Date) (billing.Payment, error) {
		return p.WithInterestWaived(waived), nil
	})
}

// mutate applies one change to a stored payment against a single reading of
// today.
func (s *Service) mutate(ctx context.Context, action, id string, apply func(billing.Payment, billing.Date) (billing.Payment, error)) (_ *billing.ResolvedPayment, err error) {
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.IncPaymentMutation(action, result)
	}()

	today := s.Today()
	schoolID := s.school(ctx)
	current, err := s.payments.GetPayment(ctx, schoolID, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, billing.ErrPaymentNotFound
	}
	policy, err := s.policyFor(ctx, schoolID, current.StudentID)
	if err != nil {
		return nil, err
	}
	next, err := apply(*current, today)
	if err != nil {
		return nil, err
	}
	next.Status = storedStatus(next, today, policy)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := s.payments.UpdatePayment(ctx, schoolID, next); err != nil {
		return nil, err
	}
	s.logger.Printf("billing: payment %s: school=%s id=%s status=%s", action, schoolID, next.ID, next.Status)

	resolved, err := billing.Valuate(next, today, s.rate, policy)
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

// storedStatus keeps the coarse stored status in line with the due date.
// Scholarship payments are never stored as overdue.
func storedStatus(p billing.Payment, today billing.Date, policy *billing.PricingPolicy) billing.PaymentStatus {
	if p.IsPaid() {
		return billing.PaymentStatusPaid
	}
	if policy != nil && policy.IsScholarship {
		return billing.PaymentStatusPending
	}
	if billing.Classify(p.DueDate, today) == billing.DueStateOverdue {
		return billing.PaymentStatusOverdue
	}
	return billing.PaymentStatusPending
}

func (s *Service) policyFor(ctx context.Context, schoolID, studentID string) (*billing.PricingPolicy, error) {
	student, err := s.students.GetStudent(ctx, schoolID, studentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, nil
	}
	book, err := s.policyBook(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	return book.For(*student), nil
}

// RefreshOverdue rewrites the stored status of unpaid payments whose
// classification changed since they were last saved. It returns the number updated.
func (s *Service) RefreshOverdue(ctx context.Context) (int, error) {
	snap, err := s.loadSnapshot(ctx, "")
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, p := range snap.payments {
		if p.IsPaid() {
			continue
		}
		status := storedStatus(p, snap.today, snap.lookup(p.StudentID))
		if status == p.Status {
			continue
		}
		p.Status = status
		if err := s.payments.UpdatePayment(ctx, snap.schoolID, p); err != nil {
			return updated, err
		}
		updated++
	}
	if updated > 0 {
		s.logger.Printf("billing: stored status refreshed: school=%s updated=%d", snap.schoolID, updated)
	}
	return updated, nil
}
