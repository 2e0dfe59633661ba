package application

import (
	"context"
	"time"

	billing "school-billing/internal/billing/domain"
	"school-billing/internal/observability/metrics"
)

// InvoicesGenerated is emitted after a generation run stores at least one invoice.
type InvoicesGenerated struct {
	SchoolID   string        `json:"school_id"`
	Cycle      billing.Cycle `json:"cycle"`
	Candidates int           `json:"candidates"`
	Stored     int           `json:"stored"`
	PaymentIDs []string      `json:"payment_ids"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// InvoicePublisher emits invoice generation events.
type InvoicePublisher interface {
	PublishInvoicesGenerated(ctx context.Context, event InvoicesGenerated) error
}

// GenerationResult reports what a generation run did.
type GenerationResult struct {
	Cycle      billing.Cycle     `json:"cycle"`
	Candidates int               `json:"candidates"`
	Stored     int               `json:"stored"`
	Payments   []billing.Payment `json:"payments"`
}

// GenerateInvoices tops up the cycle with the invoices it is missing.
// A zero cycle means the current month.
func (s *Service) GenerateInvoices(ctx context.Context, cycle billing.Cycle) (*GenerationResult, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	candidates, stored := 0, 0
	defer func() {
		metrics.ObserveInvoiceRun(result, candidates, stored, time.Since(start))
	}()

	if cycle.IsZero() {
		cycle = billing.CycleOf(s.Today())
	}
	if !cycle.Valid() {
		result = metrics.ResultError
		return nil, billing.ErrInvalidCycle
	}

	schoolID := s.school(ctx)
	students, err := s.students.ListStudents(ctx, schoolID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	existing, err := s.payments.ListPayments(ctx, schoolID, "")
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	created, err := billing.GenerateMissingInvoices(students, existing, cycle, s.genOpts)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	candidates = len(created)
	if candidates == 0 {
		result = metrics.ResultSkipped
		return &GenerationResult{Cycle: cycle, Payments: []billing.Payment{}}, nil
	}

	storedIDs, err := s.payments.InsertPayments(ctx, schoolID, created)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	stored = len(storedIDs)
	kept := onlyStored(created, storedIDs)
	s.logger.Printf("billing: invoices generated: school=%s cycle=%s candidates=%d stored=%d", schoolID, cycle, candidates, stored)

	if stored > 0 && s.publisher != nil {
		if err := s.publisher.PublishInvoicesGenerated(ctx, InvoicesGenerated{
			SchoolID:   schoolID,
			Cycle:      cycle,
			Candidates: candidates,
			Stored:     stored,
			PaymentIDs: storedIDs,
			OccurredAt: s.clock.Now().UTC(),
		}); err != nil {
			s.logger.Printf("billing: publish invoices generated failed: %v", err)
		}
	}
	return &GenerationResult{Cycle: cycle, Candidates: candidates, Stored: stored, Payments: kept}, nil
}

// onlyStored drops the candidates the repository skipped.
func onlyStored(candidates []billing.Payment, storedIDs []string) []billing.Payment {
	ids := make(map[string]struct{}, len(storedIDs))
	for _, id := range storedIDs {
		ids[id] = struct{}{}
	}
	out := make([]billing.Payment, 0, len(storedIDs))
	for _, p := range candidates {
		if _, ok := ids[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// EnrollStudent stores a student and issues the first invoice. A zero firstDue
// falls back to the student's due day in the enrollment month, or to the
// enrollment date when that day has already passed. No invoice is issued when
// the student already has one for that month.
func (s *Service) EnrollStudent(ctx context.Context, student billing.Student, firstDue billing.Date) (*billing.Student, []billing.Payment, error) {
	if student.Status == "" {
		student.Status = billing.StudentStatusActive
	}
	if student.EnrollmentDate.IsZero() {
		student.EnrollmentDate = s.Today()
	}
	if err := student.Validate(); err != nil {
		return nil, nil, err
	}
	first, err := billing.FirstInvoice(student, firstDue, s.genOpts)
	if err != nil {
		return nil, nil, err
	}
	schoolID := s.school(ctx)
	if err := s.students.SaveStudent(ctx, schoolID, student); err != nil {
		return nil, nil, err
	}
	if !student.IsActive() {
		return &student, []billing.Payment{}, nil
	}
	storedIDs, err := s.payments.InsertPayments(ctx, schoolID, []billing.Payment{first})
	if err != nil {
		return nil, nil, err
	}
	created := onlyStored([]billing.Payment{first}, storedIDs)
	s.logger.Printf("billing: student enrolled: school=%s student=%s first_due=%s invoices=%d", schoolID, student.ID, first.DueDate, len(created))
	return &student, created, nil
}
