package application

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"school-billing/internal/auth"
	billing "school-billing/internal/billing/domain"
	"school-billing/internal/observability/metrics"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Service runs billing use cases over repository snapshots.
type Service struct {
	students  billing.StudentRepository
	payments  billing.PaymentRepository
	policies  billing.PolicyRepository
	publisher InvoicePublisher
	clock     Clock
	location  *time.Location
	rate      decimal.Decimal
	genOpts   billing.GeneratorOptions
	schoolID  string
	logger    *log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDailyRate sets the daily interest rate applied to overdue payments.
func WithDailyRate(rate decimal.Decimal) Option {
	return func(s *Service) { s.rate = rate }
}

// WithGeneratorOptions sets the recurring invoice defaults.
func WithGeneratorOptions(opts billing.GeneratorOptions) Option {
	return func(s *Service) { s.genOpts = opts }
}

// WithLocation sets the zone used to derive today's civil date.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublisher sets the invoice event publisher.
func WithPublisher(publisher InvoicePublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

// WithSchoolID sets the school used when the request carries none.
func WithSchoolID(schoolID string) Option {
	return func(s *Service) { s.schoolID = schoolID }
}

// WithLogger sets the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs the billing service.
func NewService(students billing.StudentRepository, payments billing.PaymentRepository, policies billing.PolicyRepository, opts ...Option) (*Service, error) {
	if students == nil {
		return nil, errors.New("billing service: nil student repository")
	}
	if payments == nil {
		return nil, errors.New("billing service: nil payment repository")
	}
	s := &Service{
		students: students,
		payments: payments,
		policies: policies,
		clock:    SystemClock{},
		location: time.UTC,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rate.IsNegative() {
		return nil, billing.ErrNegativeRate
	}
	if s.schoolID == "" {
		return nil, errors.New("billing service: empty school id")
	}
	return s, nil
}

// Today returns the current civil date in the school's zone.
func (s *Service) Today() billing.Date {
	return billing.DateOf(s.clock.Now().In(s.location))
}

// Rate returns the configured daily interest rate.
func (s *Service) Rate() decimal.Decimal {
	return s.rate
}

func (s *Service) school(ctx context.Context) string {
	if schoolID := auth.SchoolIDFromContext(ctx); schoolID != "" {
		return schoolID
	}
	return s.schoolID
}

func (s *Service) policyBook(ctx context.Context, schoolID string) (billing.PolicyBook, error) {
	if s.policies == nil {
		return billing.PolicyBook{}, nil
	}
	list, err := s.policies.ListPolicies(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	return billing.NewPolicyBook(list), nil
}

type snapshot struct {
	schoolID string
	today    billing.Date
	students map[string]billing.Student
	book     billing.PolicyBook
	payments []billing.Payment
}

func (s *Service) loadSnapshot(ctx context.Context, studentID string) (*snapshot, error) {
	schoolID := s.school(ctx)
	students, err := s.students.ListStudents(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	book, err := s.policyBook(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListPayments(ctx, schoolID, studentID)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{
		schoolID: schoolID,
		today:    s.Today(),
		students: make(map[string]billing.Student, len(students)),
		book:     book,
		payments: payments,
	}
	for _, student := range students {
		snap.students[student.ID] = student
	}
	return snap, nil
}

func (snap *snapshot) lookup(studentID string) *billing.PricingPolicy {
	student, ok := snap.students[studentID]
	if !ok {
		return nil
	}
	return snap.book.For(student)
}

func (s *Service) valuate(snap *snapshot, payments []billing.Payment) ([]billing.ResolvedPayment, error) {
	start := time.Now()
	resolved, err := billing.ValuateBatch(payments, snap.today, s.rate, snap.lookup)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveValuation(result, len(resolved), time.Since(start))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		if !resolved[i].DueDate.Equal(resolved[j].DueDate) {
			return resolved[i].DueDate.Before(resolved[j].DueDate)
		}
		return resolved[i].StudentID < resolved[j].StudentID
	})
	return resolved, nil
}

// ListResolved valuates the school's payments against today.
func (s *Service) ListResolved(ctx context.Context, filter billing.PaymentFilter) ([]billing.ResolvedPayment, error) {
	snap, err := s.loadSnapshot(ctx, filter.StudentID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.valuate(snap, snap.payments)
	if err != nil {
		return nil, err
	}
	if filter.Status == "" {
		return resolved, nil
	}
	filtered := resolved[:0]
	for _, p := range resolved {
		if p.ResolvedStatus == filter.Status {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// Summary totals every payment of the school.
func (s *Service) Summary(ctx context.Context) (billing.Summary, error) {
	snap, err := s.loadSnapshot(ctx, "")
	if err != nil {
		return billing.Summary{}, err
	}
	resolved, err := s.valuate(snap, snap.payments)
	if err != nil {
		return billing.Summary{}, err
	}
	return billing.Summarize(snap.today, resolved), nil
}

// Statement is a student's resolved ledger.
type Statement struct {
	Student  billing.Student           `json:"student"`
	Policy   *billing.PricingPolicy    `json:"policy,omitempty"`
	Payments []billing.ResolvedPayment `json:"payments"`
	Summary  billing.Summary           `json:"summary"`
}

// StudentStatement valuates every payment of one student.
func (s *Service) StudentStatement(ctx context.Context, studentID string) (*Statement, error) {
	if studentID == "" {
		return nil, billing.ErrEmptyStudentID
	}
	snap, err := s.loadSnapshot(ctx, studentID)
	if err != nil {
		return nil, err
	}
	student, ok := snap.students[studentID]
	if !ok {
		return nil, billing.ErrStudentNotFound
	}
	resolved, err := s.valuate(snap, snap.payments)
	if err != nil {
		return nil, err
	}
	return &Statement{
		Student:  student,
		Policy:   snap.book.For(student),
		Payments: resolved,
		Summary:  billing.Summarize(snap.today, resolved),
	}, nil
}

// Receivable pairs a resolved payment with its student.
type Receivable struct {
	Student billing.Student
	Payment billing.ResolvedPayment
}

// Receivables valuates all payments of the school with their students.
// Payments whose student is no longer on the roster are skipped.
func (s *Service) Receivables(ctx context.Context) ([]Receivable, billing.Date, error) {
	snap, err := s.loadSnapshot(ctx, "")
	if err != nil {
		return nil, billing.Date{}, err
	}
	resolved, err := s.valuate(snap, snap.payments)
	if err != nil {
		return nil, billing.Date{}, err
	}
	out := make([]Receivable, 0, len(resolved))
	for _, p := range resolved {
		student, ok := snap.students[p.StudentID]
		if !ok {
			s.logger.Printf("billing: orphan payment skipped: payment=%s student=%s", p.ID, p.StudentID)
			continue
		}
		out = append(out, Receivable{Student: student, Payment: p})
	}
	return out, snap.today, nil
}
