package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"school-billing/internal/auth"
	billing "school-billing/internal/billing/domain"
	"school-billing/internal/billing/infrastructure/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type recordingPublisher struct {
	events []InvoicesGenerated
}

func (p *recordingPublisher) PublishInvoicesGenerated(ctx context.Context, event InvoicesGenerated) error {
	p.events = append(p.events, event)
	return nil
}

type fixture struct {
	service   *Service
	students  *memory.StudentRepository
	payments  *memory.PaymentRepository
	clock     *fixedClock
	publisher *recordingPublisher
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		students:  memory.NewStudentRepository(),
		payments:  memory.NewPaymentRepository(),
		clock:     &fixedClock{now: now},
		publisher: &recordingPublisher{},
	}
	policies := memory.NewPolicyRepository([]billing.PricingPolicy{
		{ID: "full", IsScholarship: true},
		{ID: "sibling", FeeOnTime: decimal.NewFromInt(150), FeeLate: decimal.NewFromInt(180)},
	})
	service, err := NewService(f.students, f.payments, policies,
		WithSchoolID("school-a"),
		WithClock(f.clock),
		WithDailyRate(decimal.RequireFromString("0.004")),
		WithPublisher(f.publisher),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.service = service
	return f
}

func (f *fixture) addStudent(t *testing.T, student billing.Student) {
	t.Helper()
	if student.Status == "" {
		student.Status = billing.StudentStatusActive
	}
	if student.MonthlyFee.IsZero() {
		student.MonthlyFee = decimal.NewFromInt(200)
	}
	if student.EnrollmentDate.IsZero() {
		student.EnrollmentDate = billing.MustParseDate("2024-01-01")
	}
	if err := f.students.SaveStudent(context.Background(), "school-a", student); err != nil {
		t.Fatalf("save student: %v", err)
	}
}

func march15() time.Time {
	return time.Date(2024, time.March, 15, 15, 0, 0, 0, time.UTC)
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil, memory.NewPaymentRepository(), nil, WithSchoolID("s")); err == nil {
		t.Fatalf("expected error for nil student repository")
	}
	if _, err := NewService(memory.NewStudentRepository(), nil, nil, WithSchoolID("s")); err == nil {
		t.Fatalf("expected error for nil payment repository")
	}
	if _, err := NewService(memory.NewStudentRepository(), memory.NewPaymentRepository(), nil); err == nil {
		t.Fatalf("expected error for empty school id")
	}
	_, err := NewService(memory.NewStudentRepository(), memory.NewPaymentRepository(), nil,
		WithSchoolID("s"), WithDailyRate(decimal.RequireFromString("-1")))
	if !errors.Is(err, billing.ErrNegativeRate) {
		t.Fatalf("expected ErrNegativeRate, got %v", err)
	}
}

func TestTodayUsesSchoolZone(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 16, 1, 30, 0, 0, time.UTC))
	loc := time.FixedZone("BRT", -3*60*60)
	WithLocation(loc)(f.service)
	if got := f.service.Today().String(); got != "2024-03-15" {
		t.Fatalf("today = %s, want 2024-03-15", got)
	}
}

func TestGenerateInvoicesAndValuate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 10})
	f.addStudent(t, billing.Student{ID: "stu-2", PaymentDueDay: 20})
	f.addStudent(t, billing.Student{ID: "stu-3", PaymentDueDay: 5, PolicyID: "full"})

	result, err := f.service.GenerateInvoices(ctx, billing.Cycle{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Cycle.String() != "2024-03" || result.Stored != 3 || result.Candidates != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Stored != 3 {
		t.Fatalf("expected one publish, got %+v", f.publisher.events)
	}

	again, err := f.service.GenerateInvoices(ctx, billing.Cycle{})
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if again.Stored != 0 || len(f.publisher.events) != 1 {
		t.Fatalf("second run should store nothing: %+v", again)
	}

	resolved, err := f.service.ListResolved(ctx, billing.PaymentFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("expected 3 payments, got %d", len(resolved))
	}
	byStudent := map[string]billing.ResolvedPayment{}
	for _, p := range resolved {
		byStudent[p.StudentID] = p
		if p.ReferenceDate.String() != "2024-03-15" {
			t.Fatalf("reference date = %s", p.ReferenceDate)
		}
	}
	if got := byStudent["stu-1"]; got.ResolvedStatus != billing.PaymentStatusOverdue || !got.CalculatedAmount.Equal(decimal.NewFromInt(204)) {
		t.Fatalf("stu-1: %+v", got)
	}
	if got := byStudent["stu-2"]; got.ResolvedStatus != billing.PaymentStatusPending || got.DueState != billing.DueStateOnTime {
		t.Fatalf("stu-2: %+v", got)
	}
	if got := byStudent["stu-3"]; !got.Scholarship || !got.CalculatedAmount.IsZero() {
		t.Fatalf("stu-3: %+v", got)
	}

	overdue, err := f.service.ListResolved(ctx, billing.PaymentFilter{Status: billing.PaymentStatusOverdue})
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].StudentID != "stu-1" {
		t.Fatalf("overdue filter: %+v", overdue)
	}
}

func TestGenerateInvoicesNothingToDo(t *testing.T) {
	f := newFixture(t, march15())
	result, err := f.service.GenerateInvoices(context.Background(), billing.Cycle{Year: 2024, Month: time.April})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Stored != 0 || result.Payments == nil {
		t.Fatalf("unexpected empty result: %+v", result)
	}
	if _, err := f.service.GenerateInvoices(context.Background(), billing.Cycle{Year: 2024, Month: 14}); !errors.Is(err, billing.ErrInvalidCycle) {
		t.Fatalf("expected ErrInvalidCycle, got %v", err)
	}
}

func TestSchoolFromContext(t *testing.T) {
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 10})
	if err := f.students.SaveStudent(context.Background(), "school-b", billing.Student{
		ID: "other", Status: billing.StudentStatusActive, MonthlyFee: decimal.NewFromInt(90), PaymentDueDay: 10,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	ctx := auth.WithIdentity(context.Background(), "school-b", auth.RoleAdmin, "admin")
	result, err := f.service.GenerateInvoices(ctx, billing.Cycle{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Stored != 1 || result.Payments[0].StudentID != "other" {
		t.Fatalf("expected only school-b invoice: %+v", result)
	}
	defaultSchool, err := f.service.ListResolved(context.Background(), billing.PaymentFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(defaultSchool) != 0 {
		t.Fatalf("school-a should have no payments, got %d", len(defaultSchool))
	}
}

func TestPaymentMutations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 10})
	result, err := f.service.GenerateInvoices(ctx, billing.Cycle{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id := result.Payments[0].ID

	waived, err := f.service.SetInterestWaived(ctx, id, true)
	if err != nil {
		t.Fatalf("waive: %v", err)
	}
	if !waived.InterestAmount.IsZero() || waived.ResolvedStatus != billing.PaymentStatusOverdue {
		t.Fatalf("waived: %+v", waived)
	}
	if _, err := f.service.SetInterestWaived(ctx, id, false); err != nil {
		t.Fatalf("unwaive: %v", err)
	}

	paid, err := f.service.MarkPaid(ctx, id, billing.MustParseDate("2024-03-12"))
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.ResolvedStatus != billing.PaymentStatusPaid || !paid.CalculatedAmount.Equal(decimal.RequireFromString("201.6")) {
		t.Fatalf("paid: %+v", paid)
	}
	if _, err := f.service.MarkPaid(ctx, id, billing.Date{}); !errors.Is(err, billing.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}

	// Later days do not change a settled payment.
	f.clock.now = f.clock.now.AddDate(0, 2, 0)
	statement, err := f.service.StudentStatement(ctx, "stu-1")
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if !statement.Payments[0].CalculatedAmount.Equal(decimal.RequireFromString("201.6")) {
		t.Fatalf("paid amount drifted: %s", statement.Payments[0].CalculatedAmount)
	}

	reopened, err := f.service.Reopen(ctx, id)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != billing.PaymentStatusOverdue || reopened.PaidAt != nil {
		t.Fatalf("reopened: %+v", reopened)
	}

	moved, err := f.service.Reschedule(ctx, id, billing.DateOf(f.clock.now).AddDays(5))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.Status != billing.PaymentStatusPending || moved.ResolvedStatus != billing.PaymentStatusPending {
		t.Fatalf("rescheduled: %+v", moved)
	}

	if _, err := f.service.MarkPaid(ctx, "missing", billing.Date{}); !errors.Is(err, billing.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestMarkPaidDefaultsToToday(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 10})
	result, err := f.service.GenerateInvoices(ctx, billing.Cycle{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	paid, err := f.service.MarkPaid(ctx, result.Payments[0].ID, billing.Date{})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.PaidAt == nil || paid.PaidAt.String() != "2024-03-15" {
		t.Fatalf("paid at = %v", paid.PaidAt)
	}
}

func TestSummaryAndStatement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 10})
	f.addStudent(t, billing.Student{ID: "stu-2", PaymentDueDay: 10, PolicyID: "sibling"})
	if _, err := f.service.GenerateInvoices(ctx, billing.Cycle{}); err != nil {
		t.Fatalf("generate: %v", err)
	}

	summary, err := f.service.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	// 204 + (180 + 180*0.004*5)
	if summary.Overdue != 2 || !summary.Outstanding.Equal(decimal.RequireFromString("387.6")) {
		t.Fatalf("summary: %+v", summary)
	}

	statement, err := f.service.StudentStatement(ctx, "stu-2")
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if statement.Policy == nil || statement.Policy.ID != "sibling" {
		t.Fatalf("policy: %+v", statement.Policy)
	}
	if !statement.Summary.InterestAccrued.Equal(decimal.RequireFromString("3.6")) {
		t.Fatalf("interest = %s", statement.Summary.InterestAccrued)
	}
	if _, err := f.service.StudentStatement(ctx, "ghost"); !errors.Is(err, billing.ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got %v", err)
	}
}

func TestEnrollStudentIssuesFirstInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())

	student, created, err := f.service.EnrollStudent(ctx, billing.Student{
		ID:            "new-1",
		Name:          "Carla",
		MonthlyFee:    decimal.NewFromInt(220),
		PaymentDueDay: 25,
	}, billing.Date{})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if student.EnrollmentDate.String() != "2024-03-15" || student.Status != billing.StudentStatusActive {
		t.Fatalf("student defaults: %+v", student)
	}
	if len(created) != 1 || created[0].DueDate.String() != "2024-03-25" {
		t.Fatalf("expected march invoice, got %+v", created)
	}

	// Due day already passed in the enrollment month: billed on the enrollment date.
	_, created, err = f.service.EnrollStudent(ctx, billing.Student{ID: "late-1", PaymentDueDay: 5}, billing.Date{})
	if err != nil {
		t.Fatalf("enroll late: %v", err)
	}
	if len(created) != 1 || created[0].DueDate.String() != "2024-03-15" {
		t.Fatalf("late enrollment must still be billed: %+v", created)
	}
	stored, err := f.payments.ListPayments(ctx, "school-a", "late-1")
	if err != nil || len(stored) != 1 {
		t.Fatalf("late enrollment invoice not stored: %v %+v", err, stored)
	}

	// The next cycle is still billed on the usual due day.
	f.clock.now = time.Date(2024, time.April, 1, 12, 0, 0, 0, time.UTC)
	april, err := f.service.GenerateInvoices(ctx, billing.Cycle{})
	if err != nil {
		t.Fatalf("generate april: %v", err)
	}
	for _, p := range april.Payments {
		if p.StudentID == "late-1" && p.DueDate.String() != "2024-04-05" {
			t.Fatalf("april invoice: %+v", p)
		}
	}
	f.clock.now = march15()

	_, created, err = f.service.EnrollStudent(ctx, billing.Student{ID: "chosen-1", PaymentDueDay: 5}, billing.MustParseDate("2024-03-28"))
	if err != nil {
		t.Fatalf("enroll with first due date: %v", err)
	}
	if len(created) != 1 || created[0].DueDate.String() != "2024-03-28" {
		t.Fatalf("chosen first due date ignored: %+v", created)
	}

	// Re-enrolling an invoiced student does not bill the month twice.
	_, created, err = f.service.EnrollStudent(ctx, billing.Student{ID: "chosen-1", PaymentDueDay: 5}, billing.MustParseDate("2024-03-30"))
	if err != nil {
		t.Fatalf("re-enroll: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("month billed twice: %+v", created)
	}

	if _, _, err := f.service.EnrollStudent(ctx, billing.Student{}, billing.Date{}); !errors.Is(err, billing.ErrEmptyStudentID) {
		t.Fatalf("expected ErrEmptyStudentID, got %v", err)
	}
}

func TestReceivablesAndRefreshOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 10, GuardianPhone: "+5511999990000"})
	if _, err := f.service.GenerateInvoices(ctx, billing.Cycle{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := f.payments.InsertPayments(ctx, "school-a", []billing.Payment{{
		ID: "orphan", StudentID: "gone", DueDate: billing.MustParseDate("2024-03-01"),
		BaseAmount: decimal.NewFromInt(10), Status: billing.PaymentStatusPending,
	}}); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}

	receivables, today, err := f.service.Receivables(ctx)
	if err != nil {
		t.Fatalf("receivables: %v", err)
	}
	if today.String() != "2024-03-15" || len(receivables) != 1 {
		t.Fatalf("receivables: today=%s count=%d", today, len(receivables))
	}
	if receivables[0].Student.GuardianPhone != "+5511999990000" {
		t.Fatalf("student not joined: %+v", receivables[0])
	}

	updated, err := f.service.RefreshOverdue(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 refreshed payments, got %d", updated)
	}
	updated, err = f.service.RefreshOverdue(ctx)
	if err != nil {
		t.Fatalf("refresh again: %v", err)
	}
	if updated != 0 {
		t.Fatalf("second refresh should be a no-op, got %d", updated)
	}
}

// hidingPayments hides one stored invoice from listings, as when another
// process stores it between the read and the insert.
type hidingPayments struct {
	*memory.PaymentRepository
	hidden string
}

func (r hidingPayments) ListPayments(ctx context.Context, schoolID, studentID string) ([]billing.Payment, error) {
	all, err := r.PaymentRepository.ListPayments(ctx, schoolID, studentID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.ID != r.hidden {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestGenerateInvoicesPublishesOnlyStoredIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 10})
	f.addStudent(t, billing.Student{ID: "stu-2", PaymentDueDay: 20})
	march := billing.Cycle{Year: 2024, Month: time.March}
	raced := billing.InvoiceID("stu-1", march)
	if _, err := f.payments.InsertPayments(ctx, "school-a", []billing.Payment{{
		ID: raced, StudentID: "stu-1", DueDate: billing.MustParseDate("2024-03-10"),
		BaseAmount: decimal.NewFromInt(200), Status: billing.PaymentStatusPending,
	}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	service, err := NewService(f.students, hidingPayments{PaymentRepository: f.payments, hidden: raced}, nil,
		WithSchoolID("school-a"), WithClock(f.clock), WithPublisher(f.publisher))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	result, err := service.GenerateInvoices(ctx, march)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Candidates != 2 || result.Stored != 1 || len(result.Payments) != 1 || result.Payments[0].StudentID != "stu-2" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.publisher.events))
	}
	ids := f.publisher.events[0].PaymentIDs
	if len(ids) != 1 || ids[0] != billing.InvoiceID("stu-2", march) {
		t.Fatalf("event names unstored invoices: %v", ids)
	}
}

// steppingClock returns each instant once, then repeats the last.
type steppingClock struct {
	times []time.Time
}

func (c *steppingClock) Now() time.Time {
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

func TestPaymentMutationReadsTodayOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 10})
	id := billing.InvoiceID("stu-1", billing.Cycle{Year: 2024, Month: time.March})
	if _, err := f.payments.InsertPayments(ctx, "school-a", []billing.Payment{{
		ID: id, StudentID: "stu-1", DueDate: billing.MustParseDate("2024-03-10"),
		BaseAmount: decimal.NewFromInt(200), Status: billing.PaymentStatusPending,
	}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The request starts a second before midnight on the due date.
	WithClock(&steppingClock{times: []time.Time{
		time.Date(2024, time.March, 10, 23, 59, 59, 0, time.UTC),
		time.Date(2024, time.March, 11, 0, 0, 1, 0, time.UTC),
	}})(f.service)

	resolved, err := f.service.SetInterestWaived(ctx, id, true)
	if err != nil {
		t.Fatalf("waive: %v", err)
	}
	if resolved.Status != billing.PaymentStatusPending || resolved.ResolvedStatus != billing.PaymentStatusPending {
		t.Fatalf("stored and resolved status disagree: %s / %s", resolved.Status, resolved.ResolvedStatus)
	}
	if resolved.DueState != billing.DueStateDueToday || resolved.ReferenceDate.String() != "2024-03-10" {
		t.Fatalf("valuated against a different day: %+v", resolved)
	}
}

func TestScholarshipIsNeverStoredOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, march15())
	f.addStudent(t, billing.Student{ID: "stu-1", PaymentDueDay: 5, PolicyID: "full"})
	f.addStudent(t, billing.Student{ID: "stu-2", PaymentDueDay: 5})
	result, err := f.service.GenerateInvoices(ctx, billing.Cycle{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	updated, err := f.service.RefreshOverdue(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected only the regular student refreshed, got %d", updated)
	}
	for _, p := range result.Payments {
		stored, err := f.payments.GetPayment(ctx, "school-a", p.ID)
		if err != nil || stored == nil {
			t.Fatalf("get payment: %v", err)
		}
		want := billing.PaymentStatusOverdue
		if p.StudentID == "stu-1" {
			want = billing.PaymentStatusPending
		}
		if stored.Status != want {
			t.Fatalf("%s stored as %s, want %s", p.StudentID, stored.Status, want)
		}
	}

	scholarshipID := billing.InvoiceID("stu-1", billing.Cycle{Year: 2024, Month: time.March})
	waived, err := f.service.SetInterestWaived(ctx, scholarshipID, false)
	if err != nil {
		t.Fatalf("waive: %v", err)
	}
	if waived.Status != billing.PaymentStatusPending || waived.ResolvedStatus != billing.PaymentStatusPending {
		t.Fatalf("scholarship mutation stored overdue: %+v", waived)
	}
}
