package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"

	billingapp "school-billing/internal/billing/application"
	billing "school-billing/internal/billing/domain"
	"school-billing/internal/observability/metrics"
	reminders "school-billing/internal/reminders/domain"
)

// Billing is the slice of the billing service the reminder run depends on.
type Billing interface {
	GenerateInvoices(ctx context.Context, cycle billing.Cycle) (*billingapp.GenerationResult, error)
	RefreshOverdue(ctx context.Context) (int, error)
	Receivables(ctx context.Context) ([]billingapp.Receivable, billing.Date, error)
}

// Renderer turns a reminder into message text.
type Renderer interface {
	Render(reminder reminders.Reminder) (string, error)
}

// Sender delivers message text to a recipient.
type Sender interface {
	Send(ctx context.Context, recipient, content string) error
}

// RunResult reports what one reminder run did.
type RunResult struct {
	Day       billing.Date
	Generated int
	Refreshed int
	Selected  int
	Sent      int
	Skipped   int
	Failed    int
}

// Runner performs one reminder pass for a school.
type Runner struct {
	billing    Billing
	sent       reminders.SentLog
	renderer   Renderer
	sender     Sender
	schoolID   string
	daysBefore int
	generate   bool
	logger     *log.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithDaysBefore sets how many days ahead of the due date upcoming reminders start.
func WithDaysBefore(days int) RunnerOption {
	return func(r *Runner) {
		r.daysBefore = days
	}
}

// WithInvoiceGeneration toggles the invoice top-up at the start of each run.
func WithInvoiceGeneration(enabled bool) RunnerOption {
	return func(r *Runner) {
		r.generate = enabled
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *log.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(billingSvc Billing, sent reminders.SentLog, renderer Renderer, sender Sender, schoolID string, opts ...RunnerOption) (*Runner, error) {
	if billingSvc == nil {
		return nil, errors.New("reminder runner: nil billing service")
	}
	if sent == nil {
		return nil, errors.New("reminder runner: nil sent log")
	}
	if renderer == nil {
		return nil, errors.New("reminder runner: nil renderer")
	}
	if sender == nil {
		return nil, errors.New("reminder runner: nil sender")
	}
	runner := &Runner{
		billing:  billingSvc,
		sent:     sent,
		renderer: renderer,
		sender:   sender,
		schoolID: schoolID,
		generate: true,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// Run tops up the current cycle, syncs stored statuses and sends the day's reminders.
func (r *Runner) Run(ctx context.Context) (result *RunResult, err error) {
	defer func() {
		if err != nil {
			metrics.IncReminderRun(metrics.ResultError)
			return
		}
		metrics.IncReminderRun(metrics.ResultSuccess)
	}()

	result = &RunResult{}
	if r.generate {
		generated, err := r.billing.GenerateInvoices(ctx, billing.Cycle{})
		if err != nil {
			return nil, fmt.Errorf("reminder run: generate invoices: %w", err)
		}
		result.Generated = generated.Stored
	}
	refreshed, err := r.billing.RefreshOverdue(ctx)
	if err != nil {
		return nil, fmt.Errorf("reminder run: refresh statuses: %w", err)
	}
	result.Refreshed = refreshed

	receivables, today, err := r.billing.Receivables(ctx)
	if err != nil {
		return nil, fmt.Errorf("reminder run: receivables: %w", err)
	}
	result.Day = today

	selected := Select(r.schoolID, receivables, r.daysBefore)
	result.Selected = len(selected)
	for _, reminder := range selected {
		switch r.dispatch(ctx, reminder) {
		case metrics.ResultSuccess:
			result.Sent++
		case metrics.ResultSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}
	r.logger.Printf("reminder run: school=%s day=%s generated=%d refreshed=%d selected=%d sent=%d skipped=%d failed=%d",
		r.schoolID, today, result.Generated, result.Refreshed, result.Selected, result.Sent, result.Skipped, result.Failed)
	return result, nil
}

func (r *Runner) dispatch(ctx context.Context, reminder reminders.Reminder) string {
	outcome := r.deliver(ctx, reminder)
	metrics.IncReminder(string(reminder.Kind), outcome)
	return outcome
}

func (r *Runner) deliver(ctx context.Context, reminder reminders.Reminder) string {
	if reminder.Recipient == "" {
		r.logger.Printf("reminder skipped: payment=%s student=%s err=%v", reminder.PaymentID, reminder.StudentID, reminders.ErrNoRecipient)
		return metrics.ResultSkipped
	}
	sent, err := r.sent.WasSent(ctx, reminder.SchoolID, reminder.PaymentID, reminder.Kind, reminder.SentOn)
	if err != nil {
		r.logger.Printf("reminder log lookup failed: payment=%s err=%v", reminder.PaymentID, err)
		return metrics.ResultError
	}
	if sent {
		return metrics.ResultSkipped
	}
	content, err := r.renderer.Render(reminder)
	if err != nil {
		r.logger.Printf("reminder render failed: payment=%s err=%v", reminder.PaymentID, err)
		return metrics.ResultError
	}
	if err := r.sender.Send(ctx, reminder.Recipient, content); err != nil {
		r.logger.Printf("reminder send failed: payment=%s kind=%s err=%v", reminder.PaymentID, reminder.Kind, err)
		return metrics.ResultError
	}
	if err := r.sent.Record(ctx, reminder); err != nil {
		// Delivered but not recorded: the next run on the same day may resend.
		r.logger.Printf("reminder record failed: payment=%s err=%v", reminder.PaymentID, err)
	}
	return metrics.ResultSuccess
}

// Select picks the receivables that need a reminder today, ordered by student then due date.
func Select(schoolID string, receivables []billingapp.Receivable, daysBefore int) []reminders.Reminder {
	out := make([]reminders.Reminder, 0)
	for _, rec := range receivables {
		kind, ok := reminders.KindFor(rec.Payment, daysBefore)
		if !ok {
			continue
		}
		out = append(out, reminders.New(schoolID, rec.Student, rec.Payment, kind))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}
