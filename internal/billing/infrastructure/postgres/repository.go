package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	billing "school-billing/internal/billing/domain"
)

const uniqueViolation = "23505"

// StudentRepository is a Postgres implementation for students.
type StudentRepository struct {
	db *sql.DB
}

// NewStudentRepository constructs a repository.
func NewStudentRepository(db *sql.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, name, guardian_phone, monthly_fee, payment_due_day, enrollment_date, status, policy_id`

// ListStudents loads the roster of a school.
func (r *StudentRepository) ListStudents(ctx context.Context, schoolID string) ([]billing.Student, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("student repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+studentColumns+`
FROM students
WHERE school_id = $1
ORDER BY id`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Student
	for rows.Next() {
		student, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, student)
	}
	return out, rows.Err()
}

// GetStudent loads a student, returning nil when absent.
func (r *StudentRepository) GetStudent(ctx context.Context, schoolID, id string) (*billing.Student, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("student repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+studentColumns+`
FROM students
WHERE school_id = $1 AND id = $2`, schoolID, id)
	student, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &student, nil
}

// SaveStudent upserts a student.
func (r *StudentRepository) SaveStudent(ctx context.Context, schoolID string, student billing.Student) error {
	if r == nil || r.db == nil {
		return errors.New("student repo: nil db")
	}
	if err := student.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO students (
	school_id, id, name, guardian_phone, monthly_fee, payment_due_day, enrollment_date, status, policy_id, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),NOW())
ON CONFLICT (school_id, id) DO UPDATE SET
	name = EXCLUDED.name,
	guardian_phone = EXCLUDED.guardian_phone,
	monthly_fee = EXCLUDED.monthly_fee,
	payment_due_day = EXCLUDED.payment_due_day,
	enrollment_date = EXCLUDED.enrollment_date,
	status = EXCLUDED.status,
	policy_id = EXCLUDED.policy_id,
	updated_at = NOW()`,
		schoolID, student.ID, student.Name, student.GuardianPhone, student.MonthlyFee,
		student.PaymentDueDay, student.EnrollmentDate, string(student.Status), student.PolicyID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (billing.Student, error) {
	var (
		student  billing.Student
		status   string
		policyID sql.NullString
	)
	if err := row.Scan(
		&student.ID,
		&student.Name,
		&student.GuardianPhone,
		&student.MonthlyFee,
		&student.PaymentDueDay,
		&student.EnrollmentDate,
		&status,
		&policyID,
	); err != nil {
		return billing.Student{}, err
	}
	student.Status = billing.StudentStatus(status)
	student.PolicyID = policyID.String
	return student, nil
}

// PaymentRepository is a Postgres implementation for payments.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository constructs a repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, student_id, due_date, base_amount, status, paid_at, interest_waived`

// ListPayments loads payments of a school, optionally for one student.
func (r *PaymentRepository) ListPayments(ctx context.Context, schoolID, studentID string) ([]billing.Payment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payment repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE school_id = $1 AND ($2 = '' OR student_id = $2)
ORDER BY due_date, id`, schoolID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPayment loads a payment, returning nil when absent.
func (r *PaymentRepository) GetPayment(ctx context.Context, schoolID, id string) (*billing.Payment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payment repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE school_id = $1 AND id = $2`, schoolID, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// InsertPayments stores new payments in one transaction. Rows colliding with
// an existing id or with the per-student month index are skipped.
func (r *PaymentRepository) InsertPayments(ctx context.Context, schoolID string, payments []billing.Payment) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payment repo: nil db")
	}
	if len(payments) == 0 {
		return nil, nil
	}
	for _, p := range payments {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO payments (
	school_id, id, student_id, due_date, due_month, base_amount, status, paid_at, interest_waived, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
ON CONFLICT DO NOTHING`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	stored := make([]string, 0, len(payments))
	for _, p := range payments {
		res, err := stmt.ExecContext(ctx, schoolID, p.ID, p.StudentID, p.DueDate, dueMonth(p.DueDate),
			p.BaseAmount, string(p.Status), paidAtValue(p.PaidAt), p.InterestWaived)
		if err != nil {
			return nil, fmt.Errorf("insert payment %s: %w", p.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected > 0 {
			stored = append(stored, p.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// UpdatePayment rewrites the mutable fields of a payment.
func (r *PaymentRepository) UpdatePayment(ctx context.Context, schoolID string, payment billing.Payment) error {
	if r == nil || r.db == nil {
		return errors.New("payment repo: nil db")
	}
	if err := payment.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE payments SET
	due_date = $3,
	due_month = $4,
	base_amount = $5,
	status = $6,
	paid_at = $7,
	interest_waived = $8,
	updated_at = NOW()
WHERE school_id = $1 AND id = $2`,
		schoolID, payment.ID, payment.DueDate, dueMonth(payment.DueDate), payment.BaseAmount,
		string(payment.Status), paidAtValue(payment.PaidAt), payment.InterestWaived)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return billing.ErrDuplicateInvoice
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

func scanPayment(row rowScanner) (billing.Payment, error) {
	var (
		p      billing.Payment
		status string
		paidAt billing.Date
	)
	if err := row.Scan(
		&p.ID,
		&p.StudentID,
		&p.DueDate,
		&p.BaseAmount,
		&status,
		&paidAt,
		&p.InterestWaived,
	); err != nil {
		return billing.Payment{}, err
	}
	parsed, err := billing.ParsePaymentStatus(status)
	if err != nil {
		return billing.Payment{}, fmt.Errorf("payment %s: %w", p.ID, err)
	}
	p.Status = parsed
	if !paidAt.IsZero() {
		p.PaidAt = &paidAt
	}
	return p, nil
}

func dueMonth(due billing.Date) billing.Date {
	return billing.NewDate(due.Year(), due.Month(), 1)
}

func paidAtValue(paidAt *billing.Date) any {
	if paidAt == nil || paidAt.IsZero() {
		return nil
	}
	return *paidAt
}

// PolicyRepository is a Postgres implementation for pricing policies.
type PolicyRepository struct {
	db *sql.DB
}

// NewPolicyRepository constructs a repository.
func NewPolicyRepository(db *sql.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// ListPolicies loads the policy table of a school.
func (r *PolicyRepository) ListPolicies(ctx context.Context, schoolID string) ([]billing.PricingPolicy, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("policy repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, fee_on_time, fee_late, is_scholarship
FROM pricing_policies
WHERE school_id = $1
ORDER BY id`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.PricingPolicy
	for rows.Next() {
		var policy billing.PricingPolicy
		if err := rows.Scan(&policy.ID, &policy.FeeOnTime, &policy.FeeLate, &policy.IsScholarship); err != nil {
			return nil, err
		}
		out = append(out, policy)
	}
	return out, rows.Err()
}

// SavePolicies upserts policies, typically seeded from config at startup.
func (r *PolicyRepository) SavePolicies(ctx context.Context, schoolID string, policies []billing.PricingPolicy) error {
	if r == nil || r.db == nil {
		return errors.New("policy repo: nil db")
	}
	for _, policy := range policies {
		if err := policy.Validate(); err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, `
INSERT INTO pricing_policies (school_id, id, fee_on_time, fee_late, is_scholarship, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (school_id, id) DO UPDATE SET
	fee_on_time = EXCLUDED.fee_on_time,
	fee_late = EXCLUDED.fee_late,
	is_scholarship = EXCLUDED.is_scholarship,
	updated_at = NOW()`,
			schoolID, policy.ID, policy.FeeOnTime, policy.FeeLate, policy.IsScholarship); err != nil {
			return fmt.Errorf("save policy %s: %w", policy.ID, err)
		}
	}
	return nil
}
