package billing

import "context"

// StudentRepository loads and stores students of a school.
type StudentRepository interface {
	ListStudents(ctx context.Context, schoolID string) ([]Student, error)
	GetStudent(ctx context.Context, schoolID, id string) (*Student, error)
	SaveStudent(ctx context.Context, schoolID string, student Student) error
}

// PaymentRepository loads and stores payments of a school.
type PaymentRepository interface {
	ListPayments(ctx context.Context, schoolID, studentID string) ([]Payment, error)
	GetPayment(ctx context.Context, schoolID, id string) (*Payment, error)
	// InsertPayments stores new payments and skips any that collide with an
	// existing invoice for the same student and month. It returns the ids stored.
	InsertPayments(ctx context.Context, schoolID string, payments []Payment) ([]string, error)
	UpdatePayment(ctx context.Context, schoolID string, payment Payment) error
}

// PolicyRepository loads the pricing policies of a school.
type PolicyRepository interface {
	ListPolicies(ctx context.Context, schoolID string) ([]PricingPolicy, error)
}
