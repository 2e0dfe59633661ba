package memory

import (
	"context"
	"sort"
	"sync"

	billing "school-billing/internal/billing/domain"
)

type scopedKey struct {
	schoolID string
	id       string
}

type monthKey struct {
	schoolID  string
	studentID string
	cycle     billing.Cycle
}

// StudentRepository is an in-memory student store.
type StudentRepository struct {
	mu   sync.RWMutex
	data map[scopedKey]billing.Student
}

// NewStudentRepository constructs a repository.
func NewStudentRepository() *StudentRepository {
	return &StudentRepository{data: make(map[scopedKey]billing.Student)}
}

// ListStudents returns students of a school ordered by id.
func (r *StudentRepository) ListStudents(ctx context.Context, schoolID string) ([]billing.Student, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []billing.Student
	for key, student := range r.data {
		if key.schoolID == schoolID {
			out = append(out, student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetStudent loads a student, returning nil when absent.
func (r *StudentRepository) GetStudent(ctx context.Context, schoolID, id string) (*billing.Student, error) {
	_ = ctx
	r.mu.RLock()
	student, ok := r.data[scopedKey{schoolID: schoolID, id: id}]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &student, nil
}

// SaveStudent upserts a student.
func (r *StudentRepository) SaveStudent(ctx context.Context, schoolID string, student billing.Student) error {
	_ = ctx
	if student.ID == "" {
		return billing.ErrEmptyStudentID
	}
	r.mu.Lock()
	r.data[scopedKey{schoolID: schoolID, id: student.ID}] = student
	r.mu.Unlock()
	return nil
}

// PaymentRepository is an in-memory payment store that enforces one
// invoice per student per month, like the SQL unique index.
type PaymentRepository struct {
	mu     sync.RWMutex
	data   map[scopedKey]billing.Payment
	months map[monthKey]string
}

// NewPaymentRepository constructs a repository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		data:   make(map[scopedKey]billing.Payment),
		months: make(map[monthKey]string),
	}
}

// ListPayments returns payments of a school, optionally for one student.
func (r *PaymentRepository) ListPayments(ctx context.Context, schoolID, studentID string) ([]billing.Payment, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []billing.Payment
	for key, p := range r.data {
		if key.schoolID != schoolID {
			continue
		}
		if studentID != "" && p.StudentID != studentID {
			continue
		}
		out = append(out, clonePayment(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetPayment loads a payment, returning nil when absent.
func (r *PaymentRepository) GetPayment(ctx context.Context, schoolID, id string) (*billing.Payment, error) {
	_ = ctx
	r.mu.RLock()
	p, ok := r.data[scopedKey{schoolID: schoolID, id: id}]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	p = clonePayment(p)
	return &p, nil
}

// InsertPayments stores new payments, skipping id or month collisions.
func (r *PaymentRepository) InsertPayments(ctx context.Context, schoolID string, payments []billing.Payment) ([]string, error) {
	_ = ctx
	for _, p := range payments {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]string, 0, len(payments))
	for _, p := range payments {
		key := scopedKey{schoolID: schoolID, id: p.ID}
		if _, exists := r.data[key]; exists {
			continue
		}
		month := monthKey{schoolID: schoolID, studentID: p.StudentID, cycle: billing.CycleOf(p.DueDate)}
		if _, exists := r.months[month]; exists {
			continue
		}
		r.data[key] = clonePayment(p)
		r.months[month] = p.ID
		stored = append(stored, p.ID)
	}
	return stored, nil
}

// UpdatePayment replaces a stored payment.
func (r *PaymentRepository) UpdatePayment(ctx context.Context, schoolID string, payment billing.Payment) error {
	_ = ctx
	if err := payment.Validate(); err != nil {
		return err
	}
	key := scopedKey{schoolID: schoolID, id: payment.ID}
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, ok := r.data[key]
	if !ok {
		return billing.ErrPaymentNotFound
	}
	newMonth := monthKey{schoolID: schoolID, studentID: payment.StudentID, cycle: billing.CycleOf(payment.DueDate)}
	if owner, taken := r.months[newMonth]; taken && owner != payment.ID {
		return billing.ErrDuplicateInvoice
	}
	oldMonth := monthKey{schoolID: schoolID, studentID: previous.StudentID, cycle: billing.CycleOf(previous.DueDate)}
	if r.months[oldMonth] == previous.ID {
		delete(r.months, oldMonth)
	}
	r.months[newMonth] = payment.ID
	r.data[key] = clonePayment(payment)
	return nil
}

func clonePayment(p billing.Payment) billing.Payment {
	if p.PaidAt != nil {
		paidAt := *p.PaidAt
		p.PaidAt = &paidAt
	}
	return p
}

// PolicyRepository serves a fixed policy table, typically loaded from config.
type PolicyRepository struct {
	mu       sync.RWMutex
	policies []billing.PricingPolicy
}

// NewPolicyRepository constructs a repository over the given policies.
func NewPolicyRepository(policies []billing.PricingPolicy) *PolicyRepository {
	copied := make([]billing.PricingPolicy, len(policies))
	copy(copied, policies)
	return &PolicyRepository{policies: copied}
}

// ListPolicies returns the table regardless of school.
func (r *PolicyRepository) ListPolicies(ctx context.Context, schoolID string) ([]billing.PricingPolicy, error) {
	_ = ctx
	_ = schoolID
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]billing.PricingPolicy, len(r.policies))
	copy(out, r.policies)
	return out, nil
}

// SavePolicy upserts a policy.
func (r *PolicyRepository) SavePolicy(policy billing.PricingPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.policies {
		if r.policies[i].ID == policy.ID {
			r.policies[i] = policy
			return
		}
	}
	r.policies = append(r.policies, policy)
}
