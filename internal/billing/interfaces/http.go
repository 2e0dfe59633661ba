package interfaces

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"school-billing/internal/audit"
	"school-billing/internal/auth"
	billingapp "school-billing/internal/billing/application"
	billing "school-billing/internal/billing/domain"
	"school-billing/internal/observability/metrics"
)

// Handler serves payment, student and export routes.
type Handler struct {
	service     *billingapp.Service
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *billingapp.Service, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("billing handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the handler on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/payments", h)
	mux.Handle("/api/v1/payments/", h)
	mux.Handle("/api/v1/students", h)
	mux.Handle("/api/v1/students/", h)
	mux.Handle("/api/v1/exports/", h)
}

// ServeHTTP dispatches billing routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/payments" && r.Method == http.MethodGet:
		h.handleList(w, r)
		return
	case path == "/api/v1/payments/summary" && r.Method == http.MethodGet:
		h.handleSummary(w, r)
		return
	case path == "/api/v1/payments/generate" && r.Method == http.MethodPost:
		h.handleGenerate(w, r)
		return
	case path == "/api/v1/students" && r.Method == http.MethodPost:
		h.handleEnroll(w, r)
		return
	case path == "/api/v1/exports/receivables.xlsx" && r.Method == http.MethodGet:
		h.handleReceivablesExport(w, r)
		return
	case strings.HasPrefix(path, "/api/v1/payments/"):
		h.handlePaymentAction(w, r, strings.TrimPrefix(path, "/api/v1/payments/"))
		return
	case strings.HasPrefix(path, "/api/v1/students/"):
		h.handleStudent(w, r, strings.TrimPrefix(path, "/api/v1/students/"))
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := billing.PaymentFilter{StudentID: r.URL.Query().Get("student_id")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := billing.ParsePaymentStatus(raw)
		if err != nil {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	list, err := h.service.ListResolved(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []billing.ResolvedPayment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year  int    `json:"year"`
		Month int    `json:"month"`
		Cycle string `json:"cycle"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	cycle := billing.Cycle{Year: req.Year, Month: time.Month(req.Month)}
	if req.Cycle != "" {
		parsed, err := billing.ParseCycle(req.Cycle)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cycle = parsed
	}
	result, err := h.service.GenerateInvoices(r.Context(), cycle)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
	h.logAudit(r, "invoices.generate", "cycle", result.Cycle.String(), "", map[string]any{
		"candidates": result.Candidates,
		"stored":     result.Stored,
	})
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             string          `json:"id"`
		Name           string          `json:"name"`
		GuardianPhone  string          `json:"guardian_phone"`
		MonthlyFee     decimal.Decimal `json:"monthly_fee"`
		PaymentDueDay  int             `json:"payment_due_day"`
		EnrollmentDate billing.Date    `json:"enrollment_date"`
		PolicyID       string          `json:"policy_id"`
		FirstDueDate   billing.Date    `json:"first_due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	student, created, err := h.service.EnrollStudent(r.Context(), billing.Student{
		ID:             req.ID,
		Name:           req.Name,
		GuardianPhone:  req.GuardianPhone,
		MonthlyFee:     req.MonthlyFee,
		PaymentDueDay:  req.PaymentDueDay,
		EnrollmentDate: req.EnrollmentDate,
		Status:         billing.StudentStatusActive,
		PolicyID:       req.PolicyID,
	}, req.FirstDueDate)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if created == nil {
		created = []billing.Payment{}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"student":  student,
		"payments": created,
	})
	h.logAudit(r, "student.enroll", "student", student.ID, student.ID, map[string]any{
		"invoices": len(created),
	})
}

func (h *Handler) handlePaymentAction(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	var (
		resolved *billing.ResolvedPayment
		err      error
		meta     map[string]any
	)
	switch parts[1] {
	case "pay":
		var req struct {
			PaidAt billing.Date `json:"paid_at"`
		}
		if !decodeOptional(w, r, &req) {
			return
		}
		resolved, err = h.service.MarkPaid(r.Context(), id, req.PaidAt)
		meta = map[string]any{"paid_at": req.PaidAt.String()}
	case "reopen":
		resolved, err = h.service.Reopen(r.Context(), id)
	case "reschedule":
		var req struct {
			DueDate billing.Date `json:"due_date"`
		}
		if !decodeOptional(w, r, &req) {
			return
		}
		resolved, err = h.service.Reschedule(r.Context(), id, req.DueDate)
		meta = map[string]any{"due_date": req.DueDate.String()}
	case "waive":
		req := struct {
			Waived *bool `json:"waived"`
		}{}
		if !decodeOptional(w, r, &req) {
			return
		}
		waived := true
		if req.Waived != nil {
			waived = *req.Waived
		}
		resolved, err = h.service.SetInterestWaived(r.Context(), id, waived)
		meta = map[string]any{"waived": waived}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
	h.logAudit(r, "payment."+parts[1], "payment", resolved.ID, resolved.StudentID, meta)
}

func (h *Handler) handleStudent(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	switch parts[1] {
	case "statement":
		stmt, err := h.service.StudentStatement(r.Context(), id)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stmt)
	case "statement.pdf":
		h.handleStatementExport(w, r, id, "pdf")
	case "statement.xlsx":
		h.handleStatementExport(w, r, id, "xlsx")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStatementExport(w http.ResponseWriter, r *http.Request, studentID, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	stmt, err := h.service.StudentStatement(r.Context(), studentID)
	if err != nil {
		result = metrics.ResultError
		h.respondServiceError(w, err)
		return
	}
	var data []byte
	contentType := "application/pdf"
	if format == "pdf" {
		data, err = BuildStatementPDF(stmt)
	} else {
		data, err = BuildStatementXLSX(stmt)
		contentType = xlsxContentType
	}
	if err != nil {
		result = metrics.ResultError
		h.logger.Printf("billing: statement export failed: student=%s format=%s err=%v", studentID, format, err)
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "statement.export", "student", studentID, studentID, map[string]any{"format": format})
}

func (h *Handler) handleReceivablesExport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("receivables_xlsx", result, time.Since(start))
	}()

	receivables, today, err := h.service.Receivables(r.Context())
	if err != nil {
		result = metrics.ResultError
		h.respondServiceError(w, err)
		return
	}
	data, err := BuildReceivablesXLSX(receivables, today)
	if err != nil {
		result = metrics.ResultError
		h.logger.Printf("billing: receivables export failed: %v", err)
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "receivables.export", "school", "", "", map[string]any{"reference_date": today.String()})
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID, studentID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok || caller.SchoolID == "" {
		return
	}
	var payload []byte
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		SchoolID:     caller.SchoolID,
		Actor:        caller.Actor(),
		Role:         string(caller.Role),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		StudentID:    studentID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Printf("billing: audit log failed: action=%s err=%v", action, err)
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, billing.ErrPaymentNotFound), errors.Is(err, billing.ErrStudentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, billing.ErrAlreadyPaid), errors.Is(err, billing.ErrNotPaid), errors.Is(err, billing.ErrDuplicateInvoice):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, billing.ErrInvalidDate),
		errors.Is(err, billing.ErrInvalidCycle),
		errors.Is(err, billing.ErrInvalidStatus),
		errors.Is(err, billing.ErrEmptyStudentID),
		errors.Is(err, billing.ErrNegativeAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Printf("billing: request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
