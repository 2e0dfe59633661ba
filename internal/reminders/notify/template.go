package notify

import (
	"bytes"
	"errors"
	"strings"
	"text/template"

	reminders "school-billing/internal/reminders/domain"
)

const DefaultTemplate = `Hello! This is a reminder from the school about {{.Student}}'s monthly fee.
{{- if eq .Kind "overdue"}}
The payment due on {{.DueDate}} is {{.OverdueDays}} day(s) late. Amount with interest: {{.Amount}} (interest {{.Interest}}).
{{- else if eq .Kind "due_today"}}
The payment of {{.Amount}} is due today ({{.DueDate}}).
{{- else}}
The payment of {{.Amount}} is due on {{.DueDate}}, in {{.DaysUntilDue}} day(s).
{{- end}}
If you have already paid, please disregard this message.`

// TemplateData provides fields for rendering reminder content.
type TemplateData struct {
	Student      string
	StudentID    string
	PaymentID    string
	Kind         string
	DueDate      string
	BaseAmount   string
	Interest     string
	Amount       string
	OverdueDays  int
	DaysUntilDue int
}

// DataFor maps a reminder onto template fields.
func DataFor(r reminders.Reminder) TemplateData {
	name := r.StudentName
	if name == "" {
		name = r.StudentID
	}
	return TemplateData{
		Student:      name,
		StudentID:    r.StudentID,
		PaymentID:    r.PaymentID,
		Kind:         string(r.Kind),
		DueDate:      r.DueDate.String(),
		BaseAmount:   r.BaseAmount.StringFixed(2),
		Interest:     r.Interest.StringFixed(2),
		Amount:       r.Amount.StringFixed(2),
		OverdueDays:  r.OverdueDays,
		DaysUntilDue: r.DaysUntilDue,
	}
}

// Template renders reminder content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a reminder template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("payment-reminder").Option("missingkey=error").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to a reminder.
func (t *Template) Render(r reminders.Reminder) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("reminder template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, DataFor(r)); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
