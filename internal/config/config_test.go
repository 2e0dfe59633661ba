package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	billing "school-billing/internal/billing/domain"
)

const sampleYAML = `
school_id: escola-centro
daily_interest_rate: "0.0033"
timezone: UTC
generator:
  default_due_day: 5
  default_fee: "180.50"
reminders:
  daily_at: "08:30"
  remind_days_before: 2
  webhook_url: http://gateway.local/send
  generate_invoices: false
policies:
  - id: sibling
    fee_on_time: 150
    fee_late: "170.00"
  - id: full
    is_scholarship: true
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.SchoolID != "escola-centro" {
		t.Fatalf("school id = %q", cfg.SchoolID)
	}
	if cfg.Rate().String() != "0.0033" {
		t.Fatalf("rate = %s", cfg.Rate())
	}
	if cfg.Location().String() != "UTC" {
		t.Fatalf("location = %s", cfg.Location())
	}
	opts := cfg.GeneratorOptions()
	if opts.DefaultDueDay != 5 || opts.DefaultFee.String() != "180.5" {
		t.Fatalf("generator options = %+v", opts)
	}
	if cfg.Reminders.DailyAt != "08:30" || cfg.Reminders.RemindDaysBefore != 2 || cfg.Reminders.GenerateOnRun() {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}

	book := billing.NewPolicyBook(cfg.Policies)
	sibling := book.For(billing.Student{ID: "stu-1", PolicyID: "sibling"})
	if sibling == nil || sibling.FeeOnTime.String() != "150" || sibling.FeeLate.String() != "170" {
		t.Fatalf("sibling policy = %+v", sibling)
	}
	if full := book.For(billing.Student{ID: "stu-2", PolicyID: "full"}); full == nil || !full.IsScholarship {
		t.Fatalf("scholarship policy = %+v", full)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("timezone: UTC\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.SchoolID != defaultSchoolID || cfg.Rate().String() != defaultInterestRate {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Generator.DefaultDueDay != billing.DefaultDueDay {
		t.Fatalf("default due day = %d", cfg.Generator.DefaultDueDay)
	}
	if cfg.Reminders.DailyAt != defaultDailyAt || cfg.Reminders.RemindDaysBefore != defaultRemindBefore {
		t.Fatalf("reminder defaults = %+v", cfg.Reminders)
	}
	if !cfg.Reminders.GenerateOnRun() {
		t.Fatalf("generation should default on")
	}
	if !cfg.GeneratorOptions().DefaultFee.IsZero() {
		t.Fatalf("unset default fee should stay zero so the domain default applies")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative rate":   "timezone: UTC\ndaily_interest_rate: \"-0.1\"\n",
		"bad rate":        "timezone: UTC\ndaily_interest_rate: abc\n",
		"bad due day":     "timezone: UTC\ngenerator:\n  default_due_day: 40\n",
		"bad daily at":    "timezone: UTC\nreminders:\n  daily_at: \"25:99\"\n",
		"bad timezone":    "timezone: Mars/Olympus\n",
		"dup policy":      "timezone: UTC\npolicies:\n  - id: a\n  - id: a\n",
		"missing id":      "timezone: UTC\npolicies:\n  - fee_on_time: 10\n",
		"negative fee":    "timezone: UTC\npolicies:\n  - id: a\n    fee_late: -1\n",
		"bad default fee": "timezone: UTC\ngenerator:\n  default_fee: ten\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Parse([]byte("timezone: UTC\ndaily_interest_rate: \"-0.1\"\n")); !errors.Is(err, billing.ErrNegativeRate) {
		t.Fatalf("expected ErrNegativeRate, got %v", err)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.yaml")
	if err := os.WriteFile(path, []byte("timezone: UTC\nschool_id: from-file\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BILLING_CONFIG", path)
	t.Setenv("BILLING_SCHOOL_ID", "from-env")
	t.Setenv("BILLING_DAILY_INTEREST_RATE", "0.01")
	t.Setenv("REMINDER_DAYS_BEFORE", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SchoolID != "from-file" {
		t.Fatalf("file value should win, got %q", cfg.SchoolID)
	}
	if cfg.Rate().String() != "0.01" {
		t.Fatalf("env rate not applied: %s", cfg.Rate())
	}
	if cfg.Reminders.RemindDaysBefore != 7 {
		t.Fatalf("env remind days = %d", cfg.Reminders.RemindDaysBefore)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("BILLING_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
