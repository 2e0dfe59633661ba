package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	billing "school-billing/internal/billing/domain"
)

const (
	defaultSchoolID     = "default"
	defaultInterestRate = "0.004"
	defaultTimezone     = "America/Sao_Paulo"
	defaultDailyAt      = "09:00"
	defaultRemindBefore = 3
)

// Config holds billing engine configuration shared by the API and the reminder daemon.
type Config struct {
	SchoolID          string                  `yaml:"school_id"`
	DailyInterestRate string                  `yaml:"daily_interest_rate"`
	Timezone          string                  `yaml:"timezone"`
	Generator         GeneratorConfig         `yaml:"generator"`
	Reminders         ReminderConfig          `yaml:"reminders"`
	Policies          []billing.PricingPolicy `yaml:"policies"`

	rate     decimal.Decimal
	location *time.Location
}

// GeneratorConfig holds recurring invoice defaults.
type GeneratorConfig struct {
	DefaultDueDay int    `yaml:"default_due_day"`
	DefaultFee    string `yaml:"default_fee"`
}

// ReminderConfig defines the reminder daemon schedule and channel.
type ReminderConfig struct {
	DailyAt          string `yaml:"daily_at"`
	RemindDaysBefore int    `yaml:"remind_days_before"`
	WebhookURL       string `yaml:"webhook_url"`
	WebhookToken     string `yaml:"webhook_token"`
	Template         string `yaml:"template"`
	GenerateInvoices *bool  `yaml:"generate_invoices"`
}

// Load reads BILLING_CONFIG when set and applies env fallbacks.
func Load() (Config, error) {
	cfg := Config{}
	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg.withEnv().normalize()
}

// Parse decodes a YAML document without consulting the environment.
func Parse(data []byte) (Config, error) {
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse: %w", err)
	}
	return cfg.normalize()
}

func (c Config) withEnv() Config {
	if c.SchoolID == "" {
		c.SchoolID = os.Getenv("BILLING_SCHOOL_ID")
	}
	if c.DailyInterestRate == "" {
		c.DailyInterestRate = os.Getenv("BILLING_DAILY_INTEREST_RATE")
	}
	if c.Timezone == "" {
		c.Timezone = os.Getenv("BILLING_TIMEZONE")
	}
	if c.Generator.DefaultDueDay == 0 {
		c.Generator.DefaultDueDay = getenvIntDefault("BILLING_DEFAULT_DUE_DAY", 0)
	}
	if c.Generator.DefaultFee == "" {
		c.Generator.DefaultFee = os.Getenv("BILLING_DEFAULT_FEE")
	}
	if c.Reminders.DailyAt == "" {
		c.Reminders.DailyAt = os.Getenv("REMINDER_DAILY_AT")
	}
	if c.Reminders.RemindDaysBefore == 0 {
		c.Reminders.RemindDaysBefore = getenvIntDefault("REMINDER_DAYS_BEFORE", 0)
	}
	if c.Reminders.WebhookURL == "" {
		c.Reminders.WebhookURL = os.Getenv("REMINDER_WEBHOOK_URL")
	}
	if c.Reminders.WebhookToken == "" {
		c.Reminders.WebhookToken = os.Getenv("REMINDER_WEBHOOK_TOKEN")
	}
	return c
}

func (c Config) normalize() (Config, error) {
	if c.SchoolID == "" {
		c.SchoolID = defaultSchoolID
	}
	if c.DailyInterestRate == "" {
		c.DailyInterestRate = defaultInterestRate
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DailyInterestRate))
	if err != nil {
		return c, fmt.Errorf("config: daily_interest_rate: %w", err)
	}
	if rate.IsNegative() {
		return c, billing.ErrNegativeRate
	}
	c.rate = rate

	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return c, fmt.Errorf("config: timezone: %w", err)
	}
	c.location = loc

	if c.Generator.DefaultDueDay == 0 {
		c.Generator.DefaultDueDay = billing.DefaultDueDay
	}
	if c.Generator.DefaultDueDay < 1 || c.Generator.DefaultDueDay > 31 {
		return c, errors.New("config: default_due_day must be within 1-31")
	}
	if c.Generator.DefaultFee != "" {
		if _, err := decimal.NewFromString(c.Generator.DefaultFee); err != nil {
			return c, fmt.Errorf("config: default_fee: %w", err)
		}
	}

	if c.Reminders.DailyAt == "" {
		c.Reminders.DailyAt = defaultDailyAt
	}
	if _, err := time.Parse("15:04", c.Reminders.DailyAt); err != nil {
		return c, fmt.Errorf("config: reminders.daily_at: %w", err)
	}
	if c.Reminders.RemindDaysBefore == 0 {
		c.Reminders.RemindDaysBefore = defaultRemindBefore
	}
	if c.Reminders.RemindDaysBefore < 0 {
		c.Reminders.RemindDaysBefore = 0
	}

	seen := make(map[string]struct{}, len(c.Policies))
	for _, policy := range c.Policies {
		if policy.ID == "" {
			return c, errors.New("config: policy id required")
		}
		if err := policy.Validate(); err != nil {
			return c, fmt.Errorf("config: policy %q: %w", policy.ID, err)
		}
		if _, dup := seen[policy.ID]; dup {
			return c, fmt.Errorf("config: duplicate policy %q", policy.ID)
		}
		seen[policy.ID] = struct{}{}
	}
	return c, nil
}

// Rate returns the parsed daily interest rate.
func (c Config) Rate() decimal.Decimal {
	return c.rate
}

// Location returns the school's time zone, used to decide what "today" is.
func (c Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// GeneratorOptions converts generator config into domain options.
func (c Config) GeneratorOptions() billing.GeneratorOptions {
	opts := billing.GeneratorOptions{DefaultDueDay: c.Generator.DefaultDueDay}
	if c.Generator.DefaultFee != "" {
		if fee, err := decimal.NewFromString(c.Generator.DefaultFee); err == nil {
			opts.DefaultFee = fee
		}
	}
	return opts
}

// GenerateOnRun reports whether the daemon tops up invoices before sending reminders.
func (r ReminderConfig) GenerateOnRun() bool {
	if r.GenerateInvoices == nil {
		return true
	}
	return *r.GenerateInvoices
}

// Getenv returns an env value or fallback.
func Getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// GetenvDuration parses a duration env value or returns fallback.
func GetenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
