package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "school_billing_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	valuationBatches *prometheus.CounterVec
	valuationLatency *prometheus.HistogramVec
	paymentsValuated prometheus.Counter

	invoiceRunsTotal   *prometheus.CounterVec
	invoiceRunLatency  *prometheus.HistogramVec
	invoicesCreated    prometheus.Counter
	invoicesDuplicated prometheus.Counter

	paymentMutations *prometheus.CounterVec

	remindersTotal    *prometheus.CounterVec
	reminderRunsTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers billing metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		valuationBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "valuation_batches_total",
				Help: "Total payment valuation batches by result",
			},
			[]string{"result"},
		)
		valuationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "valuation_latency_seconds",
				Help:    "Valuation batch latency in seconds, including snapshot load",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		paymentsValuated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "payments_valuated_total",
				Help: "Total payments resolved by the valuation engine",
			},
		)

		invoiceRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_runs_total",
				Help: "Total recurring invoice generation runs by result",
			},
			[]string{"result"},
		)
		invoiceRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_run_latency_seconds",
				Help:    "Recurring invoice generation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		invoicesCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoices_created_total",
				Help: "Total invoices stored by the recurring generator",
			},
		)
		invoicesDuplicated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoices_conflicted_total",
				Help: "Generated invoices dropped by the storage uniqueness constraint",
			},
		)

		paymentMutations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_mutations_total",
				Help: "Total payment mutations by action and result",
			},
			[]string{"action", "result"},
		)

		remindersTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reminders_total",
				Help: "Total reminders by kind and result",
			},
			[]string{"kind", "result"},
		)
		reminderRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reminder_runs_total",
				Help: "Total reminder daemon runs by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total statement exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			valuationBatches,
			valuationLatency,
			paymentsValuated,
			invoiceRunsTotal,
			invoiceRunLatency,
			invoicesCreated,
			invoicesDuplicated,
			paymentMutations,
			remindersTotal,
			reminderRunsTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveValuation records a valuation batch.
func ObserveValuation(result string, count int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if valuationBatches != nil {
		valuationBatches.WithLabelValues(result).Inc()
	}
	if valuationLatency != nil {
		valuationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if paymentsValuated != nil && count > 0 {
		paymentsValuated.Add(float64(count))
	}
}

// ObserveInvoiceRun records a generation run and how many of its candidates were stored.
func ObserveInvoiceRun(result string, candidates, stored int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if invoiceRunsTotal != nil {
		invoiceRunsTotal.WithLabelValues(result).Inc()
	}
	if invoiceRunLatency != nil {
		invoiceRunLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if invoicesCreated != nil && stored > 0 {
		invoicesCreated.Add(float64(stored))
	}
	if invoicesDuplicated != nil && candidates > stored {
		invoicesDuplicated.Add(float64(candidates - stored))
	}
}

// IncPaymentMutation counts a pay/reopen/reschedule/waive action.
func IncPaymentMutation(action, result string) {
	if action == "" {
		action = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if paymentMutations != nil {
		paymentMutations.WithLabelValues(action, result).Inc()
	}
}

// IncReminder counts a reminder outcome.
func IncReminder(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if remindersTotal != nil {
		remindersTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncReminderRun counts a daemon run.
func IncReminderRun(result string) {
	if result == "" {
		result = resultSuccess
	}
	if reminderRunsTotal != nil {
		reminderRunsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
)
