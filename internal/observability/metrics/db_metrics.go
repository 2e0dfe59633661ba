package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "payments_unpaid",
			Help: "Stored payments not yet paid",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM payments WHERE status <> 'paid'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "payments_past_due",
			Help: "Stored unpaid payments whose due date has passed",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM payments WHERE status <> 'paid' AND due_date < CURRENT_DATE")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "students_active",
			Help: "Active students accruing invoices",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM students WHERE status = 'active'")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
