package interfaces

import (
	"context"
	"errors"
	"log"

	"school-billing/internal/billing/application"
)

// LoggingPublisher logs invoice generation events.
type LoggingPublisher struct {
	logger *log.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *log.Logger) *LoggingPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishInvoicesGenerated logs the event.
func (p *LoggingPublisher) PublishInvoicesGenerated(ctx context.Context, event application.InvoicesGenerated) error {
	_ = ctx
	if p == nil {
		return errors.New("invoice publisher: nil publisher")
	}
	p.logger.Printf("invoices generated: school=%s cycle=%s candidates=%d stored=%d", event.SchoolID, event.Cycle, event.Candidates, event.Stored)
	return nil
}
