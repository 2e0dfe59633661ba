package interfaces

import (
	"context"
	"errors"

	"school-billing/internal/billing/application"
	"school-billing/internal/eventing"
)

// EventInvoicesGenerated is the outbox event type of a generation run.
const EventInvoicesGenerated = "billing.invoices_generated"

// OutboxPublisher stores invoice generation events in the outbox for later relay.
type OutboxPublisher struct {
	outbox eventing.OutboxWriter
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(outbox eventing.OutboxWriter) *OutboxPublisher {
	return &OutboxPublisher{outbox: outbox}
}

// PublishInvoicesGenerated writes the event to the outbox.
func (p *OutboxPublisher) PublishInvoicesGenerated(ctx context.Context, event application.InvoicesGenerated) error {
	if p == nil || p.outbox == nil {
		return errors.New("invoice publisher: nil outbox")
	}
	env, err := eventing.BuildEnvelope(EventInvoicesGenerated, event, eventing.Meta{
		SchoolID:   event.SchoolID,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return err
	}
	_, err = p.outbox.Insert(ctx, env)
	return err
}

// InvoicesGeneratedHandler relays outbox envelopes to next.
func InvoicesGeneratedHandler(next application.InvoicePublisher) eventing.Handler {
	return func(ctx context.Context, env eventing.Envelope) error {
		var event application.InvoicesGenerated
		if err := env.Decode(&event); err != nil {
			return err
		}
		return next.PublishInvoicesGenerated(ctx, event)
	}
}
