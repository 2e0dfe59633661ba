package eventing

import (
	"context"
	"errors"
	"log"
	"time"
)

// Handler consumes one delivered envelope.
type Handler func(ctx context.Context, env Envelope) error

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	OutboxWriter
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// Dispatcher relays pending outbox records to handlers registered by event type.
type Dispatcher struct {
	outbox   OutboxStore
	handlers map[string]Handler
	logger   *log.Logger
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(outbox OutboxStore, logger *log.Logger) *Dispatcher {
	return &Dispatcher{outbox: outbox, handlers: make(map[string]Handler), logger: logger}
}

// Handle registers the handler for an event type, replacing any previous one.
func (d *Dispatcher) Handle(eventType string, handler Handler) {
	if d == nil || handler == nil {
		return
	}
	d.handlers[eventType] = handler
}

// Dispatch pulls up to limit pending records and delivers them.
// Records without a handler, or whose handler fails, are marked failed.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (int, error) {
	if d == nil || d.outbox == nil {
		return 0, errors.New("eventing: nil dispatcher")
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, record := range records {
		env := record.Envelope
		handler, ok := d.handlers[env.EventType]
		if !ok {
			d.logf("outbox: no handler: id=%s type=%s", record.ID, env.EventType)
			_ = d.outbox.MarkFailed(ctx, record.ID)
			continue
		}
		if err := handler(ctx, env); err != nil {
			d.logf("outbox: handler failed: id=%s type=%s err=%v", record.ID, env.EventType, err)
			_ = d.outbox.MarkFailed(ctx, record.ID)
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Dispatch(ctx, 0); err != nil {
				d.logf("outbox dispatch error: %v", err)
			}
		}
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
