// Package issuance publishes pass.issued events and turns them into audit
// rows in the background worker.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studx/internal/buspass"
	"studx/internal/metrics"
	"studx/internal/queue"
)

// Event is the body of a pass.issued message.
type Event struct {
	PassID   string    `json:"pass_id"`
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// Notifier publishes an event for every issued pass.
type Notifier struct {
	q   queue.Queue
	now func() time.Time
}

// NewNotifier returns a buspass.Notifier backed by q.
func NewNotifier(q queue.Queue) *Notifier {
	return &Notifier{q: q, now: time.Now}
}

// PassIssued enqueues the event.
func (n *Notifier) PassIssued(ctx context.Context, passID, userID string) error {
	msg, err := queue.NewMessage(queue.TypePassIssued, Event{PassID: passID, UserID: userID, IssuedAt: n.now().UTC()})
	if err != nil {
		return err
	}
	return n.q.Publish(ctx, msg)
}

// AuditStore reads issued records and appends audit rows. Records are never
// modified.
type AuditStore interface {
	GetByID(ctx context.Context, id string) (buspass.Record, error)
	RecordAudit(ctx context.Context, passID, userID, event string, at time.Time) error
}

// Processor handles pass.issued messages.
type Processor struct {
	store   AuditStore
	timeout time.Duration
	logger  *slog.Logger
}

// NewProcessor creates a processor writing to store.
func NewProcessor(store AuditStore, timeout time.Duration, logger *slog.Logger) *Processor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Processor{store: store, timeout: timeout, logger: logger.With(slog.String("component", "issuance"))}
}

// Handle processes one message. Messages of other types are ignored.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypePassIssued {
		return nil
	}
	var evt Event
	if err := msg.Decode(&evt); err != nil {
		metrics.AuditEvents.WithLabelValues("invalid").Inc()
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rec, err := p.store.GetByID(ctx, evt.PassID)
	if err != nil {
		if errors.Is(err, buspass.ErrNotFound) {
			metrics.AuditEvents.WithLabelValues("unknown_pass").Inc()
		} else {
			metrics.AuditEvents.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("fetch pass %s: %w", evt.PassID, err)
	}

	at := evt.IssuedAt
	if at.IsZero() {
		at = rec.CreatedAt
	}
	if err := p.store.RecordAudit(ctx, rec.ID, rec.UserID, queue.TypePassIssued, at); err != nil {
		metrics.AuditEvents.WithLabelValues("error").Inc()
		return fmt.Errorf("record audit for %s: %w", rec.ID, err)
	}
	metrics.AuditEvents.WithLabelValues("ok").Inc()
	p.logger.Info("pass issuance audited", slog.String("pass_id", rec.ID), slog.String("user_id", rec.UserID))
	return nil
}

// Run consumes q until ctx ends. Handler errors are logged and skipped.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	for msg := range messages {
		if err := p.Handle(ctx, msg); err != nil {
			p.logger.Error("event processing failed", slog.String("type", msg.Type), slog.String("error", err.Error()))
		}
	}
	return nil
}
