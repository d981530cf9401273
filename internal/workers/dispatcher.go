// Package workers hosts the background loops: the scheduled message
// dispatcher and the video distribution job runner.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/inovadata/whatsman/internal/store"
)

var tracer = otel.Tracer("whatsman/workers")

const (
	dispatchInterval = 10 * time.Second
	dispatchBatch    = 100
)

// Messenger delivers one message to a WhatsApp contact through the gateway.
type Messenger interface {
	Send(ctx context.Context, deviceID uuid.UUID, phone, content, contentType, mediaURL string) error
}

// Dispatcher drains due scheduled messages on a fixed cadence. Recurring
// messages fork a fresh row for the next occurrence; failures are per-message
// and never stop the batch.
type Dispatcher struct {
	scheduled store.ScheduledMessageStore
	contacts  store.ContactStore
	messenger Messenger
	now       func() time.Time
}

func NewDispatcher(scheduled store.ScheduledMessageStore, contacts store.ContactStore, messenger Messenger) *Dispatcher {
	return &Dispatcher{
		scheduled: scheduled,
		contacts:  contacts,
		messenger: messenger,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, dispatching one batch per tick.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	slog.Info("scheduled message dispatcher started", "interval", dispatchInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DispatchDue(ctx); err != nil {
				slog.Error("dispatch batch failed", "error", err)
			}
		}
	}
}

// DispatchDue sends every message whose scheduled time has arrived.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "dispatcher.batch")
	defer span.End()

	now := d.now().UTC()
	due, err := d.scheduled.Due(ctx, now, dispatchBatch)
	if err != nil {
		return err
	}
	for i := range due {
		d.dispatch(ctx, &due[i], now)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *store.ScheduledMessage, now time.Time) {
	contact, err := d.contacts.Get(ctx, msg.ContactID)
	if err != nil {
		slog.Warn("scheduled message has no contact, skipping", "message", msg.ID, "contact", msg.ContactID, "error", err)
		return
	}
	if err := d.messenger.Send(ctx, msg.DeviceID, contact.PhoneNumber, msg.Content, msg.ContentType, msg.MediaURL); err != nil {
		slog.Error("scheduled send failed", "message", msg.ID, "contact", contact.ID, "error", err)
		return
	}
	if err := d.scheduled.MarkSent(ctx, msg.ID, now); err != nil {
		slog.Error("mark sent failed", "message", msg.ID, "error", err)
		return
	}
	slog.Info("scheduled message sent", "message", msg.ID, "contact", contact.ID, "type", msg.ContentType)

	if msg.IsRecurring && msg.CronExpression != "" {
		d.forkNextOccurrence(ctx, msg)
	}
}

// forkNextOccurrence inserts a fresh pending row for a recurring message.
// The next time comes from the cron expression relative to the occurrence
// that just fired, so a delayed dispatch does not drift the series.
func (d *Dispatcher) forkNextOccurrence(ctx context.Context, msg *store.ScheduledMessage) {
	next, err := gronx.NextTickAfter(msg.CronExpression, msg.ScheduledAt, false)
	if err != nil {
		slog.Warn("invalid cron expression, repeating same time next day",
			"message", msg.ID, "cron", msg.CronExpression, "error", err)
		next = msg.ScheduledAt.AddDate(0, 0, 1)
	}
	fork := store.ScheduledMessage{
		ID:             uuid.Must(uuid.NewV7()),
		DeviceID:       msg.DeviceID,
		ContactID:      msg.ContactID,
		ScheduledAt:    next,
		ContentType:    msg.ContentType,
		Content:        msg.Content,
		MediaURL:       msg.MediaURL,
		IsRecurring:    true,
		CronExpression: msg.CronExpression,
	}
	if err := d.scheduled.Create(ctx, &fork); err != nil {
		slog.Error("recurring fork failed", "message", msg.ID, "error", err)
		return
	}
	slog.Debug("recurring message forked", "message", msg.ID, "next", next)
}
