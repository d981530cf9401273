// Package bus decouples event ingestion (webhook endpoint, websocket
// listener) from the processing pipeline with an in-process queue.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Gateway event names.
const (
	EventMessage      = "message"
	EventMessageAck   = "message.ack"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Event is the envelope every gateway notification arrives in, whether over
// the webhook or the websocket stream.
type Event struct {
	DeviceID string          `json:"device_id"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// Queue is a bounded in-memory event queue. Publish never blocks; when the
// consumer falls behind, events are dropped and counted rather than stalling
// the ingestion path.
type Queue struct {
	ch chan Event
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan Event, size)}
}

// Publish enqueues an event, dropping it if the queue is full.
func (q *Queue) Publish(ev Event) {
	select {
	case q.ch <- ev:
	default:
		slog.Warn("event queue full, dropping event", "device", ev.DeviceID, "event", ev.Event)
	}
}

// Consume blocks until an event is available or ctx is cancelled. The second
// result is false when the context ended.
func (q *Queue) Consume(ctx context.Context) (Event, bool) {
	select {
	case <-ctx.Done():
		return Event{}, false
	case ev := <-q.ch:
		return ev, true
	}
}

// Len reports the number of queued events, used by the health endpoint.
func (q *Queue) Len() int { return len(q.ch) }
