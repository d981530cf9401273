package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inovadata/whatsman/internal/bus"
)

const maxReconnectBackoff = 30 * time.Second

// Listener maintains a websocket subscription to the gateway event stream
// and publishes every event onto the queue. The same events may also arrive
// over the webhook endpoint; the gateway sends each on one transport only,
// depending on its configuration.
type Listener struct {
	url   string
	queue *bus.Queue

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewListener(url string, queue *bus.Queue) *Listener {
	return &Listener{url: url, queue: queue}
}

// Run connects and reads events until ctx is cancelled, reconnecting with
// exponential backoff on any failure.
func (l *Listener) Run(ctx context.Context) error {
	backoff := time.Second

	// Force-close the socket on cancellation so a blocked ReadMessage
	// unblocks instead of stalling shutdown.
	go func() {
		<-ctx.Done()
		l.close()
	}()

	for {
		select {
		case <-ctx.Done():
			l.close()
			return ctx.Err()
		default:
		}

		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()

		if conn == nil {
			if err := l.connect(ctx); err != nil {
				slog.Warn("gateway websocket connect failed", "url", l.url, "backoff", backoff, "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxReconnectBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("gateway websocket read error, reconnecting", "error", err)
			l.close()
			continue
		}

		var ev bus.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("invalid gateway event JSON", "error", err)
			continue
		}
		if ev.Event == "" {
			continue
		}
		l.queue.Publish(ev)
	}
}

func (l *Listener) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	slog.Info("gateway websocket connected", "url", l.url)
	return nil
}

func (l *Listener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}
