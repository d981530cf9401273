package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/agents"
	"github.com/inovadata/whatsman/internal/bus"
	"github.com/inovadata/whatsman/internal/store"
)

// AgentRunner runs the agent chain over one inbound message.
type AgentRunner interface {
	Run(ctx context.Context, deviceID uuid.UUID, msg *agents.InboundMessage, contactID *uuid.UUID) (string, error)
}

// Consumer drains the gateway event queue: inbound messages go through the
// agent chain, delivery acks update message status, connection events flip
// the device flag.
type Consumer struct {
	stores    *store.Stores
	queue     *bus.Queue
	runner    AgentRunner
	messenger Messenger
}

func NewConsumer(stores *store.Stores, queue *bus.Queue, runner AgentRunner, messenger Messenger) *Consumer {
	return &Consumer{stores: stores, queue: queue, runner: runner, messenger: messenger}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("gateway event consumer started")
	for {
		ev, ok := c.queue.Consume(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := c.HandleEvent(ctx, ev); err != nil {
			slog.Error("event handling failed", "event", ev.Event, "device", ev.DeviceID, "error", err)
		}
	}
}

// HandleEvent processes one gateway event. Events for unknown devices are
// dropped silently; the gateway may serve accounts this instance does not
// manage.
func (c *Consumer) HandleEvent(ctx context.Context, ev bus.Event) error {
	device, err := c.resolveDevice(ctx, ev.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Debug("event for unknown device ignored", "device", ev.DeviceID, "event", ev.Event)
			return nil
		}
		return fmt.Errorf("resolve device: %w", err)
	}

	switch ev.Event {
	case bus.EventMessage:
		return c.handleMessage(ctx, device, ev.Data)
	case bus.EventMessageAck:
		return c.handleAck(ctx, device, ev.Data)
	case bus.EventConnected:
		return c.stores.Devices.SetConnected(ctx, device.ID, true)
	case bus.EventDisconnected:
		return c.stores.Devices.SetConnected(ctx, device.ID, false)
	default:
		slog.Debug("unhandled gateway event", "event", ev.Event)
		return nil
	}
}

// resolveDevice accepts either the internal device id or the gateway's
// WhatsApp account id, depending on which transport delivered the event.
func (c *Consumer) resolveDevice(ctx context.Context, id string) (*store.Device, error) {
	if parsed, err := uuid.Parse(id); err == nil {
		return c.stores.Devices.Get(ctx, parsed)
	}
	return c.stores.Devices.ByWhatsAppID(ctx, id)
}

func (c *Consumer) handleMessage(ctx context.Context, device *store.Device, data json.RawMessage) error {
	var msg agents.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse message payload: %w", err)
	}
	if msg.From == "" {
		return nil
	}

	rules, err := c.stores.IgnoreRules.ForDevice(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("load ignore rules: %w", err)
	}
	if agents.ShouldIgnore(rules, &msg) {
		return nil
	}

	contact, _, err := c.stores.Contacts.GetOrCreate(ctx, &store.Contact{
		DeviceID:    device.ID,
		PhoneNumber: strings.TrimSuffix(msg.From, "@s.whatsapp.net"),
		WhatsAppJID: msg.From,
		PushName:    msg.PushName,
		IsGroup:     msg.IsGroup,
	})
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}

	contentType := inboundContentType(&msg)
	content := msg.Body
	if content == "" {
		content = msg.Caption
	}
	inbound := store.Message{
		ID:                uuid.Must(uuid.NewV7()),
		DeviceID:          device.ID,
		ContactID:         contact.ID,
		WhatsAppMessageID: msg.ID,
		Direction:         store.DirectionInbound,
		Status:            store.MessageStatusDelivered,
		ContentType:       contentType,
		Content:           content,
		MediaURL:          msg.MediaURL,
	}
	if err := c.stores.Messages.Create(ctx, &inbound); err != nil {
		return fmt.Errorf("record inbound message: %w", err)
	}

	reply, err := c.runner.Run(ctx, device.ID, &msg, &contact.ID)
	if err != nil {
		return fmt.Errorf("run agents: %w", err)
	}
	if reply == "" {
		return nil
	}

	if err := c.messenger.Send(ctx, device.ID, contact.PhoneNumber, reply, store.ContentTypeText, ""); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	outbound := store.Message{
		ID:          uuid.Must(uuid.NewV7()),
		DeviceID:    device.ID,
		ContactID:   contact.ID,
		Direction:   store.DirectionOutbound,
		Status:      store.MessageStatusSent,
		ContentType: store.ContentTypeText,
		Content:     reply,
	}
	if err := c.stores.Messages.Create(ctx, &outbound); err != nil {
		return fmt.Errorf("record outbound message: %w", err)
	}
	return nil
}

func (c *Consumer) handleAck(ctx context.Context, device *store.Device, data json.RawMessage) error {
	var ack struct {
		ID  string `json:"id"`
		Ack int    `json:"ack"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("parse ack payload: %w", err)
	}

	var status string
	switch ack.Ack {
	case 1:
		status = store.MessageStatusSent
	case 2:
		status = store.MessageStatusDelivered
	case 3:
		status = store.MessageStatusRead
	default:
		return nil
	}

	msg, err := c.stores.Messages.ByWhatsAppID(ctx, device.ID, ack.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("resolve acked message: %w", err)
	}
	return c.stores.Messages.UpdateStatus(ctx, msg.ID, status)
}

func inboundContentType(msg *agents.InboundMessage) string {
	if !msg.HasMedia {
		return store.ContentTypeText
	}
	switch msg.MessageType() {
	case "image", "sticker":
		return store.ContentTypeImage
	case "video":
		return store.ContentTypeVideo
	case "audio", "ptt":
		return store.ContentTypeAudio
	default:
		return store.ContentTypeDocument
	}
}
