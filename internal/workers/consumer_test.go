package workers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/agents"
	"github.com/inovadata/whatsman/internal/bus"
	"github.com/inovadata/whatsman/internal/store"
)

type fakeDeviceStore struct {
	device    *store.Device
	connected map[uuid.UUID]bool
}

func (f *fakeDeviceStore) Get(_ context.Context, id uuid.UUID) (*store.Device, error) {
	if f.device != nil && f.device.ID == id {
		return f.device, nil
	}
	return nil, store.ErrNotFound
}
func (f *fakeDeviceStore) ByWhatsAppID(_ context.Context, waID string) (*store.Device, error) {
	if f.device != nil && f.device.WhatsAppID == waID {
		return f.device, nil
	}
	return nil, store.ErrNotFound
}
func (f *fakeDeviceStore) SetConnected(_ context.Context, id uuid.UUID, connected bool) error {
	if f.connected == nil {
		f.connected = map[uuid.UUID]bool{}
	}
	f.connected[id] = connected
	return nil
}

type fakeMessageStore struct {
	created  []store.Message
	statuses map[uuid.UUID]string
}

func (f *fakeMessageStore) Create(_ context.Context, m *store.Message) error {
	f.created = append(f.created, *m)
	return nil
}
func (f *fakeMessageStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	if f.statuses == nil {
		f.statuses = map[uuid.UUID]string{}
	}
	f.statuses[id] = status
	return nil
}
func (f *fakeMessageStore) ByWhatsAppID(_ context.Context, _ uuid.UUID, waID string) (*store.Message, error) {
	for i := range f.created {
		if f.created[i].WhatsAppMessageID == waID {
			return &f.created[i], nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeIgnoreRuleStore struct {
	rules []store.IgnoreRule
}

func (f *fakeIgnoreRuleStore) ForDevice(context.Context, uuid.UUID) ([]store.IgnoreRule, error) {
	return f.rules, nil
}
func (f *fakeIgnoreRuleStore) Create(context.Context, *store.IgnoreRule) error { return nil }
func (f *fakeIgnoreRuleStore) Delete(context.Context, uuid.UUID) error         { return nil }

type recordingContactStore struct {
	byPhone map[string]*store.Contact
}

func (f *recordingContactStore) Get(_ context.Context, id uuid.UUID) (*store.Contact, error) {
	for _, c := range f.byPhone {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *recordingContactStore) GetOrCreate(_ context.Context, c *store.Contact) (*store.Contact, bool, error) {
	if f.byPhone == nil {
		f.byPhone = map[string]*store.Contact{}
	}
	if existing, ok := f.byPhone[c.PhoneNumber]; ok {
		return existing, false, nil
	}
	created := *c
	created.ID = uuid.Must(uuid.NewV7())
	f.byPhone[c.PhoneNumber] = &created
	return &created, true, nil
}

type fakeRunner struct {
	reply     string
	contactID *uuid.UUID
	calls     int
}

func (f *fakeRunner) Run(_ context.Context, _ uuid.UUID, _ *agents.InboundMessage, contactID *uuid.UUID) (string, error) {
	f.calls++
	f.contactID = contactID
	return f.reply, nil
}

type consumerFixture struct {
	consumer  *Consumer
	device    *store.Device
	devices   *fakeDeviceStore
	messages  *fakeMessageStore
	contacts  *recordingContactStore
	runner    *fakeRunner
	messenger *fakeMessenger
	ignores   *fakeIgnoreRuleStore
}

func newConsumerFixture(reply string) *consumerFixture {
	device := &store.Device{ID: uuid.Must(uuid.NewV7()), WhatsAppID: "wa-main", IsConnected: true}
	f := &consumerFixture{
		device:    device,
		devices:   &fakeDeviceStore{device: device},
		messages:  &fakeMessageStore{},
		contacts:  &recordingContactStore{},
		runner:    &fakeRunner{reply: reply},
		messenger: &fakeMessenger{},
		ignores:   &fakeIgnoreRuleStore{},
	}
	f.consumer = NewConsumer(&store.Stores{
		Devices:     f.devices,
		Messages:    f.messages,
		Contacts:    f.contacts,
		IgnoreRules: f.ignores,
	}, bus.NewQueue(8), f.runner, f.messenger)
	return f
}

func messageEvent(deviceID string, msg agents.InboundMessage) bus.Event {
	data, _ := json.Marshal(msg)
	return bus.Event{DeviceID: deviceID, Event: bus.EventMessage, Data: data}
}

func TestConsumer_MessageRecordedAndReplied(t *testing.T) {
	f := newConsumerFixture("got it")
	ev := messageEvent(f.device.ID.String(), agents.InboundMessage{
		ID:       "wamid.1",
		From:     "5511999@s.whatsapp.net",
		Body:     "hello",
		Type:     "text",
		PushName: "Ana",
	})

	if err := f.consumer.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	contact := f.contacts.byPhone["5511999"]
	if contact == nil {
		t.Fatal("contact was not created")
	}
	if contact.WhatsAppJID != "5511999@s.whatsapp.net" || contact.PushName != "Ana" {
		t.Errorf("contact = %+v", contact)
	}
	if f.runner.contactID == nil || *f.runner.contactID != contact.ID {
		t.Error("runner did not receive the resolved contact id")
	}
	if len(f.messages.created) != 2 {
		t.Fatalf("recorded %d messages, want inbound and outbound", len(f.messages.created))
	}
	in, out := f.messages.created[0], f.messages.created[1]
	if in.Direction != store.DirectionInbound || in.Content != "hello" || in.WhatsAppMessageID != "wamid.1" {
		t.Errorf("inbound = %+v", in)
	}
	if out.Direction != store.DirectionOutbound || out.Content != "got it" || out.Status != store.MessageStatusSent {
		t.Errorf("outbound = %+v", out)
	}
	if len(f.messenger.sent) != 1 || f.messenger.sent[0].phone != "5511999" {
		t.Errorf("messenger calls = %+v", f.messenger.sent)
	}
}

func TestConsumer_DeviceResolvedByWhatsAppID(t *testing.T) {
	f := newConsumerFixture("")
	ev := messageEvent("wa-main", agents.InboundMessage{From: "1@s.whatsapp.net", Body: "hi", Type: "text"})

	if err := f.consumer.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.runner.calls != 1 {
		t.Errorf("runner calls = %d, want the event routed by gateway account id", f.runner.calls)
	}
}

func TestConsumer_UnknownDeviceIgnored(t *testing.T) {
	f := newConsumerFixture("reply")
	ev := messageEvent(uuid.Must(uuid.NewV7()).String(), agents.InboundMessage{From: "1@s.whatsapp.net", Body: "hi"})

	if err := f.consumer.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unknown device must not error: %v", err)
	}
	if f.runner.calls != 0 || len(f.messages.created) != 0 {
		t.Error("unknown device event was processed")
	}
}

func TestConsumer_IgnoredMessageNotRecorded(t *testing.T) {
	f := newConsumerFixture("reply")
	f.ignores.rules = []store.IgnoreRule{{Type: store.IgnoreRuleKeyword, Pattern: "spam"}}
	ev := messageEvent(f.device.ID.String(), agents.InboundMessage{From: "1@s.whatsapp.net", Body: "spam offer", Type: "text"})

	if err := f.consumer.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(f.messages.created) != 0 || f.runner.calls != 0 {
		t.Error("ignored message reached the pipeline")
	}
}

func TestConsumer_MediaMessageContentType(t *testing.T) {
	f := newConsumerFixture("")
	ev := messageEvent(f.device.ID.String(), agents.InboundMessage{
		From:     "1@s.whatsapp.net",
		Type:     "image",
		HasMedia: true,
		Caption:  "look at this",
		MediaURL: "https://media.test/x.jpg",
	})

	if err := f.consumer.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(f.messages.created) != 1 {
		t.Fatalf("recorded %d messages", len(f.messages.created))
	}
	in := f.messages.created[0]
	if in.ContentType != store.ContentTypeImage {
		t.Errorf("content type = %q", in.ContentType)
	}
	if in.Content != "look at this" {
		t.Errorf("content = %q, want caption fallback", in.Content)
	}
}

func TestConsumer_AckUpdatesStatus(t *testing.T) {
	f := newConsumerFixture("")
	f.messages.created = []store.Message{{
		ID:                uuid.Must(uuid.NewV7()),
		DeviceID:          f.device.ID,
		WhatsAppMessageID: "wamid.9",
		Direction:         store.DirectionOutbound,
		Status:            store.MessageStatusSent,
	}}

	for ackVal, want := range map[int]string{
		1: store.MessageStatusSent,
		2: store.MessageStatusDelivered,
		3: store.MessageStatusRead,
	} {
		data, _ := json.Marshal(map[string]any{"id": "wamid.9", "ack": ackVal})
		ev := bus.Event{DeviceID: f.device.ID.String(), Event: bus.EventMessageAck, Data: data}
		if err := f.consumer.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("HandleEvent ack=%d: %v", ackVal, err)
		}
		if got := f.messages.statuses[f.messages.created[0].ID]; got != want {
			t.Errorf("ack=%d status = %q, want %q", ackVal, got, want)
		}
	}
}

func TestConsumer_ConnectionEvents(t *testing.T) {
	f := newConsumerFixture("")

	ev := bus.Event{DeviceID: f.device.ID.String(), Event: bus.EventDisconnected}
	if err := f.consumer.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.devices.connected[f.device.ID] {
		t.Error("device still marked connected")
	}

	ev.Event = bus.EventConnected
	if err := f.consumer.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !f.devices.connected[f.device.ID] {
		t.Error("device not marked connected")
	}
}
