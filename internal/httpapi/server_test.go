package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/bus"
	"github.com/inovadata/whatsman/internal/store"
)

// memStores is a minimal in-memory store set for handler tests.
type memStores struct {
	agents    map[uuid.UUID]*store.Agent
	devices   map[uuid.UUID]*store.Device
	rules     map[uuid.UUID]*store.IgnoreRule
	scheduled map[uuid.UUID]*store.ScheduledMessage
	contacts  map[uuid.UUID]*store.Contact
	convs     map[uuid.UUID]*store.Conversation
	videoJobs map[uuid.UUID]*store.VideoDistributionJob // keyed by agent id
}

func newMemStores() *memStores {
	return &memStores{
		agents:    map[uuid.UUID]*store.Agent{},
		devices:   map[uuid.UUID]*store.Device{},
		rules:     map[uuid.UUID]*store.IgnoreRule{},
		scheduled: map[uuid.UUID]*store.ScheduledMessage{},
		contacts:  map[uuid.UUID]*store.Contact{},
		convs:     map[uuid.UUID]*store.Conversation{},
		videoJobs: map[uuid.UUID]*store.VideoDistributionJob{},
	}
}

func (m *memStores) Get(_ context.Context, id uuid.UUID) (*store.Agent, error) {
	if a, ok := m.agents[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}
func (m *memStores) ActiveForDevice(context.Context, uuid.UUID) ([]store.Agent, error) {
	return nil, nil
}
func (m *memStores) ListForDevice(_ context.Context, deviceID uuid.UUID) ([]store.Agent, error) {
	var out []store.Agent
	for _, a := range m.agents {
		if a.DeviceID == deviceID {
			out = append(out, *a)
		}
	}
	return out, nil
}
func (m *memStores) Create(_ context.Context, a *store.Agent) error {
	a.ID = uuid.Must(uuid.NewV7())
	m.agents[a.ID] = a
	return nil
}
func (m *memStores) Update(_ context.Context, a *store.Agent) error {
	if _, ok := m.agents[a.ID]; !ok {
		return store.ErrNotFound
	}
	m.agents[a.ID] = a
	return nil
}
func (m *memStores) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.agents[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

type memDeviceStore struct{ m *memStores }

func (d memDeviceStore) Get(_ context.Context, id uuid.UUID) (*store.Device, error) {
	if dev, ok := d.m.devices[id]; ok {
		return dev, nil
	}
	return nil, store.ErrNotFound
}
func (d memDeviceStore) ByWhatsAppID(context.Context, string) (*store.Device, error) {
	return nil, store.ErrNotFound
}
func (d memDeviceStore) SetConnected(context.Context, uuid.UUID, bool) error { return nil }

type memVideoJobStore struct{ m *memStores }

func (v memVideoJobStore) GetOrCreate(_ context.Context, agentID uuid.UUID, next time.Time) (*store.VideoDistributionJob, error) {
	if j, ok := v.m.videoJobs[agentID]; ok {
		return j, nil
	}
	j := &store.VideoDistributionJob{ID: uuid.Must(uuid.NewV7()), AgentID: agentID, NextRunAt: &next}
	v.m.videoJobs[agentID] = j
	return j, nil
}
func (v memVideoJobStore) Due(context.Context, time.Time, int) ([]store.VideoDistributionJob, error) {
	return nil, nil
}
func (v memVideoJobStore) UpdateRunTimes(context.Context, uuid.UUID, time.Time, time.Time) error {
	return nil
}
func (v memVideoJobStore) DeleteForAgent(_ context.Context, agentID uuid.UUID) error {
	delete(v.m.videoJobs, agentID)
	return nil
}

type memIgnoreRuleStore struct{ m *memStores }

func (s memIgnoreRuleStore) ForDevice(_ context.Context, deviceID uuid.UUID) ([]store.IgnoreRule, error) {
	var out []store.IgnoreRule
	for _, r := range s.m.rules {
		if r.DeviceID == deviceID {
			out = append(out, *r)
		}
	}
	return out, nil
}
func (s memIgnoreRuleStore) Create(_ context.Context, r *store.IgnoreRule) error {
	r.ID = uuid.Must(uuid.NewV7())
	s.m.rules[r.ID] = r
	return nil
}
func (s memIgnoreRuleStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.m.rules[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.m.rules, id)
	return nil
}

type memScheduledStore struct{ m *memStores }

func (s memScheduledStore) Get(_ context.Context, id uuid.UUID) (*store.ScheduledMessage, error) {
	if msg, ok := s.m.scheduled[id]; ok {
		return msg, nil
	}
	return nil, store.ErrNotFound
}
func (s memScheduledStore) Create(_ context.Context, msg *store.ScheduledMessage) error {
	msg.ID = uuid.Must(uuid.NewV7())
	s.m.scheduled[msg.ID] = msg
	return nil
}
func (s memScheduledStore) Due(context.Context, time.Time, int) ([]store.ScheduledMessage, error) {
	return nil, nil
}
func (s memScheduledStore) MarkSent(context.Context, uuid.UUID, time.Time) error { return nil }
func (s memScheduledStore) Cancel(_ context.Context, id uuid.UUID) error {
	msg, ok := s.m.scheduled[id]
	if !ok {
		return store.ErrNotFound
	}
	msg.IsCancelled = true
	return nil
}
func (s memScheduledStore) ListForDevice(_ context.Context, deviceID uuid.UUID, pendingOnly bool, _, _ int) ([]store.ScheduledMessage, error) {
	var out []store.ScheduledMessage
	for _, msg := range s.m.scheduled {
		if msg.DeviceID != deviceID {
			continue
		}
		if pendingOnly && !msg.Pending() {
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}

type memContactStore struct{ m *memStores }

func (s memContactStore) Get(_ context.Context, id uuid.UUID) (*store.Contact, error) {
	if c, ok := s.m.contacts[id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}
func (s memContactStore) GetOrCreate(_ context.Context, c *store.Contact) (*store.Contact, bool, error) {
	return c, false, nil
}

type memConversationStore struct{ m *memStores }

func (s memConversationStore) ActiveForContact(context.Context, uuid.UUID, uuid.UUID) (*store.Conversation, error) {
	return nil, store.ErrNotFound
}
func (s memConversationStore) GetOrCreate(context.Context, uuid.UUID, uuid.UUID) (*store.Conversation, bool, error) {
	return nil, false, store.ErrNotFound
}
func (s memConversationStore) UpdateAgentState(context.Context, uuid.UUID, json.RawMessage) error {
	return nil
}
func (s memConversationStore) Close(_ context.Context, id uuid.UUID) error {
	conv, ok := s.m.convs[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.Status = store.ConversationClosed
	return nil
}
func (s memConversationStore) ListForDevice(_ context.Context, deviceID uuid.UUID, _, _ int) ([]store.Conversation, error) {
	var out []store.Conversation
	for _, c := range s.m.convs {
		if c.DeviceID == deviceID {
			out = append(out, *c)
		}
	}
	return out, nil
}

type apiFixture struct {
	server *Server
	mem    *memStores
	queue  *bus.Queue
	device *store.Device
}

func newAPIFixture(token string) *apiFixture {
	mem := newMemStores()
	device := &store.Device{ID: uuid.Must(uuid.NewV7()), Name: "main"}
	mem.devices[device.ID] = device

	queue := bus.NewQueue(16)
	stores := &store.Stores{
		Agents:        mem,
		Devices:       memDeviceStore{mem},
		VideoJobs:     memVideoJobStore{mem},
		IgnoreRules:   memIgnoreRuleStore{mem},
		Scheduled:     memScheduledStore{mem},
		Contacts:      memContactStore{mem},
		Conversations: memConversationStore{mem},
	}
	return &apiFixture{
		server: NewServer("127.0.0.1:0", token, stores, queue),
		mem:    mem,
		queue:  queue,
		device: device,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_AuthRequired(t *testing.T) {
	f := newAPIFixture("secret")

	rec := f.do(t, http.MethodGet, "/v1/devices/"+f.device.ID.String()+"/agents", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/devices/"+f.device.ID.String()+"/agents", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/devices/"+f.device.ID.String()+"/agents", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", rec.Code)
	}
}

func TestServer_WebhookQueuesEvent(t *testing.T) {
	f := newAPIFixture("")

	rec := f.do(t, http.MethodPost, "/webhook", "", map[string]any{
		"device_id": f.device.ID.String(),
		"event":     "message",
		"data":      map[string]string{"from": "1@s.whatsapp.net", "body": "hi"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	ev, ok := f.queue.Consume(context.Background())
	if !ok || ev.Event != "message" {
		t.Errorf("queued event = %+v", ev)
	}
}

func TestServer_WebhookRejectsInvalid(t *testing.T) {
	f := newAPIFixture("")
	rec := f.do(t, http.MethodPost, "/webhook", "", map[string]any{"device_id": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing event", rec.Code)
	}
}

func TestServer_CreateAgentBootstrapsVideoJob(t *testing.T) {
	f := newAPIFixture("")

	rec := f.do(t, http.MethodPost, "/v1/devices/"+f.device.ID.String()+"/agents", "", map[string]any{
		"name":   "daily videos",
		"type":   "video_distributor",
		"config": map[string]any{"bucket_name": "lessons", "interval_hours": 12},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var created store.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := f.mem.videoJobs[created.ID]; !ok {
		t.Error("video distribution job was not bootstrapped")
	}
}

func TestServer_CreateAgentValidation(t *testing.T) {
	f := newAPIFixture("")
	base := "/v1/devices/" + f.device.ID.String() + "/agents"

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{name: "missing name", body: map[string]any{"type": "rule_based"}, want: http.StatusBadRequest},
		{name: "unknown type", body: map[string]any{"name": "x", "type": "psychic"}, want: http.StatusBadRequest},
		{name: "valid", body: map[string]any{"name": "x", "type": "rule_based"}, want: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, base, "", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}

	rec := f.do(t, http.MethodPost, "/v1/devices/"+uuid.Must(uuid.NewV7()).String()+"/agents", "",
		map[string]any{"name": "x", "type": "rule_based"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device: status = %d, want 404", rec.Code)
	}
}

func TestServer_DeleteAgentRemovesVideoJob(t *testing.T) {
	f := newAPIFixture("")
	agent := &store.Agent{
		ID:       uuid.Must(uuid.NewV7()),
		DeviceID: f.device.ID,
		Name:     "videos",
		Type:     store.AgentTypeVideoDistributor,
		IsActive: true,
	}
	f.mem.agents[agent.ID] = agent
	f.mem.videoJobs[agent.ID] = &store.VideoDistributionJob{ID: uuid.Must(uuid.NewV7()), AgentID: agent.ID}

	rec := f.do(t, http.MethodDelete, "/v1/agents/"+agent.ID.String(), "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := f.mem.videoJobs[agent.ID]; ok {
		t.Error("video job survived agent deletion")
	}
}

func TestServer_IgnoreRuleValidation(t *testing.T) {
	f := newAPIFixture("")
	base := "/v1/devices/" + f.device.ID.String() + "/ignore-rules"

	rec := f.do(t, http.MethodPost, base, "", map[string]any{"type": "keyword", "pattern": "([bad"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid regex: status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodPost, base, "", map[string]any{"type": "carrier-pigeon", "pattern": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid type: status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodPost, base, "", map[string]any{"type": "keyword", "pattern": "spam", "reason": "ads"})
	if rec.Code != http.StatusCreated {
		t.Errorf("valid rule: status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestServer_ScheduledMessageLifecycle(t *testing.T) {
	f := newAPIFixture("")
	contact := &store.Contact{ID: uuid.Must(uuid.NewV7()), DeviceID: f.device.ID, PhoneNumber: "5511999"}
	f.mem.contacts[contact.ID] = contact
	base := "/v1/devices/" + f.device.ID.String() + "/scheduled-messages"

	rec := f.do(t, http.MethodPost, base, "", map[string]any{
		"contact_id":   contact.ID.String(),
		"scheduled_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		"content":      "reminder",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body)
	}
	var created store.ScheduledMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = f.do(t, http.MethodPost, base, "", map[string]any{
		"contact_id":   contact.ID.String(),
		"scheduled_at": time.Now().Format(time.RFC3339),
		"content":      "x",
		"is_recurring": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("recurring without cron: status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/v1/scheduled-messages/"+created.ID.String(), "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: status = %d", rec.Code)
	}
	if !f.mem.scheduled[created.ID].IsCancelled {
		t.Error("message not cancelled")
	}

	rec = f.do(t, http.MethodGet, base+"?pending=true", "", nil)
	var listed struct {
		Messages []store.ScheduledMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Messages) != 0 {
		t.Errorf("pending list has %d entries after cancel", len(listed.Messages))
	}
}

func TestServer_Health(t *testing.T) {
	f := newAPIFixture("secret")
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health must not require auth, status = %d", rec.Code)
	}
}
