package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

type scheduledMessageRequest struct {
	ContactID      uuid.UUID `json:"contact_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	ContentType    string    `json:"content_type"`
	Content        string    `json:"content"`
	MediaURL       string    `json:"media_url"`
	IsRecurring    bool      `json:"is_recurring"`
	CronExpression string    `json:"cron_expression"`
}

func (s *Server) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "deviceID")
	if !ok {
		return
	}
	pendingOnly := r.URL.Query().Get("pending") == "true"
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	msgs, err := s.stores.Scheduled.ListForDevice(r.Context(), deviceID, pendingOnly, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleCreateScheduled(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "deviceID")
	if !ok {
		return
	}
	var req scheduledMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.ContactID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "contact_id is required")
		return
	}
	if req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}
	if req.Content == "" && req.MediaURL == "" {
		writeError(w, http.StatusBadRequest, "content or media_url is required")
		return
	}
	if req.IsRecurring && req.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "cron_expression is required for recurring messages")
		return
	}
	if _, err := s.stores.Contacts.Get(r.Context(), req.ContactID); err != nil {
		writeStoreError(w, err)
		return
	}

	msg := store.ScheduledMessage{
		DeviceID:       deviceID,
		ContactID:      req.ContactID,
		ScheduledAt:    req.ScheduledAt.UTC(),
		ContentType:    req.ContentType,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		IsRecurring:    req.IsRecurring,
		CronExpression: req.CronExpression,
	}
	if err := s.stores.Scheduled.Create(r.Context(), &msg); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.stores.Scheduled.Cancel(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
