package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/inovadata/whatsman/internal/store"
)

type ignoreRuleRequest struct {
	Type    store.IgnoreRuleType `json:"type"`
	Pattern string               `json:"pattern"`
	Reason  string               `json:"reason"`
}

func (s *Server) handleListIgnoreRules(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "deviceID")
	if !ok {
		return
	}
	rules, err := s.stores.IgnoreRules.ForDevice(r.Context(), deviceID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (s *Server) handleCreateIgnoreRule(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "deviceID")
	if !ok {
		return
	}
	var req ignoreRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	switch req.Type {
	case store.IgnoreRuleContact, store.IgnoreRuleGroup, store.IgnoreRuleKeyword:
	default:
		writeError(w, http.StatusBadRequest, "type must be contact, group or keyword")
		return
	}
	if req.Pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	// Reject patterns the matcher would silently skip.
	if _, err := regexp.Compile("(?i)" + req.Pattern); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern: "+err.Error())
		return
	}

	rule := store.IgnoreRule{
		DeviceID: deviceID,
		Type:     req.Type,
		Pattern:  req.Pattern,
		Reason:   req.Reason,
	}
	if err := s.stores.IgnoreRules.Create(r.Context(), &rule); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleDeleteIgnoreRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.stores.IgnoreRules.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
