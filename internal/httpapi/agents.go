package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/inovadata/whatsman/internal/store"
)

type agentRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        store.AgentType `json:"type"`
	Config      json.RawMessage `json:"config"`
	IsActive    *bool           `json:"is_active"`
	Priority    int             `json:"priority"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "deviceID")
	if !ok {
		return
	}
	agents, err := s.stores.Agents.ListForDevice(r.Context(), deviceID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "deviceID")
	if !ok {
		return
	}
	if _, err := s.stores.Devices.Get(r.Context(), deviceID); err != nil {
		writeStoreError(w, err)
		return
	}

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown agent type")
		return
	}

	agent := store.Agent{
		DeviceID:    deviceID,
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Config:      req.Config,
		IsActive:    req.IsActive == nil || *req.IsActive,
		Priority:    req.Priority,
	}
	if err := s.stores.Agents.Create(r.Context(), &agent); err != nil {
		writeStoreError(w, err)
		return
	}
	s.bootstrapVideoJob(r, &agent)
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	agent, err := s.stores.Agents.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	agent, err := s.stores.Agents.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name != "" {
		agent.Name = req.Name
	}
	if req.Type != "" {
		if !req.Type.Valid() {
			writeError(w, http.StatusBadRequest, "unknown agent type")
			return
		}
		agent.Type = req.Type
	}
	agent.Description = req.Description
	if req.Config != nil {
		agent.Config = req.Config
	}
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}
	agent.Priority = req.Priority

	if err := s.stores.Agents.Update(r.Context(), agent); err != nil {
		writeStoreError(w, err)
		return
	}
	s.bootstrapVideoJob(r, agent)
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.stores.VideoJobs.DeleteForAgent(r.Context(), id); err != nil {
		slog.Warn("video job cleanup failed", "agent", id, "error", err)
	}
	if err := s.stores.Agents.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bootstrapVideoJob ensures an active video_distributor agent has a cadence
// row so the job runner picks it up. The first run is due immediately; the
// runner's own active-hours check gates the actual send.
func (s *Server) bootstrapVideoJob(r *http.Request, agent *store.Agent) {
	if agent.Type != store.AgentTypeVideoDistributor || !agent.IsActive {
		return
	}
	if _, err := s.stores.VideoJobs.GetOrCreate(r.Context(), agent.ID, s.now()); err != nil {
		slog.Error("video job bootstrap failed", "agent", agent.ID, "error", err)
	}
}
