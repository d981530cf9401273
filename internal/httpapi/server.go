// Package httpapi exposes the management REST API and the gateway webhook.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/bus"
	"github.com/inovadata/whatsman/internal/store"
)

// Server routes management requests and webhook deliveries.
type Server struct {
	addr   string
	token  string
	stores *store.Stores
	queue  *bus.Queue
	mux    *http.ServeMux
	now    func() time.Time
}

func NewServer(addr, token string, stores *store.Stores, queue *bus.Queue) *Server {
	s := &Server{
		addr:   addr,
		token:  token,
		stores: stores,
		queue:  queue,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Webhook is authenticated by the gateway's own shared token, not the
	// management bearer token.
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /v1/devices/{deviceID}/agents", s.auth(s.handleListAgents))
	s.mux.HandleFunc("POST /v1/devices/{deviceID}/agents", s.auth(s.handleCreateAgent))
	s.mux.HandleFunc("GET /v1/agents/{id}", s.auth(s.handleGetAgent))
	s.mux.HandleFunc("PUT /v1/agents/{id}", s.auth(s.handleUpdateAgent))
	s.mux.HandleFunc("DELETE /v1/agents/{id}", s.auth(s.handleDeleteAgent))

	s.mux.HandleFunc("GET /v1/devices/{deviceID}/ignore-rules", s.auth(s.handleListIgnoreRules))
	s.mux.HandleFunc("POST /v1/devices/{deviceID}/ignore-rules", s.auth(s.handleCreateIgnoreRule))
	s.mux.HandleFunc("DELETE /v1/ignore-rules/{id}", s.auth(s.handleDeleteIgnoreRule))

	s.mux.HandleFunc("GET /v1/devices/{deviceID}/scheduled-messages", s.auth(s.handleListScheduled))
	s.mux.HandleFunc("POST /v1/devices/{deviceID}/scheduled-messages", s.auth(s.handleCreateScheduled))
	s.mux.HandleFunc("DELETE /v1/scheduled-messages/{id}", s.auth(s.handleCancelScheduled))

	s.mux.HandleFunc("GET /v1/devices/{deviceID}/conversations", s.auth(s.handleListConversations))
	s.mux.HandleFunc("POST /v1/conversations/{id}/close", s.auth(s.handleCloseConversation))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && bearerToken(r) != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps ErrNotFound to 404, everything else to 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"queue_depth": s.queue.Len(),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev bus.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if ev.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	s.queue.Publish(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
