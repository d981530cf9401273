package httpapi

import (
	"net/http"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "deviceID")
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	convs, err := s.stores.Conversations.ListForDevice(r.Context(), deviceID, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (s *Server) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.stores.Conversations.Close(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
