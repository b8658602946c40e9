package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omnira-ai/analogic/internal/storage"
)

// handleCreateSession opens a conversation context session, or returns
// the existing one when the key is already active.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := s.memories.CreateSession(r.Context(), req.UserID, req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": session})
}

// handleUpdateSession merges new context data into a session document and
// bumps its message count.
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID   string                 `json:"session_id"`
		ContextData map[string]interface{} `json:"context_data"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.memories.UpdateSessionContext(r.Context(), req.SessionID, req.ContextData); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"success": false,
				"error":   "Session not found.",
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Session context updated."})
}

// handleGetSession returns the decrypted context document for a session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionKey := chi.URLParam(r, "sessionKey")

	session, err := s.memories.GetSessionContext(r.Context(), sessionKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": session.SessionKey,
		"context":    session.Context,
	})
}
