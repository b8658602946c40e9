package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omnira-ai/analogic/internal/engine"
	"github.com/omnira-ai/analogic/internal/storage"
)

// handleStoreMemory encrypts and persists one memory, auto-linking it to
// entries that share its tags.
func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req engine.StoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.memories.Store(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.events.Broadcast(Event{Type: EventMemoryStored, Data: map[string]interface{}{
		"id":      result.ID,
		"user_id": req.UserID,
		"status":  result.Status,
	}})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": result})
}

// handleRecallMemory ranks memories against a query and returns the
// decrypted hits, most relevant first.
func (s *Server) handleRecallMemory(w http.ResponseWriter, r *http.Request) {
	var req engine.RecallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	memories, err := s.memories.Recall(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"count":    len(memories),
		"memories": memories,
	})
}

// handleGetMemory fetches one entry by ID. The user_id query parameter
// must name the entry's owner; foreign entries read as not found.
func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	memoryID := chi.URLParam(r, "memoryID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, fmt.Errorf("%w: user_id query parameter is required", storage.ErrInvalidInput))
		return
	}

	memory, err := s.memories.Get(r.Context(), memoryID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": memory})
}

// handleDeleteMemory soft-deletes an entry owned by the caller.
func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	memoryID := chi.URLParam(r, "memoryID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, fmt.Errorf("%w: user_id query parameter is required", storage.ErrInvalidInput))
		return
	}

	deleted, err := s.memories.Delete(r.Context(), memoryID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "Memory not found or already deleted.",
		})
		return
	}

	s.events.Broadcast(Event{Type: EventMemoryDeleted, Data: map[string]interface{}{
		"id":      memoryID,
		"user_id": userID,
	}})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Memory deleted."})
}

// handleUserStats summarizes a user's active memories.
func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stats, err := s.memories.UserStats(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user_id": userID,
		"stats":   stats,
	})
}
