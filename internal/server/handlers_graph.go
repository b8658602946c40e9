package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/omnira-ai/analogic/internal/storage"
)

// handleAssociate creates a typed edge between two memories, or reinforces
// it when it already exists.
func (s *Server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceMemoryID  string   `json:"source_memory_id"`
		TargetMemoryID  string   `json:"target_memory_id"`
		AssociationType string   `json:"association_type"`
		Strength        *float64 `json:"strength"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	strength := 0.5
	if req.Strength != nil {
		strength = *req.Strength
	}

	assoc, err := s.graph.CreateOrUpdate(r.Context(), req.SourceMemoryID, req.TargetMemoryID, req.AssociationType, strength)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "association": assoc})
}

// handleGraph lists a memory's edges and the context subgraph around it.
// Omitting min_strength applies the default threshold; direction defaults
// to both.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	memoryID := chi.URLParam(r, "memoryID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, fmt.Errorf("%w: user_id query parameter is required", storage.ErrInvalidInput))
		return
	}

	filter := storage.AssociationFilter{
		MemoryID:  memoryID,
		Direction: storage.Direction(r.URL.Query().Get("direction")),
	}
	if raw := r.URL.Query().Get("min_strength"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: min_strength must be a number", storage.ErrInvalidInput))
			return
		}
		filter.MinStrength = v
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: limit must be an integer", storage.ErrInvalidInput))
			return
		}
		filter.Limit = v
	}

	associations, err := s.graph.ListFor(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	graphContext, err := s.graph.BuildContext(r.Context(), userID, []string{memoryID})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"memory_id":     memoryID,
		"associations":  associations,
		"graph_context": graphContext,
	})
}
