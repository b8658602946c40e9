package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/omnira-ai/analogic/internal/storage"
)

// handleRunBackup triggers an on-demand snapshot at the requested tier,
// optionally scoped to one user.
func (s *Server) handleRunBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BackupType string `json:"backup_type"`
		UserID     string `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BackupType == "" {
		req.BackupType = "primary"
	}

	record, err := s.backups.Run(r.Context(), req.BackupType, req.UserID)
	if err != nil {
		s.events.Broadcast(Event{Type: EventBackupFailed, Data: map[string]interface{}{
			"tier":  req.BackupType,
			"error": err.Error(),
		}})
		writeError(w, r, err)
		return
	}

	s.events.Broadcast(Event{Type: EventBackupCompleted, Data: map[string]interface{}{
		"id":           record.ID,
		"tier":         record.Tier,
		"record_count": record.RecordCount,
	}})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "backup": record})
}

// handleListBackups returns catalog rows, newest first. The limit must be
// within 1..100 and defaults to 20.
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	tier := r.URL.Query().Get("backup_type")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 100 {
			writeError(w, r, fmt.Errorf("%w: limit must be an integer between 1 and 100", storage.ErrInvalidInput))
			return
		}
		limit = v
	}

	records, err := s.backups.List(r.Context(), tier, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(records),
		"backups": records,
	})
}

// handleRestoreBackup imports a snapshot resolved from a catalog row or a
// raw artifact path. Existing rows are never overwritten.
func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BackupID   string `json:"backup_id"`
		BackupPath string `json:"backup_path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.backups.Restore(r.Context(), req.BackupID, req.BackupPath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "restore": result})
}

// handleVerifyBackup re-checks a cataloged artifact against its recorded
// checksum without importing anything.
func (s *Server) handleVerifyBackup(w http.ResponseWriter, r *http.Request) {
	backupID := chi.URLParam(r, "backupID")

	result, err := s.backups.Verify(r.Context(), backupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "verification": result})
}
