package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/omnira-ai/analogic/internal/backup"
	"github.com/omnira-ai/analogic/internal/crypto"
	"github.com/omnira-ai/analogic/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

// writeError renders the failure envelope for err. Unclassified errors are
// logged server-side and reported opaquely so internals never reach clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("server: %s %s failed: %v", r.Method, r.URL.Path, err)
		message = "An internal error occurred."
	}
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, crypto.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrIntegrity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

// recovererJSON converts handler panics into the opaque 500 envelope.
func recovererJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil && rec != http.ErrAbortHandler {
				log.Printf("server: panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
					"success": false,
					"error":   "An internal error occurred.",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies a global token-bucket limit shared by all clients.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"success": false,
				"error":   "Rate limit exceeded. Please slow down.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth validates the X-API-Token header against the configured
// token's hash. Development mode with no token configured runs open;
// every other combination requires a matching token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == "" {
			if s.cfg.Security.Mode == "development" {
				next.ServeHTTP(w, r)
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"error":   "API token is not configured.",
			})
			return
		}

		token := r.Header.Get("X-API-Token")
		if token == "" || !crypto.VerifyToken(token, s.tokenHash) {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"error":   "Invalid or missing API token.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
