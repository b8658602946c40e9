// Package server exposes the memory system over HTTP: a JSON API under
// /api/v1, liveness endpoints, and a WebSocket event feed at /ws/events.
// Responses are envelopes with a "success" field; failures carry a
// human-readable "error" message and a mapped status code.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/omnira-ai/analogic/internal/analogic"
	"github.com/omnira-ai/analogic/internal/backup"
	"github.com/omnira-ai/analogic/internal/config"
	"github.com/omnira-ai/analogic/internal/crypto"
	"github.com/omnira-ai/analogic/internal/engine"
	"github.com/omnira-ai/analogic/internal/storage"
)

// apiVersion is reported by the root and health endpoints.
const apiVersion = "1.0.0"

// Server routes HTTP traffic to the memory engine, the association graph
// and the backup engine. It implements http.Handler; Start owns the
// listener lifecycle for production use.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	memories *engine.MemoryEngine
	graph    *analogic.Graph
	backups  *backup.Engine
	events   *EventHub

	router    chi.Router
	limiter   *rate.Limiter
	tokenHash string
	done      chan struct{}
}

// New assembles the router, middleware chain and event hub. The hub loop
// is started by Start; tests driving ServeHTTP directly can run it
// themselves when they need broadcasts delivered.
func New(cfg *config.Config, store storage.Store, memories *engine.MemoryEngine, graph *analogic.Graph, backups *backup.Engine) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		memories: memories,
		graph:    graph,
		backups:  backups,
		events:   NewEventHub(cfg.Server.AllowedOrigins),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Server.RatePerSec), cfg.Server.RateBurst),
		done:     make(chan struct{}),
	}
	if cfg.Security.APIToken != "" {
		// Hash once at startup; requests are verified against the hash.
		s.tokenHash = crypto.HashToken(cfg.Security.APIToken)
	}
	s.routes()
	return s
}

// Events returns the hub so background jobs can publish without going
// through a handler.
func (s *Server) Events() *EventHub { return s.events }

// Done is closed once a Start-ed server has finished shutting down.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(recovererJSON)
	r.Use(securityHeaders)
	r.Use(s.rateLimit)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	// Origin validation stands in for token auth on the event feed.
	r.Get("/ws/events", s.events.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/memory/store", s.handleStoreMemory)
		r.Post("/memory/recall", s.handleRecallMemory)
		r.Get("/memory/stats/{userID}", s.handleUserStats)
		r.Post("/memory/session/create", s.handleCreateSession)
		r.Post("/memory/session/update", s.handleUpdateSession)
		r.Get("/memory/session/{sessionKey}", s.handleGetSession)
		r.Get("/memory/{memoryID}", s.handleGetMemory)
		r.Delete("/memory/{memoryID}", s.handleDeleteMemory)

		r.Post("/analogic/associate", s.handleAssociate)
		r.Get("/analogic/graph/{memoryID}", s.handleGraph)

		r.Post("/backup/run", s.handleRunBackup)
		r.Get("/backup/list", s.handleListBackups)
		r.Post("/backup/restore", s.handleRestoreBackup)
		r.Get("/backup/verify/{backupID}", s.handleVerifyBackup)
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on the configured host and port and serves until ctx is
// cancelled, then shuts down gracefully. It returns the bound address so
// callers using port 0 can discover the real port.
func (s *Server) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	go s.events.Run()

	httpServer := &http.Server{
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		s.events.Stop()
		close(s.done)
	}()

	actual := listener.Addr().String()
	log.Printf("server: listening on %s (mode: %s)", actual, s.cfg.Security.Mode)
	return actual, nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"system":   "Analogic Memory System",
		"version":  apiVersion,
		"status":   "operational",
		"ai_agent": "Omnira Synora",
	})
}

// handleHealth pings the store. A degraded store still answers 200 so
// monitors can tell "reachable but unhappy" from "down".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	database := "connected"
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		database = "error: " + err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"database": database,
		"version":  apiVersion,
	})
}
