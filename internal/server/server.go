package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/cigraph/pkg/client"
	"github.com/sanonone/cigraph/pkg/explorer"
	"github.com/sanonone/cigraph/pkg/graph"
	"github.com/sanonone/cigraph/pkg/profile"
)

// Backends are the collaborators built from a Config: the CMDB client and
// the filter profile backend it selects.
type Backends struct {
	Client   *client.Client
	Profiles profile.Backend

	store *profile.FileStore
}

// OpenBackends builds the CMDB client and opens the profile store.
func OpenBackends(cfg *Config) (*Backends, error) {
	c, err := client.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	b := &Backends{Client: c, Profiles: c}

	if cfg.Profiles.Store == ProfileStoreFile {
		store, err := profile.OpenFileStore(cfg.Profiles.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open profile store: %w", err)
		}
		b.store = store
		b.Profiles = store
		slog.Info("Filter profiles stored locally", "journal", cfg.Profiles.JournalPath)
	}
	return b, nil
}

// Close releases the local profile store, if any.
func (b *Backends) Close() error {
	if b.store == nil {
		return nil
	}
	if err := b.store.Compact(); err != nil {
		slog.Warn("Profile journal compaction failed", "error", err)
	}
	return b.store.Close()
}

// Server holds the HTTP interface over the explorer sessions.
type Server struct {
	cfg      *Config
	manager  *explorer.Manager
	profiles *profile.Service

	handler    http.Handler
	httpServer *http.Server
}

// NewServer wires the HTTP API on top of a graph backend and a profile backend.
func NewServer(cfg *Config, q graph.Querier, profiles profile.Backend) *Server {
	s := &Server{
		cfg:      cfg,
		manager:  explorer.NewManager(q, cfg.Explorer),
		profiles: profile.NewService(profiles),
	}

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain middlewares: Recovery -> Logging -> CORS -> Auth -> Mux
	// Recovery must be outer-most to catch everything.
	var handler http.Handler = mux

	// 1. Auth (Inner)
	handler = s.AuthMiddleware(handler)

	// 2. CORS - answers preflights before auth
	handler = s.CORSMiddleware(handler)

	// 3. Logging - Logs duration and status
	handler = s.LoggingMiddleware(handler)

	// 4. Recovery (Outer) - Catches panics
	handler = s.RecoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)

	s.handler = rootMux
	s.httpServer = &http.Server{
		Addr:    cfg.Listen,
		Handler: rootMux,
	}
	return s
}

// Handler exposes the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Manager returns the session manager behind the API.
func (s *Server) Manager() *explorer.Manager {
	return s.manager
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and drops every session.
// It does NOT close the backends (main.go owns them).
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Starting graceful shutdown of HTTP server")

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	s.manager.Close()
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Len(),
	})
}
