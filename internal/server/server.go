// Package server exposes the journal, stress runner, and fan-out bus
// over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/mcptap/internal/bus"
	"github.com/haasonsaas/mcptap/internal/config"
	"github.com/haasonsaas/mcptap/internal/journal"
	"github.com/haasonsaas/mcptap/internal/observability"
	"github.com/haasonsaas/mcptap/internal/stress"
)

// Server is the HTTP/WS control surface.
type Server struct {
	cfg     *config.Config
	store   *journal.Store
	hub     *bus.Bus
	runner  *stress.Runner
	metrics *observability.Metrics
	logger  *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New assembles a server over its collaborators. All handles are
// injected; nothing is global.
func New(cfg *config.Config, store *journal.Store, hub *bus.Bus, runner *stress.Runner, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		runner:  runner,
		metrics: metrics,
		logger:  logger.With("component", "server"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)

	mux.HandleFunc("POST /api/projects/{id}/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /api/projects/{id}/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)

	mux.HandleFunc("POST /api/agents/{id}/stress", s.handleLaunchStress)
	mux.HandleFunc("GET /api/agents/{id}/stress/latest", s.handleLatestStress)

	mux.HandleFunc("POST /api/notify", s.handleNotify)

	mux.HandleFunc("GET /ws", s.handleWS)

	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", addr)
	return nil
}

// Addr is the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
