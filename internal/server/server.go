package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/config"
	"github.com/tandemlabs/tandem-ai/internal/db"
	"github.com/tandemlabs/tandem-ai/internal/middleware"
	"github.com/tandemlabs/tandem-ai/internal/orchestrator"
)

// Package server exposes the tandem-ai REST, websocket, and gRPC health
// surfaces.
//
// Responsibilities:
//   - Serve the analysis API (analyze, run history, stats, config)
//   - Serve the operational endpoints (health, ready, info, metrics)
//   - Fan orchestrator progress events out to websocket subscribers
//   - Expose the standard gRPC health-checking protocol when enabled
//   - Shut down gracefully within the configured deadline
//
// Integration Points:
//   - Orchestrator: ProcessScenario, Stats, Health, Events
//   - Run-history store: run listing and retrieval (nil store disables
//     the runs routes)
//   - Middleware: rate limiting on the analyze route
//   - pkg/types: every response body is a wire contract type

// Version is the service version reported by /health and /info.
const Version = "0.1.0"

// Server hosts the HTTP and gRPC listeners.
type Server struct {
	cfg      *config.Config
	orch     orchestrator.Orchestrator
	store    db.Store
	auditLog audit.Logger

	httpServer *http.Server
	httpAddr   string
	limiter    *middleware.RateLimiter
	hub        *wsHub

	grpc *grpcHealth

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a server. A nil store disables the run-history
// routes; everything else is required.
func NewServer(cfg *config.Config, orch orchestrator.Orchestrator, store db.Store, auditLog audit.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if auditLog == nil {
		return nil, fmt.Errorf("audit logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		orch:     orch,
		store:    store,
		auditLog: auditLog,
		limiter:  middleware.NewRateLimiter(cfg.Server.RateLimitPerMin),
		hub:      newWSHub(ctx),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start binds the listeners and begins serving. It returns once the
// listeners are bound; serving continues in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to bind http listener: %w", err)
	}
	s.httpAddr = listener.Addr().String()

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.auditLog.Log(s.ctx, audit.NewEvent(audit.EventServerShutdown).
				WithError(err, "HTTP_SERVE_FAILED"))
		}
	}()

	go s.hub.run()
	s.wg.Add(1)
	go s.bridgeEvents()

	if s.cfg.GRPC.Enabled {
		g, err := startGRPCHealth(s.ctx, s.cfg, s.orch, s.auditLog, &s.wg)
		if err != nil {
			return fmt.Errorf("failed to start grpc health listener: %w", err)
		}
		s.grpc = g
	}

	s.auditLog.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithDescription(fmt.Sprintf("listening on %s", s.httpAddr)).
		WithResult(audit.ResultSuccess))
	return nil
}

// Stop drains connections and stops serving. Waits at most the
// configured shutdown timeout for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.grpc != nil {
		s.grpc.stop()
	}

	if s.httpServer != nil {
		timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.httpServer.Close()
		}
	}

	s.cancel()
	s.limiter.Stop()
	s.wg.Wait()

	s.auditLog.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
		WithResult(audit.ResultSuccess))
	s.auditLog.Sync()
	return nil
}

// Addr returns the bound HTTP address, valid after Start.
func (s *Server) Addr() string {
	return s.httpAddr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// bridgeEvents forwards orchestrator progress events to the websocket
// hub until the server stops.
func (s *Server) bridgeEvents() {
	defer s.wg.Done()

	sub := s.orch.Events().Subscribe()
	defer s.orch.Events().Unsubscribe(sub.ID)

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			s.hub.broadcastEvent(ev)
		}
	}
}

// registerHandlers wires every route onto mux.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Analysis API
	mux.HandleFunc("/api/v1/analyze", s.limiter.Middleware(s.handleAnalyze))
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/config", s.handleConfig)

	// Run history, only when a store is configured
	if s.store != nil {
		mux.HandleFunc("/api/v1/runs", s.handleRuns)
		mux.HandleFunc("/api/v1/runs/", s.handleRunByID)
	}

	// Operational endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/info", s.handleInfo)
	mux.Handle("/metrics", promhttp.Handler())

	// Event stream
	mux.HandleFunc("/ws", s.handleWebSocket)
}
