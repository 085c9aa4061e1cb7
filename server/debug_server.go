// Package server hosts the debug HTTP endpoints of long-running nexusms
// commands: Prometheus metrics, pprof and the statsviz runtime dashboard.
package server

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/INLOpen/nexusms/config"
	"github.com/INLOpen/nexusms/metrics"
	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
)

// DebugServer manages the HTTP server for metrics and debugging.
type DebugServer struct {
	server  *http.Server
	mux     *http.ServeMux
	logger  *slog.Logger
	started bool
	mu      sync.Mutex
}

// NewDebugServer registers the endpoints enabled in cfg. A nil gatherer
// serves the default Prometheus registry.
func NewDebugServer(cfg *config.DebugConfig, gatherer prometheus.Gatherer, logger *slog.Logger) *DebugServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	logger = logger.With("component", "DebugServer")

	if cfg.PProfEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		logger.Info("pprof profiling endpoints enabled on /debug/pprof")
	}
	if cfg.MetricsEnabled {
		if gatherer != nil {
			mux.Handle("/metrics", metrics.HandlerFor(gatherer))
		} else {
			mux.Handle("/metrics", metrics.Handler())
		}
		mux.Handle("/debug/vars", expvar.Handler())
		logger.Info("Prometheus metrics endpoint enabled on /metrics")
	}
	if cfg.MonitorUIEnabled {
		if err := statsviz.Register(mux,
			statsviz.Root("/debug/viz"),
			statsviz.SendFrequency(250*time.Millisecond),
		); err != nil {
			logger.Warn("Failed to register statsviz.", "error", err)
		} else {
			logger.Info("Runtime dashboard available at /debug/viz")
		}
	}

	addr := cfg.ListenAddress
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	return &DebugServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		mux:    mux,
		logger: logger,
	}
}

// Handler exposes the mux, mainly for tests.
func (s *DebugServer) Handler() http.Handler { return s.mux }

// Start listens on the configured address. It's a blocking call.
func (s *DebugServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called.
func (s *DebugServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Debug server listening", "address", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Debug server failed", "error", err)
		return fmt.Errorf("debug server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *DebugServer) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Debug server shutdown failed", "error", err)
	} else {
		s.logger.Info("Debug server stopped gracefully.")
	}
}
