// Package api serves a run's progress, preflight result and metrics over HTTP
// while the run is in flight.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"regshots/internal/health"
	"regshots/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Tracker   *Tracker
	Preflight *health.Response
	Metrics   *observability.Metrics
	APIKey    string // Protects /v1/run when set
}

// NewRouter creates the HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Preflight == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "preflight not run"})
			return
		}
		status := http.StatusOK
		if !cfg.Preflight.Usable() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, cfg.Preflight)
	})
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	if cfg.Tracker != nil {
		mux.Handle("GET /v1/run", AuthMiddleware(cfg.APIKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, cfg.Tracker.Snapshot())
		})))
	}

	var h http.Handler = mux
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)
	return h
}

// Server is a running status server.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// Start listens on addr and serves handler in the background. Listening
// happens before Start returns, so a busy port is reported here.
func Start(addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		srv: &http.Server{
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		listener: ln,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status server failed", "error", err)
		}
	}()
	slog.Info("Status server listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
