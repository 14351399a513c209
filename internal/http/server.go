// Package http serves the operational HTTP endpoints: health and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridzer0/threadbot/internal/channels"
)

// HealthSource reports channel state; satisfied by *channels.Manager.
type HealthSource interface {
	Status() []channels.ChannelStatus
	Healthy() bool
}

type healthResponse struct {
	Status     string                   `json:"status"`
	Version    string                   `json:"version,omitempty"`
	ConfigHash string                   `json:"config_hash,omitempty"`
	Uptime     string                   `json:"uptime"`
	Channels   []channels.ChannelStatus `json:"channels"`
}

// Server exposes /healthz and /metrics.
type Server struct {
	addr       string
	health     HealthSource
	registry   *prometheus.Registry
	version    string
	configHash string
	started    time.Time
}

// NewServer creates a server. registry may be nil to omit /metrics.
func NewServer(addr string, health HealthSource, registry *prometheus.Registry, version, configHash string) *Server {
	return &Server{
		addr:       addr,
		health:     health,
		registry:   registry,
		version:    version,
		configHash: configHash,
		started:    time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http: shutdown", "error", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Version:    s.version,
		ConfigHash: s.configHash,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Channels:   []channels.ChannelStatus{},
	}
	status := http.StatusOK
	if s.health != nil {
		if st := s.health.Status(); st != nil {
			resp.Channels = st
		}
		if !s.health.Healthy() {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
