// Package ops serves the operational HTTP endpoints: a health probe and
// the Prometheus scrape target.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/askbot/internal/metrics"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config configures the ops server.
type Config struct {
	Addr            string // e.g. ":9090"
	MetricsUsername string
	MetricsPassword string
	ShutdownTimeout time.Duration
}

// Server is the ops HTTP server.
type Server struct {
	server *http.Server
	config Config
	logger *slog.Logger
}

// New builds the server. health may be nil.
func New(config Config, health HealthCheck, logger *slog.Logger) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	return &Server{
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           Handler(config, health, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// Handler returns the routed ops handler.
func Handler(config Config, health HealthCheck, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	metricsAuth := BasicAuth(config.MetricsUsername, config.MetricsPassword, "metrics")
	mux.Handle("GET /metrics", metricsAuth(promhttp.Handler()))

	stack := Stack(SecurityHeaders, metrics.Middleware, RequestLogging(logger))
	return stack(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops server started", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	s.logger.Info("Ops server stopped")
	return nil
}
