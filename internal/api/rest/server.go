package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerOption configures the router
type ServerOption func(*serverConfig)

type serverConfig struct {
	metrics http.Handler
	health  Pinger
}

// WithMetrics serves h at /metrics
func WithMetrics(h http.Handler) ServerOption {
	return func(cfg *serverConfig) { cfg.metrics = h }
}

// WithHealth makes /health fail while p cannot be reached
func WithHealth(p Pinger) ServerOption {
	return func(cfg *serverConfig) { cfg.health = p }
}

// NewRouter mounts the handler under /api/v1 next to the health and
// metrics endpoints.
func NewRouter(h *Handler, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(h.logger))

	r.Route("/api/v1", h.RegisterRoutes)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.health.Ping(ctx); err != nil {
				h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.metrics != nil {
		r.Handle("/metrics", cfg.metrics)
	}
	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
