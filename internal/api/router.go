// Package api assembles the portal HTTP router.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxportal/internal/api/handlers"
	"github.com/drfirst/go-rxportal/internal/api/middleware"
	"github.com/drfirst/go-rxportal/pkg/circuitbreaker"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter lists circuit breaker health
type BreakerReporter interface {
	HealthStatus() []circuitbreaker.HealthStatus
}

// RouterConfig holds router dependencies
type RouterConfig struct {
	ServiceName    string
	Submitter      handlers.Submitter
	Lister         handlers.SubmissionLister
	Ready          Pinger
	Breakers       BreakerReporter
	Metrics        http.Handler
	AllowedOrigins []string
	AdminAPIKey    string
	MaxBodyBytes   int64
	Logger         *zap.Logger
}

// NewRouter returns the portal routes
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		breakers := []circuitbreaker.HealthStatus{}
		if cfg.Breakers != nil {
			breakers = cfg.Breakers.HealthStatus()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "healthy",
			"service":  cfg.ServiceName,
			"breakers": breakers,
		})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ready"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.MaxBodyBytes > 0 {
				r.Use(middleware.MaxBody(cfg.MaxBodyBytes))
			}
			r.Mount("/", handlers.NewSubmissionHandler(cfg.Submitter, logger).Routes())
		})
		if cfg.Lister != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.APIKeyAuth(cfg.AdminAPIKey))
				r.Mount("/", handlers.NewAdminHandler(cfg.Lister, logger).Routes())
			})
		}
	})

	return r
}
