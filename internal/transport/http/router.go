package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evault/internal/platform/metrics"
	"evault/internal/platform/middleware"
	"evault/internal/ratelimit"
	"evault/pkg/platform/httputil"
)

// HealthChecker reports readiness of one dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RouterConfig carries everything the router wires together.
type RouterConfig struct {
	Sessions  *Handler
	Events    *EventsHandler
	Validator middleware.JWTValidator
	RateLimit *ratelimit.Middleware
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Checks maps a dependency name to its health probe. Optional.
	Checks map[string]HealthChecker
}

// NewRouter assembles the full route tree with the shared middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Latency(cfg.Metrics))
	}

	r.Get("/health", handleHealth(cfg.Checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.Validator, cfg.Logger))

		r.Group(func(r chi.Router) {
			if cfg.RateLimit != nil {
				r.Use(cfg.RateLimit.LimitByParent)
			}
			r.Post("/session/create", cfg.Sessions.handleCreate)
		})

		r.Post("/account/fund", cfg.Sessions.handleFund)
		r.Post("/session/approve", cfg.Sessions.handleApprove)
		r.Delete("/session/revoke", cfg.Sessions.handleRevoke)
		r.Get("/session/status", cfg.Sessions.handleStatus)
		r.Post("/session/deposit", cfg.Sessions.handleDeposit)
		r.Post("/session/trade", cfg.Sessions.handleTrade)
		r.Get("/session/events", cfg.Events.handleEvents)
	})

	return r
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.Health(ctx); err != nil {
				deps[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		body := map[string]any{"status": "ok"}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}
		httputil.WriteJSON(w, status, body)
	}
}
