package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"evault/internal/platform/middleware"
	"evault/pkg/platform/httputil"
	"evault/pkg/requestcontext"
)

// Middleware applies request limits ahead of the session handlers.
type Middleware struct {
	store    CounterStore
	logger   *slog.Logger
	limit    int
	window   time.Duration
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns rate limiting off entirely (tests, demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(store CounterStore, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		logger: logger,
		limit:  limit,
		window: window,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// LimitByIP caps requests per client IP. Used on unauthenticated routes.
func (m *Middleware) LimitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}
		m.check(w, r, next, "ip:"+requestcontext.ClientIP(r.Context()))
	})
}

// LimitByParent caps requests per authenticated parent identity, so one
// parent cannot mint sessions fast enough to crowd out others.
func (m *Middleware) LimitByParent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}
		parent := middleware.GetParentIdentity(r.Context())
		if parent == "" {
			// No identity yet; fall back to the IP key.
			parent = "ip:" + requestcontext.ClientIP(r.Context())
		} else {
			parent = "parent:" + parent
		}
		m.check(w, r, next, parent)
	})
}

func (m *Middleware) check(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	result, err := m.store.Allow(r.Context(), key, m.limit, m.window)
	if err != nil {
		// Fail open: a broken limiter must not take the service down.
		m.logger.Error("rate limit check failed", "error", err)
		next.ServeHTTP(w, r)
		return
	}

	addRateLimitHeaders(w, result)

	if !result.Allowed {
		retryAfter := int(time.Until(result.ResetAt).Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "rate_limit_exceeded",
			"message":     "Too many requests. Please try again later.",
			"retry_after": retryAfter,
		})
		return
	}

	next.ServeHTTP(w, r)
}

func addRateLimitHeaders(w http.ResponseWriter, result *Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
