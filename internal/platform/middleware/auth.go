package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"evault/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator.
type JWTClaims struct {
	ParentIdentity string
}

type contextKeyParentIdentity struct{}

// ContextKeyParentIdentity is exported for use in handler tests.
var ContextKeyParentIdentity = contextKeyParentIdentity{}

// GetParentIdentity retrieves the authenticated parent identity from the
// context.
func GetParentIdentity(ctx context.Context) string {
	parent, ok := ctx.Value(ContextKeyParentIdentity).(string)
	if !ok {
		return ""
	}
	return parent
}

// WithParentIdentity injects a parent identity into a context. Useful for
// handler tests that don't run the full middleware chain.
func WithParentIdentity(ctx context.Context, parent string) context.Context {
	return context.WithValue(ctx, ContextKeyParentIdentity, parent)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated parent identity in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				unauthorized(w)
				return
			}

			ctx = WithParentIdentity(ctx, claims.ParentIdentity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
}
