// Package ratelimit protects the session endpoints from abuse. Limits are
// keyed per parent identity for authenticated routes and per client IP
// otherwise.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// CounterStore counts requests per key within a window. Implementations must
// be safe for concurrent use.
type CounterStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	Reset(ctx context.Context, key string) error
}
