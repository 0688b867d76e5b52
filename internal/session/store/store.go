// Package store persists session mirror rows. Implementations must make each
// status transition a per-row atomic compare-and-set (one guarded statement)
// so concurrent transitions for the same session serialize: exactly one wins
// and the loser observes ErrInvalidState.
package store

import (
	"context"
	"time"

	"evault/internal/session/models"
	"evault/pkg/domain"
	"evault/pkg/platform/sentinel"
)

// Store-level failures reuse the shared infrastructure sentinels; they are
// local to the mirror and never imply anything about ledger truth.
var (
	ErrNotFound     = sentinel.ErrNotFound
	ErrConflict     = sentinel.ErrConflict
	ErrInvalidState = sentinel.ErrInvalidState
)

// Store is the session mirror persistence interface.
type Store interface {
	// Save inserts a new row; ErrConflict if the ID already exists.
	Save(ctx context.Context, session *models.Session) error

	// FindByID returns a snapshot of the row; ErrNotFound if absent.
	FindByID(ctx context.Context, id domain.SessionID) (*models.Session, error)

	// MarkActive transitions Created -> Active and sets the vault ref.
	// ErrInvalidState if the row is not currently Created, so a stale or
	// replayed confirmation can never resurrect a revoked session.
	MarkActive(ctx context.Context, id domain.SessionID, vault domain.Address, now time.Time) (*models.Session, error)

	// MarkRevoked transitions to Revoked from any status that permits it.
	// ErrInvalidState from Revoked or Cleaned.
	MarkRevoked(ctx context.Context, id domain.SessionID, now time.Time) (*models.Session, error)

	// MarkExpired transitions Created/Active -> Expired.
	MarkExpired(ctx context.Context, id domain.SessionID, now time.Time) (*models.Session, error)

	// MarkCleaned transitions Revoked/Expired -> Cleaned (terminal).
	MarkCleaned(ctx context.Context, id domain.SessionID, now time.Time) (*models.Session, error)

	// UpdateTotals refreshes the cached deposit/spend totals from ledger
	// truth. Purely a display cache update; no status change.
	UpdateTotals(ctx context.Context, id domain.SessionID, deposited, spent uint64, now time.Time) (*models.Session, error)

	// ListUnswept returns every row the sweeper still owns, i.e. all rows
	// not yet Cleaned.
	ListUnswept(ctx context.Context) ([]*models.Session, error)
}
