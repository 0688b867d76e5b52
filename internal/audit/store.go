package audit

import (
	"context"

	"evault/pkg/domain"
)

// Store is the append-only persistence surface for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySession(ctx context.Context, sessionID domain.SessionID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
