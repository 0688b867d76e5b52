package audit

import (
	"context"
	"time"

	"evault/pkg/domain"
	"evault/pkg/requestcontext"
)

// Publisher hands events to the background worker without blocking the
// request path. A full inbox drops the event rather than stalling a
// custody operation; the trail is best-effort, the ledger is the record.
type Publisher struct {
	inbox chan<- Event
}

func NewPublisher(inbox chan<- Event) *Publisher {
	return &Publisher{inbox: inbox}
}

func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}

	select {
	case p.inbox <- event:
	default:
	}
}

// Reader exposes the per-session trail for the status endpoint.
type Reader struct {
	store Store
}

func NewReader(store Store) *Reader {
	return &Reader{store: store}
}

func (r *Reader) ListBySession(ctx context.Context, sessionID domain.SessionID) ([]Event, error) {
	return r.store.ListBySession(ctx, sessionID)
}
