package audit

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Sink receives serialized events for export off-process. The Kafka
// producer satisfies this.
type Sink interface {
	Produce(ctx context.Context, key, value []byte) error
}

// Worker consumes audit events from a channel and persists them, forwarding
// to the export sink when one is configured. Persistence is best-effort:
// store and sink failures are logged and skipped, since a flaky database or
// broker must not take the API down with it.
type Worker struct {
	store  Store
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

type WorkerOption func(*Worker)

func WithSink(sink Sink) WorkerOption {
	return func(w *Worker) {
		w.sink = sink
	}
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{store: store, inbox: inbox, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("persist audit event", "error", err, "action", event.Action)
			}
			if w.sink != nil {
				w.export(ctx, event)
			}
		}
	}
}

func (w *Worker) export(ctx context.Context, event Event) {
	value, err := json.Marshal(event)
	if err != nil {
		w.logger.Error("marshal audit event", "error", err)
		return
	}
	key := []byte(event.SessionID.String())
	if err := w.sink.Produce(ctx, key, value); err != nil {
		w.logger.Error("export audit event", "error", err, "action", event.Action)
	}
}
