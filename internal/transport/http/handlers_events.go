package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"evault/internal/events"
	dErrors "evault/pkg/domain-errors"
	"evault/pkg/platform/httputil"
)

// keepAliveInterval bounds how long an idle SSE connection goes without
// traffic, so proxies don't reap it.
const keepAliveInterval = 15 * time.Second

// EventsHandler streams session lifecycle events over SSE. Delivery is
// lossy at-most-once; clients needing ground truth poll the status endpoint.
type EventsHandler struct {
	broadcaster *events.Broadcaster
}

func NewEventsHandler(b *events.Broadcaster) *EventsHandler {
	return &EventsHandler{broadcaster: b}
}

func (h *EventsHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.broadcaster.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
