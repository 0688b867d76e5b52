// Package events provides the live notification fan-out for session lifecycle
// transitions. Delivery is lossy and at-most-once by design: each subscriber
// gets a bounded buffer and events are dropped rather than blocking the
// publisher. Durable state lives in the ledger and the mirror store, not
// here; a disconnected subscriber loses events with no replay.
package events

import (
	"sync"

	"evault/internal/session/models"
)

// Type labels a session lifecycle transition.
type Type string

const (
	TypeCreated Type = "created"
	TypeActive  Type = "active"
	TypeRevoked Type = "revoked"
	TypeExpired Type = "expired"
)

// SessionEvent carries the full session snapshot at the time of transition.
type SessionEvent struct {
	Type    Type           `json:"type"`
	Session models.Session `json:"data"`
}

// DefaultSubscriberBuffer bounds each subscriber's backlog. A slow consumer
// drops events once its buffer is full.
const DefaultSubscriberBuffer = 64

// Broadcaster fans session events out to live subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan SessionEvent
	buffer int
	closed bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithSubscriberBuffer overrides the per-subscriber buffer size.
func WithSubscriberBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:   make(map[int]chan SessionEvent),
		buffer: DefaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. The channel is closed on cancel or broadcaster shutdown.
func (b *Broadcaster) Subscribe() (<-chan SessionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan SessionEvent)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan SessionEvent, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every live subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Broadcaster) Publish(event SessionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; at-most-once means we drop.
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the broadcaster down and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
