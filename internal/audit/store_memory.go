package audit

import (
	"context"
	"sync"

	"evault/pkg/domain"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.SessionID][]Event
	order  []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[domain.SessionID][]Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[domain.SessionID][]Event)
	s.order = nil
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	s.order = append(s.order, event)
	return nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID domain.SessionID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[sessionID]...), nil
}

// ListRecent returns the most recent N events across all sessions.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.order) - limit
	if start < 0 {
		start = 0
	}
	return append([]Event{}, s.order[start:]...), nil
}
