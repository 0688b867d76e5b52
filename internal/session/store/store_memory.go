package store

import (
	"context"
	"sync"
	"time"

	"evault/internal/session/models"
	"evault/pkg/domain"
)

// InMemoryStore keeps mirror rows in a map guarded by one mutex, which makes
// every transition trivially a per-row atomic compare-and-set. It is the
// default for tests and single-process deployments; use PostgresStore when
// rows must survive restarts.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*models.Session
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[domain.SessionID]*models.Session)}
}

func (s *InMemoryStore) Save(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (s *InMemoryStore) MarkActive(_ context.Context, id domain.SessionID, vault domain.Address, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if session.Status != models.StatusCreated {
		return nil, ErrInvalidState
	}
	session.Status = models.StatusActive
	session.VaultRef = &vault
	session.LastActivity = now
	return session.Clone(), nil
}

func (s *InMemoryStore) MarkRevoked(_ context.Context, id domain.SessionID, now time.Time) (*models.Session, error) {
	return s.transition(id, models.StatusRevoked, now)
}

func (s *InMemoryStore) MarkExpired(_ context.Context, id domain.SessionID, now time.Time) (*models.Session, error) {
	return s.transition(id, models.StatusExpired, now)
}

func (s *InMemoryStore) MarkCleaned(_ context.Context, id domain.SessionID, now time.Time) (*models.Session, error) {
	return s.transition(id, models.StatusCleaned, now)
}

func (s *InMemoryStore) transition(id domain.SessionID, to models.Status, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !session.Status.CanTransitionTo(to) {
		return nil, ErrInvalidState
	}
	session.Status = to
	session.LastActivity = now
	return session.Clone(), nil
}

func (s *InMemoryStore) UpdateTotals(_ context.Context, id domain.SessionID, deposited, spent uint64, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	session.TotalDeposited = deposited
	session.TotalSpent = spent
	session.LastActivity = now
	return session.Clone(), nil
}

func (s *InMemoryStore) ListUnswept(_ context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if session.Status != models.StatusCleaned {
			out = append(out, session.Clone())
		}
	}
	return out, nil
}
