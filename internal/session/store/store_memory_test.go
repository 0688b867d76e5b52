package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"evault/internal/session/models"
	"evault/pkg/domain"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
}

func (s *MemoryStoreSuite) newSession() *models.Session {
	return &models.Session{
		ID:             domain.NewSessionID(),
		ParentIdentity: domain.Identity{0xAA},
		Status:         models.StatusCreated,
		SessionStart:   time.Now(),
		SessionExpiry:  time.Now().Add(time.Hour),
		MaxDeposit:     100_000,
	}
}

func (s *MemoryStoreSuite) TestSaveAndFind() {
	s.Run("round trips a row", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))

		got, err := s.store.FindByID(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(session.ID, got.ID)
		s.Equal(models.StatusCreated, got.Status)
	})

	s.Run("duplicate save conflicts", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))
		s.ErrorIs(s.store.Save(s.ctx, session), ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, domain.NewSessionID())
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("snapshots are isolated from caller mutation", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))
		session.Status = models.StatusCleaned

		got, err := s.store.FindByID(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCreated, got.Status)

		got.MaxDeposit = 0
		again, err := s.store.FindByID(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(uint64(100_000), again.MaxDeposit)
	})
}

func (s *MemoryStoreSuite) TestTransitions() {
	vault := domain.Address{0x01}

	s.Run("activation records the confirmed vault", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))

		active, err := s.store.MarkActive(s.ctx, session.ID, vault, time.Now())
		s.Require().NoError(err)
		s.Equal(models.StatusActive, active.Status)
		s.Require().NotNil(active.VaultRef)
		s.Equal(vault, *active.VaultRef)
	})

	s.Run("activation replay is rejected", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))
		_, err := s.store.MarkActive(s.ctx, session.ID, vault, time.Now())
		s.Require().NoError(err)

		_, err = s.store.MarkActive(s.ctx, session.ID, vault, time.Now())
		s.ErrorIs(err, ErrInvalidState)
	})

	s.Run("revoked rows cannot reactivate", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))
		_, err := s.store.MarkRevoked(s.ctx, session.ID, time.Now())
		s.Require().NoError(err)

		_, err = s.store.MarkActive(s.ctx, session.ID, vault, time.Now())
		s.ErrorIs(err, ErrInvalidState)
	})

	s.Run("cleaned is terminal", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))
		_, err := s.store.MarkExpired(s.ctx, session.ID, time.Now())
		s.Require().NoError(err)
		_, err = s.store.MarkCleaned(s.ctx, session.ID, time.Now())
		s.Require().NoError(err)

		_, err = s.store.MarkRevoked(s.ctx, session.ID, time.Now())
		s.ErrorIs(err, ErrInvalidState)
	})

	s.Run("transitions on a missing row are not found", func() {
		_, err := s.store.MarkRevoked(s.ctx, domain.NewSessionID(), time.Now())
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestConcurrentActivation() {
	session := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, session))
	vault := domain.Address{0x01}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.MarkActive(s.ctx, session.ID, vault, time.Now()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
}

func (s *MemoryStoreSuite) TestUpdateTotalsAndListUnswept() {
	session := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, session))

	updated, err := s.store.UpdateTotals(s.ctx, session.ID, 40_000, 12_000, time.Now())
	s.Require().NoError(err)
	s.Equal(uint64(40_000), updated.TotalDeposited)
	s.Equal(uint64(12_000), updated.TotalSpent)

	cleaned := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, cleaned))
	_, err = s.store.MarkExpired(s.ctx, cleaned.ID, time.Now())
	s.Require().NoError(err)
	_, err = s.store.MarkCleaned(s.ctx, cleaned.ID, time.Now())
	s.Require().NoError(err)

	unswept, err := s.store.ListUnswept(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(unswept, 1)
	s.Equal(session.ID, unswept[0].ID)
}
