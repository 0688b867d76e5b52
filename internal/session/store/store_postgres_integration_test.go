//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"evault/internal/custody"
	"evault/internal/session/models"
	"evault/internal/session/store"
	"evault/pkg/domain"
	"evault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx      context.Context
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.postgres.DB.ExecContext(s.ctx, "TRUNCATE sessions")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newSession() *models.Session {
	envelope, err := custody.Encrypt([]byte("0123456789abcdef0123456789abcdef"), "it-passphrase")
	s.Require().NoError(err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Session{
		ID:                domain.NewSessionID(),
		ParentIdentity:    domain.Identity{0xAA},
		EphemeralIdentity: domain.Identity{0xEE},
		Status:            models.StatusCreated,
		SessionStart:      now,
		SessionExpiry:     now.Add(time.Hour),
		LastActivity:      now,
		MaxDeposit:        100_000,
		Device:            "Firefox on Linux",
		EncryptedKey:      envelope,
	}
}

func (s *PostgresStoreSuite) TestSaveAndFind() {
	session := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, session))

	got, err := s.store.FindByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(session.ID, got.ID)
	s.Equal(session.ParentIdentity, got.ParentIdentity)
	s.Equal(models.StatusCreated, got.Status)
	s.Nil(got.VaultRef)
	s.Equal(session.EncryptedKey.Encode(), got.EncryptedKey.Encode())
	s.WithinDuration(session.SessionExpiry, got.SessionExpiry, time.Millisecond)

	s.Run("duplicate save conflicts", func() {
		s.ErrorIs(s.store.Save(s.ctx, session), store.ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, domain.NewSessionID())
		s.ErrorIs(err, store.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestTransitions() {
	vault := domain.Address{0x11}

	s.Run("created to active sets the vault ref", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))

		got, err := s.store.MarkActive(s.ctx, session.ID, vault, time.Now())
		s.Require().NoError(err)
		s.Equal(models.StatusActive, got.Status)
		s.Require().NotNil(got.VaultRef)
		s.Equal(vault, *got.VaultRef)
	})

	s.Run("replayed activation is invalid state", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))
		_, err := s.store.MarkActive(s.ctx, session.ID, vault, time.Now())
		s.Require().NoError(err)

		_, err = s.store.MarkActive(s.ctx, session.ID, vault, time.Now())
		s.ErrorIs(err, store.ErrInvalidState)
	})

	s.Run("revoked session cannot reactivate", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))
		_, err := s.store.MarkRevoked(s.ctx, session.ID, time.Now())
		s.Require().NoError(err)

		_, err = s.store.MarkActive(s.ctx, session.ID, vault, time.Now())
		s.ErrorIs(err, store.ErrInvalidState)
	})

	s.Run("expired to cleaned is terminal", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Save(s.ctx, session))
		_, err := s.store.MarkExpired(s.ctx, session.ID, time.Now())
		s.Require().NoError(err)
		got, err := s.store.MarkCleaned(s.ctx, session.ID, time.Now())
		s.Require().NoError(err)
		s.Equal(models.StatusCleaned, got.Status)

		_, err = s.store.MarkRevoked(s.ctx, session.ID, time.Now())
		s.ErrorIs(err, store.ErrInvalidState)
	})

	s.Run("transition on missing row is not found", func() {
		_, err := s.store.MarkRevoked(s.ctx, domain.NewSessionID(), time.Now())
		s.ErrorIs(err, store.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestUpdateTotalsAndListUnswept() {
	session := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, session))

	got, err := s.store.UpdateTotals(s.ctx, session.ID, 30_000, 5_000, time.Now())
	s.Require().NoError(err)
	s.Equal(uint64(30_000), got.TotalDeposited)
	s.Equal(uint64(5_000), got.TotalSpent)

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

// Concurrent activation must elect exactly one winner; the database row is
// the serialization point.
func (s *PostgresStoreSuite) TestConcurrentActivation() {
	session := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, session))

	const goroutines = 20
	var wg sync.WaitGroup
	var wins atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.store.MarkActive(s.ctx, session.ID, domain.Address{byte(n)}, time.Now())
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())

	got, err := s.store.FindByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, got.Status)
	s.NotNil(got.VaultRef)
}
