// Package sweeper reclaims expired sessions in the background: it expires
// mirror rows past their deadline, submits the ledger cleanup transaction
// under the service's cleaner identity, and drives rows to their terminal
// state. Any party could perform ledger cleanup; the sweeper just guarantees
// somebody eventually does.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"evault/internal/audit"
	"evault/internal/custody"
	"evault/internal/events"
	"evault/internal/ledger"
	"evault/internal/platform/metrics"
	"evault/internal/session/models"
	"evault/internal/session/store"
	"evault/pkg/domain"
)

// DefaultInterval matches the original deployment cadence.
const DefaultInterval = 30 * time.Second

type Sweeper struct {
	store    store.Store
	ledger   *ledger.Ledger
	cleaner  domain.Identity
	interval time.Duration

	logger      *slog.Logger
	metrics     *metrics.Metrics
	broadcaster *events.Broadcaster
	auditor     *audit.Publisher
}

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithBroadcaster(b *events.Broadcaster) Option {
	return func(s *Sweeper) {
		s.broadcaster = b
	}
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(s *Sweeper) {
		s.auditor = p
	}
}

// New builds a sweeper. cleaner is the identity that signs cleanup
// transactions and collects the cleanup reward.
func New(st store.Store, l *ledger.Ledger, cleaner domain.Identity, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    st,
		ledger:   l,
		cleaner:  cleaner,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run loops until the context is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce walks every not-yet-Cleaned row and advances the ones past
// expiry. Errors on one session never block the rest of the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	sessions, err := s.store.ListUnswept(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep: list sessions", "error", err)
		return
	}

	now := time.Now()
	for _, session := range sessions {
		if now.Before(session.SessionExpiry) {
			continue
		}
		s.sweep(ctx, session, now)
	}
}

func (s *Sweeper) sweep(ctx context.Context, session *models.Session, now time.Time) {
	// Created/Active rows get an Expired marker first so consumers see the
	// transition before the terminal cleanup.
	if session.Status == models.StatusCreated || session.Status == models.StatusActive {
		expired, err := s.store.MarkExpired(ctx, session.ID, now)
		switch {
		case err == nil:
			session = expired
			s.publish(events.TypeExpired, session)
			s.audit(ctx, session, audit.ActionSessionExpired, audit.OutcomeSuccess, "")
		case errors.Is(err, store.ErrInvalidState):
			// Lost the race to a concurrent revoke; re-read and continue.
			refreshed, readErr := s.store.FindByID(ctx, session.ID)
			if readErr != nil {
				s.logger.ErrorContext(ctx, "sweep: reload session", "session_id", session.ID, "error", readErr)
				return
			}
			session = refreshed
		default:
			s.logger.ErrorContext(ctx, "sweep: mark expired", "session_id", session.ID, "error", err)
			return
		}
	}

	if session.VaultRef != nil {
		err := s.ledger.CleanupVault(ctx, ledger.CleanupVaultParams{
			Caller: s.cleaner,
			Vault:  *session.VaultRef,
		})
		if s.metrics != nil {
			s.metrics.ObserveLedgerTx("cleanup_vault", err)
		}
		switch {
		case err == nil, errors.Is(err, ledger.ErrVaultNotFound):
			// Absent means a third party already cleaned it; either way the
			// ledger record is gone.
		case errors.Is(err, ledger.ErrSessionNotExpired):
			// Mirror clock ran ahead of the ledger's view; retry next pass.
			return
		default:
			s.logger.ErrorContext(ctx, "sweep: cleanup vault", "session_id", session.ID, "error", err)
			return
		}
	}

	cleaned, err := s.store.MarkCleaned(ctx, session.ID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep: mark cleaned", "session_id", session.ID, "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.SessionsSwept.Inc()
	}
	s.audit(ctx, cleaned, audit.ActionSessionCleaned, audit.OutcomeSuccess, "")
	s.logger.InfoContext(ctx, "session swept", "session_id", session.ID)
}

func (s *Sweeper) publish(t events.Type, session *models.Session) {
	if s.broadcaster == nil {
		return
	}
	snapshot := session.Clone()
	snapshot.EncryptedKey = custody.Envelope{}
	s.broadcaster.Publish(events.SessionEvent{Type: t, Session: *snapshot})
}

func (s *Sweeper) audit(ctx context.Context, session *models.Session, action, outcome, detail string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		SessionID:      session.ID,
		ParentIdentity: session.ParentIdentity.String(),
		Action:         action,
		Outcome:        outcome,
		Detail:         detail,
	})
}
