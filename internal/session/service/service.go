// Package service orchestrates the session mirror: it mints ephemeral
// identities, seals their keys, projects ledger state into mirror rows, and
// drives the lifecycle transitions the API exposes. The ledger stays the
// source of truth for funds; the mirror is a read-optimized projection.
package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"evault/internal/audit"
	"evault/internal/custody"
	"evault/internal/delegation"
	"evault/internal/deposit"
	"evault/internal/events"
	"evault/internal/ledger"
	"evault/internal/platform/metrics"
	"evault/internal/session/models"
	"evault/internal/session/store"
	"evault/pkg/domain"
	dErrors "evault/pkg/domain-errors"
	"evault/pkg/requestcontext"
)

const tracerName = "session"

// Bounds on session intent. The expiry itself is enforced by the ledger;
// these only reject obviously malformed requests at the API edge.
const (
	MinSessionDuration = time.Minute
	MaxSessionDuration = 30 * 24 * time.Hour
)

// Service owns all mirror writes. Single writer per session row is
// guaranteed by the store's compare-and-set transitions.
type Service struct {
	store       store.Store
	ledger      *ledger.Ledger
	broadcaster *events.Broadcaster
	keyPass     string

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor *audit.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithBroadcaster(b *events.Broadcaster) Option {
	return func(s *Service) {
		s.broadcaster = b
	}
}

// New wires the service. keyPassphrase is the key-encryption key used to
// seal ephemeral private keys at rest.
func New(st store.Store, l *ledger.Ledger, keyPassphrase string, opts ...Option) *Service {
	s := &Service{
		store:   st,
		ledger:  l,
		keyPass: keyPassphrase,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams is the session intent from the authenticated parent.
type CreateParams struct {
	Parent     domain.Identity
	Duration   time.Duration
	MaxDeposit uint64
	Device     string
}

// CreateResult pairs the new mirror row with the delegation envelope that
// Activate will play against the ledger. Callers can inspect the envelope
// to learn the derived vault address before approving.
type CreateResult struct {
	Session  *models.Session
	Envelope delegation.Envelope
}

// Create mints a fresh ephemeral identity, seals its private seed, records
// the speculative mirror row, and hands back the delegation envelope. The
// row stays Created until the ledger vault is confirmed via Activate.
func (s *Service) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.Create",
		trace.WithAttributes(
			attribute.String("parent", p.Parent.String()),
			attribute.Int64("max_deposit", int64(p.MaxDeposit)),
		),
	)
	defer span.End()

	if p.Parent.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "parent identity is required")
	}
	if p.Duration < MinSessionDuration || p.Duration > MaxSessionDuration {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session duration out of range")
	}
	if p.MaxDeposit == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "max_deposit must be positive")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate ephemeral key")
	}
	seed := priv.Seed()
	envelope, err := custody.Encrypt(seed, s.keyPass)
	wipe(seed)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "seal ephemeral key")
	}

	ephemeral := domain.IdentityFromPublicKey(pub)
	now := requestcontext.Now(ctx)
	session := &models.Session{
		ID:                domain.NewSessionID(),
		ParentIdentity:    p.Parent,
		EphemeralIdentity: ephemeral,
		Status:            models.StatusCreated,
		SessionStart:      now,
		SessionExpiry:     now.Add(p.Duration),
		LastActivity:      now,
		MaxDeposit:        p.MaxDeposit,
		Device:            p.Device,
		EncryptedKey:      envelope,
	}

	if err := s.store.Save(ctx, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save session")
		return nil, mapStoreErr(err)
	}

	env, err := delegation.Build(p.Parent, ephemeral, p.Duration, p.MaxDeposit)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	s.publish(events.TypeCreated, session)
	s.audit(ctx, session, audit.ActionSessionCreated, audit.OutcomeSuccess, "")
	s.logger.InfoContext(ctx, "session created",
		"session_id", session.ID,
		"parent", p.Parent,
		"expiry", session.SessionExpiry,
	)

	return &CreateResult{Session: session.Clone(), Envelope: env}, nil
}

// Activate sets up the ledger side of a Created session and flips the
// mirror row to Active: it plays the delegation envelope against the ledger
// under the parent's authority (already-existing records are
// success-already-happened, so a retried approve converges), then confirms
// the vault at the derived address carries the session's exact identities.
// A stale or replayed confirmation against a non-Created row is rejected by
// the store CAS.
func (s *Service) Activate(ctx context.Context, id domain.SessionID) (*models.Session, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.Activate",
		trace.WithAttributes(attribute.String("session_id", id.String())),
	)
	defer span.End()

	session, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	// The ledger computes its own expiry from transaction time, so the
	// vault gets the time left on the mirror row rather than the original
	// duration; the two expiries stay aligned however late the approve is.
	remaining := session.SessionExpiry.Sub(requestcontext.Now(ctx))
	if remaining <= 0 {
		return nil, dErrors.New(dErrors.CodeConflict, "session already expired")
	}

	env, err := delegation.Build(session.ParentIdentity, session.EphemeralIdentity, remaining, session.MaxDeposit)
	if err != nil {
		return nil, err
	}
	vaultAddr, err := delegation.Submit(ctx, s.ledger, env)
	if s.metrics != nil {
		s.metrics.ObserveLedgerTx("create_vault", err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit delegation")
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "parent account cannot cover the vault rent")
		}
		return nil, mapLedgerErr(err)
	}

	vault, err := s.ledger.GetVault(vaultAddr)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "ledger vault not confirmed")
	}
	if vault.Parent != session.ParentIdentity || vault.Ephemeral != session.EphemeralIdentity {
		return nil, dErrors.New(dErrors.CodeConflict, "vault identities do not match session")
	}

	updated, err := s.store.MarkActive(ctx, id, vaultAddr, requestcontext.Now(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark active")
		return nil, mapStoreErr(err)
	}

	if s.metrics != nil {
		s.metrics.SessionsActivated.Inc()
	}
	s.publish(events.TypeActive, updated)
	s.audit(ctx, updated, audit.ActionSessionActive, audit.OutcomeSuccess, "")
	s.logger.InfoContext(ctx, "session activated", "session_id", id, "vault", vaultAddr)

	return updated, nil
}

// Revoke kills the session: ledger revocation first (funds swept back to the
// parent), then the mirror transition. Only the owning parent may revoke.
// Revoking an already-revoked session is a no-op that returns the row as-is,
// so retried kill switches always land.
func (s *Service) Revoke(ctx context.Context, id domain.SessionID, parent domain.Identity) (*models.Session, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.Revoke",
		trace.WithAttributes(attribute.String("session_id", id.String())),
	)
	defer span.End()

	session, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if session.ParentIdentity != parent {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only the session parent may revoke")
	}
	if session.Status == models.StatusRevoked {
		return session, nil
	}

	if session.VaultRef != nil {
		err := s.ledger.RevokeAccess(ctx, ledger.RevokeAccessParams{
			Parent: parent,
			Vault:  *session.VaultRef,
		})
		if s.metrics != nil {
			s.metrics.ObserveLedgerTx("revoke_access", err)
		}
		// A vault that is already gone or already inactive means revocation
		// has nothing left to do on the ledger side.
		if err != nil && !errors.Is(err, ledger.ErrVaultNotFound) && !errors.Is(err, ledger.ErrVaultInactive) {
			span.RecordError(err)
			s.audit(ctx, session, audit.ActionSessionRevoked, audit.OutcomeFailure, err.Error())
			return nil, mapLedgerErr(err)
		}
	}

	updated, err := s.store.MarkRevoked(ctx, id, requestcontext.Now(ctx))
	if err != nil {
		// A concurrent revoke may have won the CAS; the outcome the caller
		// asked for already holds, so hand back the row.
		if errors.Is(err, store.ErrInvalidState) {
			if current, ferr := s.store.FindByID(ctx, id); ferr == nil && current.Status == models.StatusRevoked {
				return current, nil
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark revoked")
		return nil, mapStoreErr(err)
	}

	if s.metrics != nil {
		s.metrics.SessionsRevoked.Inc()
	}
	s.publish(events.TypeRevoked, updated)
	s.audit(ctx, updated, audit.ActionSessionRevoked, audit.OutcomeSuccess, "")
	s.logger.InfoContext(ctx, "session revoked", "session_id", id)

	return updated, nil
}

// Get returns the mirror row, refreshing cached totals from the ledger when
// the vault is live so the caller never sees stale spend figures.
func (s *Service) Get(ctx context.Context, id domain.SessionID) (*models.Session, error) {
	session, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if session.VaultRef == nil {
		return session, nil
	}

	refreshed, err := s.refreshTotals(ctx, session)
	if err != nil {
		// Ledger record already cleaned; the cached totals are final.
		if errors.Is(err, ledger.ErrVaultNotFound) {
			return session, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// Fund credits the parent's ledger account and reports the new balance.
// This is the funding ingress standing in for an external wallet on-ramp;
// the ledger account must cover vault rent before a session can activate.
func (s *Service) Fund(ctx context.Context, parent domain.Identity, amount uint64) (uint64, error) {
	if parent.IsZero() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "parent identity is required")
	}
	if amount == 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "amount must be positive")
	}
	s.ledger.Fund(parent, amount)
	balance := s.ledger.BalanceOf(parent)
	s.logger.InfoContext(ctx, "account funded", "parent", parent, "amount", amount, "balance", balance)
	return balance, nil
}

// DepositParams is a deposit scheduling request from the parent.
type DepositParams struct {
	Parent   domain.Identity
	Trades   uint64
	Priority deposit.Priority
}

// ScheduleDeposit sizes a deposit from the expected trade count and fee
// tier, submits auto_deposit under the parent's authority, and refreshes
// the mirror totals from ledger truth.
func (s *Service) ScheduleDeposit(ctx context.Context, id domain.SessionID, p DepositParams) (*models.Session, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.ScheduleDeposit",
		trace.WithAttributes(
			attribute.String("session_id", id.String()),
			attribute.Int64("trades", int64(p.Trades)),
			attribute.String("priority", string(p.Priority)),
		),
	)
	defer span.End()

	session, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if session.ParentIdentity != p.Parent {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only the session parent may deposit")
	}
	if session.VaultRef == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "session has no confirmed vault")
	}
	if p.Trades == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "trades must be positive")
	}

	amount, err := deposit.ComputeForTrades(p.Trades, p.Priority)
	if err != nil {
		return nil, err
	}

	err = s.ledger.AutoDeposit(ctx, ledger.AutoDepositParams{
		Parent: p.Parent,
		Vault:  *session.VaultRef,
		Amount: amount,
	})
	if s.metrics != nil {
		s.metrics.ObserveLedgerTx("auto_deposit", err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "auto deposit")
		s.audit(ctx, session, audit.ActionDepositExecuted, audit.OutcomeFailure, err.Error())
		return nil, mapLedgerErr(err)
	}

	if s.metrics != nil {
		s.metrics.DepositsScheduled.Observe(float64(amount))
	}
	s.audit(ctx, session, audit.ActionDepositExecuted, audit.OutcomeSuccess,
		fmt.Sprintf("amount=%d trades=%d priority=%s", amount, p.Trades, p.Priority))
	s.logger.InfoContext(ctx, "deposit executed",
		"session_id", id,
		"amount", amount,
		"priority", p.Priority,
	)

	return s.refreshTotals(ctx, session)
}

// Trade spends a fee from the vault under the ephemeral identity's
// authority. The sealed key is opened only long enough to prove the
// delegation signature, then wiped.
func (s *Service) Trade(ctx context.Context, id domain.SessionID, fee uint64) (*models.Session, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.Trade",
		trace.WithAttributes(
			attribute.String("session_id", id.String()),
			attribute.Int64("fee", int64(fee)),
		),
	)
	defer span.End()

	session, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if session.VaultRef == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "session has no confirmed vault")
	}

	payload := tradePayload(*session.VaultRef, fee)
	sig, signer, err := delegation.SignWithEphemeral(session.EncryptedKey, s.keyPass, payload)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign trade")
	}
	if signer != session.EphemeralIdentity || !delegation.VerifyEphemeral(signer, payload, sig) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "trade signature does not match session delegate")
	}

	err = s.ledger.ExecuteTrade(ctx, ledger.ExecuteTradeParams{
		Ephemeral: signer,
		Vault:     *session.VaultRef,
		FeePaid:   fee,
	})
	if s.metrics != nil {
		s.metrics.ObserveLedgerTx("execute_trade", err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute trade")
		return nil, mapLedgerErr(err)
	}

	s.logger.InfoContext(ctx, "trade executed", "session_id", id, "fee", fee)
	return s.refreshTotals(ctx, session)
}

// refreshTotals pulls ledger truth into the mirror's cached totals.
func (s *Service) refreshTotals(ctx context.Context, session *models.Session) (*models.Session, error) {
	vault, err := s.ledger.GetVault(*session.VaultRef)
	if err != nil {
		if errors.Is(err, ledger.ErrVaultNotFound) {
			return nil, err
		}
		return nil, mapLedgerErr(err)
	}
	updated, err := s.store.UpdateTotals(ctx, session.ID, vault.TotalDeposited, vault.TotalSpent, requestcontext.Now(ctx))
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return updated, nil
}

func (s *Service) publish(t events.Type, session *models.Session) {
	if s.broadcaster == nil {
		return
	}
	snapshot := session.Clone()
	// Event snapshots leave the process; the sealed key never does.
	snapshot.EncryptedKey = custody.Envelope{}
	s.broadcaster.Publish(events.SessionEvent{Type: t, Session: *snapshot})
}

func (s *Service) audit(ctx context.Context, session *models.Session, action, outcome, detail string) {
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

// tradePayload is the canonical byte form the delegate signs for one spend.
func tradePayload(vault domain.Address, fee uint64) []byte {
	buf := make([]byte, 0, domain.IdentityLen+8)
	buf = append(buf, vault[:]...)
	return binary.BigEndian.AppendUint64(buf, fee)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// mapStoreErr translates mirror sentinels into coded errors for transport.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "session not found")
	case errors.Is(err, store.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "session already exists")
	case errors.Is(err, store.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, "session is in a conflicting state")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "session store failure")
	}
}

// mapLedgerErr translates ledger transaction failures into coded errors.
func mapLedgerErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "signer not authorized")
	case errors.Is(err, ledger.ErrVaultNotFound), errors.Is(err, ledger.ErrDelegationNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "ledger record not found")
	case errors.Is(err, ledger.ErrSessionExpired),
		errors.Is(err, ledger.ErrVaultInactive),
		errors.Is(err, ledger.ErrDelegationRevoked):
		return dErrors.Wrap(err, dErrors.CodeConflict, "session can no longer spend")
	case errors.Is(err, ledger.ErrOverDeposit),
		errors.Is(err, ledger.ErrInsufficientVaultBalance),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrMathOverflow):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "ledger rejected the amount")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger transaction failed")
	}
}
