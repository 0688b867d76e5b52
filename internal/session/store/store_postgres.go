package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"evault/internal/custody"
	"evault/internal/session/models"
	"evault/pkg/domain"
)

// Schema creates the sessions table. Applied by deployments' migration
// tooling; EnsureSchema exists for integration tests and dev bootstrap.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id UUID PRIMARY KEY,
	parent_identity TEXT NOT NULL,
	ephemeral_identity TEXT NOT NULL,
	vault_ref TEXT,
	status TEXT NOT NULL,
	session_start TIMESTAMPTZ NOT NULL,
	session_expiry TIMESTAMPTZ NOT NULL,
	last_activity TIMESTAMPTZ NOT NULL,
	max_deposit BIGINT NOT NULL,
	total_deposited BIGINT NOT NULL,
	total_spent BIGINT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	encrypted_ephemeral_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_status_idx ON sessions (status);
`

// PostgresStore persists mirror rows in PostgreSQL. Every transition is a
// single conditional UPDATE so the database serializes concurrent writers
// per row; this store is pure I/O and holds no state machine logic beyond
// the status guards in the WHERE clauses.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies the schema. Intended for tests and dev bootstrap.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

const sessionColumns = `id, parent_identity, ephemeral_identity, vault_ref, status,
	session_start, session_expiry, last_activity,
	max_deposit, total_deposited, total_spent, device, encrypted_ephemeral_key`

func (s *PostgresStore) Save(ctx context.Context, session *models.Session) error {
	var vaultRef sql.NullString
	if session.VaultRef != nil {
		vaultRef = sql.NullString{String: session.VaultRef.String(), Valid: true}
	}
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.ParentIdentity.String(),
		session.EphemeralIdentity.String(),
		vaultRef,
		session.Status.String(),
		session.SessionStart,
		session.SessionExpiry,
		session.LastActivity,
		int64(session.MaxDeposit),
		int64(session.TotalDeposited),
		int64(session.TotalSpent),
		session.Device,
		session.EncryptedKey.Encode(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.SessionID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

// MarkActive is a single guarded UPDATE: only a row still in CREATED moves,
// so a stale confirmation against a revoked session affects zero rows.
func (s *PostgresStore) MarkActive(ctx context.Context, id domain.SessionID, vault domain.Address, now time.Time) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET status = $2, vault_ref = $3, last_activity = $4
		WHERE id = $1 AND status = $5
		RETURNING ` + sessionColumns
	session, err := scanSession(s.db.QueryRowContext(ctx, query,
		id, models.StatusActive.String(), vault.String(), now, models.StatusCreated.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.conflictOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("mark session active: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) MarkRevoked(ctx context.Context, id domain.SessionID, now time.Time) (*models.Session, error) {
	return s.transition(ctx, id, models.StatusRevoked, now,
		models.StatusCreated, models.StatusActive, models.StatusExpired)
}

func (s *PostgresStore) MarkExpired(ctx context.Context, id domain.SessionID, now time.Time) (*models.Session, error) {
	return s.transition(ctx, id, models.StatusExpired, now,
		models.StatusCreated, models.StatusActive)
}

func (s *PostgresStore) MarkCleaned(ctx context.Context, id domain.SessionID, now time.Time) (*models.Session, error) {
	return s.transition(ctx, id, models.StatusCleaned, now,
		models.StatusRevoked, models.StatusExpired)
}

func (s *PostgresStore) transition(ctx context.Context, id domain.SessionID, to models.Status, now time.Time, from ...models.Status) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET status = $2, last_activity = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + sessionColumns
	// []string binds as text[] through the pgx stdlib driver.
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = st.String()
	}
	session, err := scanSession(s.db.QueryRowContext(ctx, query, id, to.String(), now, states))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.conflictOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("transition session to %s: %w", to, err)
	}
	return session, nil
}

func (s *PostgresStore) UpdateTotals(ctx context.Context, id domain.SessionID, deposited, spent uint64, now time.Time) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET total_deposited = $2, total_spent = $3, last_activity = $4
		WHERE id = $1
		RETURNING ` + sessionColumns
	session, err := scanSession(s.db.QueryRowContext(ctx, query, id, int64(deposited), int64(spent), now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update session totals: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) ListUnswept(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status <> $1 ORDER BY session_expiry`
	rows, err := s.db.QueryContext(ctx, query, models.StatusCleaned.String())
	if err != nil {
		return nil, fmt.Errorf("list unswept sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unswept session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unswept sessions: %w", err)
	}
	return out, nil
}

// conflictOrMissing disambiguates a zero-row conditional UPDATE: the row is
// either absent or in a status the transition does not permit.
func (s *PostgresStore) conflictOrMissing(ctx context.Context, id domain.SessionID) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session      models.Session
		parent       string
		ephemeral    string
		vaultRef     sql.NullString
		status       string
		maxDeposit   int64
		deposited    int64
		spent        int64
		encryptedKey string
	)
	err := row.Scan(
		&session.ID, &parent, &ephemeral, &vaultRef, &status,
		&session.SessionStart, &session.SessionExpiry, &session.LastActivity,
		&maxDeposit, &deposited, &spent, &session.Device, &encryptedKey,
	)
	if err != nil {
		return nil, err
	}

	if session.ParentIdentity, err = domain.ParseIdentity(parent); err != nil {
		return nil, fmt.Errorf("parse parent identity: %w", err)
	}
	if session.EphemeralIdentity, err = domain.ParseIdentity(ephemeral); err != nil {
		return nil, fmt.Errorf("parse ephemeral identity: %w", err)
	}
	if vaultRef.Valid {
		addr, err := domain.ParseAddress(vaultRef.String)
		if err != nil {
			return nil, fmt.Errorf("parse vault ref: %w", err)
		}
		session.VaultRef = &addr
	}
	session.Status = models.Status(status)
	session.MaxDeposit = uint64(maxDeposit)
	session.TotalDeposited = uint64(deposited)
	session.TotalSpent = uint64(spent)
	if session.EncryptedKey, err = custody.DecodeEnvelope(encryptedKey); err != nil {
		return nil, fmt.Errorf("decode custody envelope: %w", err)
	}
	return &session, nil
}
