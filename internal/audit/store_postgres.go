package audit

import (
	"context"
	"database/sql"
	"fmt"

	"evault/pkg/domain"
)

// Schema creates the audit_events table. Append-only; rows are never updated
// or deleted by this service.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	session_id UUID NOT NULL,
	parent_identity TEXT NOT NULL,
	action TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	client_ip TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_session_idx ON audit_events (session_id);
`

// PostgresStore persists audit events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies the schema. Intended for tests and dev bootstrap.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

const auditColumns = `occurred_at, session_id, parent_identity, action, outcome,
	detail, request_id, client_ip`

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `INSERT INTO audit_events (` + auditColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp,
		event.SessionID,
		event.ParentIdentity,
		event.Action,
		event.Outcome,
		event.Detail,
		event.RequestID,
		event.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID domain.SessionID) ([]Event, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE session_id = $1 ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListRecent returns the most recent N events across all sessions, oldest
// first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	query := `SELECT ` + auditColumns + ` FROM (
		SELECT seq, ` + auditColumns + ` FROM audit_events ORDER BY seq DESC LIMIT $1
	) recent ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	out := []Event{}
	for rows.Next() {
		var event Event
		err := rows.Scan(
			&event.Timestamp, &event.SessionID, &event.ParentIdentity,
			&event.Action, &event.Outcome, &event.Detail,
			&event.RequestID, &event.ClientIP,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	return out, nil
}
