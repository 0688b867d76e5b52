package httptransport

import (
	"evault/internal/delegation"
	"evault/internal/session/models"
	"evault/pkg/domain"
)

// CreateSessionRequest is the session intent from the parent.
type CreateSessionRequest struct {
	DurationSeconds int64  `json:"duration_seconds"`
	MaxDeposit      uint64 `json:"max_deposit"`
}

// CreateSessionResponse returns the mirror row and the delegation envelope
// the approve step will play against the ledger.
type CreateSessionResponse struct {
	Session  *models.Session     `json:"session"`
	Envelope delegation.Envelope `json:"envelope"`
}

// SessionIDRequest targets one session by ID.
type SessionIDRequest struct {
	SessionID string `json:"session_id"`
}

// DepositRequest schedules funding for an expected trade volume.
type DepositRequest struct {
	SessionID string `json:"session_id"`
	Trades    uint64 `json:"trades"`
	Priority  string `json:"priority"`
}

// TradeRequest spends a fee under the session's delegated authority.
type TradeRequest struct {
	SessionID string `json:"session_id"`
	Fee       uint64 `json:"fee"`
}

// FundRequest credits the authenticated parent's ledger account.
type FundRequest struct {
	Amount uint64 `json:"amount"`
}

// FundResponse reports the balance after funding.
type FundResponse struct {
	Identity domain.Identity `json:"identity"`
	Balance  uint64          `json:"balance"`
}

// SessionResponse wraps a mirror snapshot.
type SessionResponse struct {
	Session *models.Session `json:"session"`
}
