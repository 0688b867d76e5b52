// Package audit records an append-only trail of custody actions: who
// created, activated, revoked, or swept a session, and with what outcome.
package audit

import (
	"time"

	"evault/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp      time.Time        `json:"timestamp"`
	SessionID      domain.SessionID `json:"session_id"`
	ParentIdentity string           `json:"parent_identity"`
	Action         string           `json:"action"`
	Outcome        string           `json:"outcome"`
	Detail         string           `json:"detail,omitempty"`
	RequestID      string           `json:"request_id,omitempty"`
	ClientIP       string           `json:"client_ip,omitempty"`
}

// Actions recorded by the session service and sweeper.
const (
	ActionSessionCreated  = "session.created"
	ActionSessionActive   = "session.activated"
	ActionSessionRevoked  = "session.revoked"
	ActionSessionExpired  = "session.expired"
	ActionSessionCleaned  = "session.cleaned"
	ActionDepositPlanned  = "deposit.planned"
	ActionDepositExecuted = "deposit.executed"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
