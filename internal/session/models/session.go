package models

import (
	"time"

	"evault/internal/custody"
	"evault/pkg/domain"
)

// Status is the mirror-side lifecycle state of a session.
//
// Invariant: Status is advisory until confirmed by a ledger query. The mirror
// row is created speculatively before the ledger vault exists; only the
// Created -> Active transition, driven by a confirmed vault address, couples
// the two.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusActive  Status = "ACTIVE"
	StatusRevoked Status = "REVOKED"
	StatusExpired Status = "EXPIRED"
	StatusCleaned Status = "CLEANED"
)

// validTransitions is the single source of truth for the mirror state
// machine: Created -> Active -> {Revoked, Expired} -> Cleaned, with revoke
// and expiry reachable straight from Created for sessions whose vault never
// confirmed. Cleaned is terminal.
var validTransitions = map[Status]map[Status]bool{
	StatusCreated: {StatusActive: true, StatusRevoked: true, StatusExpired: true},
	StatusActive:  {StatusRevoked: true, StatusExpired: true},
	StatusRevoked: {StatusCleaned: true},
	StatusExpired: {StatusRevoked: true, StatusCleaned: true},
	StatusCleaned: {},
}

// IsValid checks the status is one of the supported enum values.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine permits the transition.
func (s Status) CanTransitionTo(to Status) bool {
	return validTransitions[s][to]
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Session is the off-ledger projection of one vault delegation, owned by the
// session mirror service (single writer).
//
// TotalDeposited and TotalSpent are a display cache of ledger truth and may
// be stale; they must be refreshed from the ledger before being used for any
// further spend decision. VaultRef stays nil until the ledger vault creation
// is confirmed; Status must never claim Active while VaultRef is nil.
type Session struct {
	ID                domain.SessionID `json:"session_id"`
	ParentIdentity    domain.Identity  `json:"parent_identity"`
	EphemeralIdentity domain.Identity  `json:"ephemeral_identity"`
	VaultRef          *domain.Address  `json:"vault_ref,omitempty"`
	Status            Status           `json:"status"`
	SessionStart      time.Time        `json:"session_start"`
	SessionExpiry     time.Time        `json:"session_expiry"`
	LastActivity      time.Time        `json:"last_activity"`
	MaxDeposit        uint64           `json:"max_deposit"`
	TotalDeposited    uint64           `json:"total_deposited"`
	TotalSpent        uint64           `json:"total_spent"`
	Device            string           `json:"device,omitempty"`

	// EncryptedKey holds the custody envelope for the ephemeral private
	// key. Never serialized into API responses or event snapshots.
	EncryptedKey custody.Envelope `json:"-"`
}

// Clone returns a deep copy so store snapshots can't be mutated by callers.
func (s *Session) Clone() *Session {
	clone := *s
	if s.VaultRef != nil {
		ref := *s.VaultRef
		clone.VaultRef = &ref
	}
	clone.EncryptedKey = custody.Envelope{
		Salt:       append([]byte(nil), s.EncryptedKey.Salt...),
		Nonce:      append([]byte(nil), s.EncryptedKey.Nonce...),
		Ciphertext: append([]byte(nil), s.EncryptedKey.Ciphertext...),
	}
	return &clone
}
