// Package domain holds the shared value types of the vault system: identities,
// record addresses, session IDs, and the deterministic address derivation both
// the ledger and the client-side transaction builder rely on.
//
// Usage: construct values via the Parse functions at trust boundaries to
// enforce validation; direct casting bypasses it.
package domain

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/google/uuid"

	dErrors "evault/pkg/domain-errors"
)

// IdentityLen is the byte length of identities and record addresses.
const IdentityLen = 32

// Identity is a 32-byte public identity: a parent wallet, an ephemeral wallet,
// or a service signer. Rendered as lowercase hex.
type Identity [IdentityLen]byte

// IdentityFromPublicKey wraps an ed25519 public key as an Identity.
func IdentityFromPublicKey(pub ed25519.PublicKey) Identity {
	var id Identity
	copy(id[:], pub)
	return id
}

// ParseIdentity constructs an Identity from external hex input.
//
// Errors: returns CodeBadRequest when the value is empty, not hex, or the
// wrong length; no other errors are expected.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return Identity{}, dErrors.New(dErrors.CodeBadRequest, "identity cannot be empty")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, dErrors.New(dErrors.CodeBadRequest, "identity must be hex encoded")
	}
	if len(raw) != IdentityLen {
		return Identity{}, dErrors.New(dErrors.CodeBadRequest, "identity must be 32 bytes")
	}
	var id Identity
	copy(id[:], raw)
	return id, nil
}

// IsZero reports whether the identity is the zero value.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

// String returns the lowercase hex representation.
func (i Identity) String() string {
	return hex.EncodeToString(i[:])
}

// MarshalText implements encoding.TextMarshaler so identities serialize as hex
// in JSON payloads and event snapshots.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Address is the 32-byte storage address of a ledger record. Vault and
// delegation addresses are derived deterministically; see derive.go.
type Address [IdentityLen]byte

// ParseAddress constructs an Address from external hex input.
func ParseAddress(s string) (Address, error) {
	id, err := ParseIdentity(s)
	if err != nil {
		return Address{}, err
	}
	return Address(id), nil
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the lowercase hex representation.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SessionID identifies a mirrored session row.
type SessionID = uuid.UUID

// NewSessionID mints a fresh session ID.
func NewSessionID() SessionID {
	return uuid.New()
}

// ParseSessionID constructs a SessionID from external input.
func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid session id")
	}
	return id, nil
}
