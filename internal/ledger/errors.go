package ledger

import (
	"errors"

	"evault/pkg/domain"
)

// Categorical transaction failures. Every failed transaction aborts whole
// with no partial state change; callers surface the category but must not
// infer that ledger state changed.
var (
	// ErrMathOverflow aborts any transaction whose checked arithmetic wraps.
	ErrMathOverflow = domain.ErrMathOverflow

	// ErrSessionExpired rejects spends and deposits after session_expiry.
	ErrSessionExpired = errors.New("vault session expired")

	// ErrSessionNotExpired rejects cleanup before session_expiry.
	ErrSessionNotExpired = errors.New("vault session not yet expired")

	// ErrVaultInactive rejects operations on a deactivated vault.
	ErrVaultInactive = errors.New("vault is inactive")

	// ErrInvalidDelegate rejects a delegate that is not the vault's
	// ephemeral identity, or a trade signed by the wrong identity.
	ErrInvalidDelegate = errors.New("invalid delegate for this vault")

	// ErrInvalidDelegationAccount rejects a trade whose delegation record
	// does not belong on this vault.
	ErrInvalidDelegationAccount = errors.New("invalid delegation account for this vault")

	// ErrDelegationRevoked rejects trades after revocation.
	ErrDelegationRevoked = errors.New("delegation has been revoked")

	// ErrOverDeposit rejects deposits beyond the approved max_deposit.
	ErrOverDeposit = errors.New("over-deposit attempt beyond approved max_deposit")

	// ErrInsufficientVaultBalance rejects trades whose fee would push
	// total_spent past total_deposited.
	ErrInsufficientVaultBalance = errors.New("insufficient vault balance for requested fee")
)

// Record existence and authority failures. These come from the execution
// environment's account model rather than the state machine proper.
var (
	// ErrVaultExists signals a retried create against an existing address.
	// Callers must treat this as success-already-happened, not a hard
	// failure: the address is deterministically derived so a duplicate
	// create can only target the same record.
	ErrVaultExists = errors.New("vault already exists")

	// ErrVaultNotFound signals the vault record does not exist, either
	// never created or already cleaned up.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrDelegationExists signals a retried approve against an existing
	// delegation address. Same retry contract as ErrVaultExists.
	ErrDelegationExists = errors.New("delegation already exists")

	// ErrDelegationNotFound signals the delegation record does not exist.
	ErrDelegationNotFound = errors.New("delegation not found")

	// ErrUnauthorized signals the transaction's signer does not hold the
	// required authority for the operation.
	ErrUnauthorized = errors.New("signer not authorized")

	// ErrInsufficientFunds signals the funding account cannot cover the
	// transfer the transaction requires.
	ErrInsufficientFunds = errors.New("insufficient funds")
)
