// Package delegation builds the envelope of ledger operations that sets up a
// delegation: create the vault, then approve the ephemeral identity as its
// sole delegate. The builder derives every record address through pkg/domain
// so it always agrees with the ledger; it enforces no invariants itself —
// the ledger state machine accepts or rejects the submitted operations.
package delegation

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"evault/internal/ledger"
	"evault/pkg/domain"
	dErrors "evault/pkg/domain-errors"
)

// CreateVaultOp is the client-side form of the create_vault operation.
// Signer: parent.
type CreateVaultOp struct {
	Parent     domain.Identity `json:"parent"`
	Ephemeral  domain.Identity `json:"ephemeral_wallet"`
	Vault      domain.Address  `json:"vault"`
	Duration   time.Duration   `json:"session_duration"`
	MaxDeposit uint64          `json:"max_deposit"`
}

// ApproveDelegateOp is the client-side form of the approve_delegate
// operation. Signer: parent.
type ApproveDelegateOp struct {
	Parent     domain.Identity `json:"parent"`
	Vault      domain.Address  `json:"vault"`
	Delegation domain.Address  `json:"delegation"`
	Delegate   domain.Identity `json:"delegate"`
}

// Envelope bundles the two setup operations for one session. The service
// plays it against the ledger on approve; both operations run under the
// parent's authority.
type Envelope struct {
	CreateVault     CreateVaultOp     `json:"create_vault"`
	ApproveDelegate ApproveDelegateOp `json:"approve_delegate"`
}

// Build derives the vault and delegation addresses for the session intent
// and assembles the setup envelope.
func Build(parent, ephemeral domain.Identity, duration time.Duration, maxDeposit uint64) (Envelope, error) {
	if parent.IsZero() {
		return Envelope{}, dErrors.New(dErrors.CodeBadRequest, "parent identity is required")
	}
	if ephemeral.IsZero() {
		return Envelope{}, dErrors.New(dErrors.CodeBadRequest, "ephemeral identity is required")
	}

	vaultAddr, _ := domain.VaultAddress(parent, ephemeral)
	delegationAddr, _ := domain.DelegationAddress(vaultAddr)

	return Envelope{
		CreateVault: CreateVaultOp{
			Parent:     parent,
			Ephemeral:  ephemeral,
			Vault:      vaultAddr,
			Duration:   duration,
			MaxDeposit: maxDeposit,
		},
		ApproveDelegate: ApproveDelegateOp{
			Parent:     parent,
			Vault:      vaultAddr,
			Delegation: delegationAddr,
			Delegate:   ephemeral,
		},
	}, nil
}

// Submit plays the envelope against the ledger under the parent's authority.
// Already-exists conditions on either record are treated as
// success-already-happened so retried submissions converge instead of
// failing: the derived addresses guarantee a retry can only hit the same
// records.
func Submit(ctx context.Context, l *ledger.Ledger, env Envelope) (domain.Address, error) {
	vaultAddr, err := l.CreateVault(ctx, ledger.CreateVaultParams{
		Parent:     env.CreateVault.Parent,
		Ephemeral:  env.CreateVault.Ephemeral,
		Duration:   env.CreateVault.Duration,
		MaxDeposit: env.CreateVault.MaxDeposit,
	})
	if err != nil && !errors.Is(err, ledger.ErrVaultExists) {
		return domain.Address{}, err
	}

	_, err = l.ApproveDelegate(ctx, ledger.ApproveDelegateParams{
		Parent:   env.ApproveDelegate.Parent,
		Vault:    vaultAddr,
		Delegate: env.ApproveDelegate.Delegate,
	})
	if err != nil && !errors.Is(err, ledger.ErrDelegationExists) {
		return domain.Address{}, err
	}
	return vaultAddr, nil
}

// SigningBytes renders the envelope's canonical byte form for signatures.
// Field order and widths are fixed; changing them breaks interoperability.
func (e Envelope) SigningBytes() []byte {
	buf := make([]byte, 0, 4*domain.IdentityLen+16)
	buf = append(buf, e.CreateVault.Parent[:]...)
	buf = append(buf, e.CreateVault.Ephemeral[:]...)
	buf = append(buf, e.CreateVault.Vault[:]...)
	buf = append(buf, e.ApproveDelegate.Delegation[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.CreateVault.Duration/time.Second))
	buf = binary.BigEndian.AppendUint64(buf, e.CreateVault.MaxDeposit)
	return buf
}
