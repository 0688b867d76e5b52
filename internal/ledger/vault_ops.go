package ledger

import (
	"context"

	"evault/pkg/domain"
	"evault/pkg/requestcontext"
)

// ApproveDelegateParams carries the approve_delegate transaction inputs.
// Parent is the required signer.
type ApproveDelegateParams struct {
	Parent   domain.Identity
	Vault    domain.Address
	Delegate domain.Identity
}

// ApproveDelegate creates the delegation record at its derived address,
// binding the delegate as sole authorized spender. The delegate must equal
// the vault's ephemeral identity; the derived address guarantees at most one
// delegation ever exists per vault.
func (l *Ledger) ApproveDelegate(ctx context.Context, p ApproveDelegateParams) (domain.Address, error) {
	lock := l.vaultLock(p.Vault)
	lock.Lock()
	defer lock.Unlock()

	v, ok := l.vault(p.Vault)
	if !ok {
		return domain.Address{}, ErrVaultNotFound
	}
	if p.Parent != v.Parent {
		return domain.Address{}, ErrUnauthorized
	}
	if p.Delegate != v.Ephemeral {
		return domain.Address{}, ErrInvalidDelegate
	}

	addr, bump := domain.DelegationAddress(p.Vault)
	if _, exists := l.delegation(addr); exists {
		return addr, ErrDelegationExists
	}

	now := requestcontext.Now(ctx)
	record := &DelegationRecord{
		Vault:          p.Vault,
		Delegate:       p.Delegate,
		ApprovedAt:     now,
		DerivationBump: bump,
	}

	l.mu.Lock()
	l.delegations[addr] = record
	l.mu.Unlock()

	l.emit(DelegateApproved{Vault: p.Vault, Delegate: p.Delegate, ApprovedAt: now})
	return addr, nil
}

// AutoDepositParams carries the auto_deposit transaction inputs. Parent is
// the required signer and the funding account.
type AutoDepositParams struct {
	Parent domain.Identity
	Vault  domain.Address
	Amount uint64
}

// AutoDeposit transfers Amount from the parent into the vault and increments
// total_deposited. The spending cap check is against max_deposit with checked
// addition; overflow is a hard failure, not saturating.
func (l *Ledger) AutoDeposit(ctx context.Context, p AutoDepositParams) error {
	lock := l.vaultLock(p.Vault)
	lock.Lock()
	defer lock.Unlock()

	v, ok := l.vault(p.Vault)
	if !ok {
		return ErrVaultNotFound
	}
	if p.Parent != v.Parent {
		return ErrUnauthorized
	}
	if err := ensureActiveAndNotExpired(v, requestcontext.Now(ctx)); err != nil {
		return err
	}

	newTotal, err := domain.CheckedAdd(v.TotalDeposited, p.Amount)
	if err != nil {
		return ErrMathOverflow
	}
	if newTotal > v.MaxDeposit {
		return ErrOverDeposit
	}

	if err := l.transfer(p.Parent, p.Vault, p.Amount); err != nil {
		return err
	}
	v.TotalDeposited = newTotal

	l.emit(AutoDeposit{Vault: p.Vault, Amount: p.Amount, TotalDeposited: newTotal})
	return nil
}

// ExecuteTradeParams carries the execute_trade transaction inputs. Ephemeral
// is the required signer and must match the delegation's delegate.
type ExecuteTradeParams struct {
	Ephemeral domain.Identity
	Vault     domain.Address
	FeePaid   uint64
}

// ExecuteTrade records a fee spend against the vault. Spend is bounded by
// deposits actually made, not by max_deposit, so the vault can never be
// driven negative relative to funds it holds.
func (l *Ledger) ExecuteTrade(ctx context.Context, p ExecuteTradeParams) error {
	lock := l.vaultLock(p.Vault)
	lock.Lock()
	defer lock.Unlock()

	v, ok := l.vault(p.Vault)
	if !ok {
		return ErrVaultNotFound
	}
	if err := ensureActiveAndNotExpired(v, requestcontext.Now(ctx)); err != nil {
		return err
	}

	delegationAddr, _ := domain.DelegationAddress(p.Vault)
	d, ok := l.delegation(delegationAddr)
	if !ok {
		return ErrDelegationNotFound
	}
	if d.Vault != p.Vault {
		return ErrInvalidDelegationAccount
	}
	if d.Revoked() {
		return ErrDelegationRevoked
	}
	if p.Ephemeral != d.Delegate {
		return ErrInvalidDelegate
	}

	newSpent, err := domain.CheckedAdd(v.TotalSpent, p.FeePaid)
	if err != nil {
		return ErrMathOverflow
	}
	if newSpent > v.TotalDeposited {
		return ErrInsufficientVaultBalance
	}
	v.TotalSpent = newSpent

	l.emit(TradeExecuted{Vault: p.Vault, Delegate: p.Ephemeral, FeePaid: p.FeePaid, TotalSpent: newSpent})
	return nil
}

// RevokeAccessParams carries the revoke_access transaction inputs. Parent is
// the required signer.
type RevokeAccessParams struct {
	Parent domain.Identity
	Vault  domain.Address
}

// RevokeAccess deactivates the vault, marks the delegation revoked, and
// sweeps all balance above the rent floor back to the parent. Terminal for
// spending capability; the record survives until cleanup.
func (l *Ledger) RevokeAccess(ctx context.Context, p RevokeAccessParams) error {
	lock := l.vaultLock(p.Vault)
	lock.Lock()
	defer lock.Unlock()

	v, ok := l.vault(p.Vault)
	if !ok {
		return ErrVaultNotFound
	}
	if p.Parent != v.Parent {
		return ErrUnauthorized
	}
	if !v.IsActive {
		return ErrVaultInactive
	}

	now := requestcontext.Now(ctx)
	v.IsActive = false

	delegationAddr, _ := domain.DelegationAddress(p.Vault)
	if d, ok := l.delegation(delegationAddr); ok && !d.Revoked() {
		revokedAt := now
		d.RevokedAt = &revokedAt
	}

	l.balancesMu.Lock()
	balance := l.balances[p.Vault]
	if balance > RentExemptMinimum {
		swept := balance - RentExemptMinimum
		l.balances[p.Vault] -= swept
		l.balances[v.Parent] += swept
	}
	l.balancesMu.Unlock()

	l.emit(AccessRevoked{Vault: p.Vault, Parent: v.Parent, RevokedAt: now})
	return nil
}

// CleanupVaultParams carries the cleanup_vault transaction inputs. Caller is
// the required signer; anyone may call once the session has expired.
type CleanupVaultParams struct {
	Caller domain.Identity
	Vault  domain.Address
}

// CleanupVault drives the terminal transition: deactivates a still-active
// vault, pays the caller min(available, RewardCap), returns the remainder
// and the reclaimed rent floor to the parent, and destroys the record.
func (l *Ledger) CleanupVault(ctx context.Context, p CleanupVaultParams) error {
	lock := l.vaultLock(p.Vault)
	lock.Lock()
	defer lock.Unlock()

	v, ok := l.vault(p.Vault)
	if !ok {
		return ErrVaultNotFound
	}

	now := requestcontext.Now(ctx)
	if now.Before(v.SessionExpiry) {
		return ErrSessionNotExpired
	}
	if v.IsActive {
		v.IsActive = false
	}

	var reward uint64
	l.balancesMu.Lock()
	balance := l.balances[p.Vault]
	swept := balance > RentExemptMinimum
	if swept {
		available := balance - RentExemptMinimum
		reward = min(available, RewardCap)
		l.balances[p.Caller] += reward
		l.balances[v.Parent] += available - reward
	}
	// Destroying the record reclaims its rent floor for the parent.
	l.balances[v.Parent] += min(balance, RentExemptMinimum)
	delete(l.balances, p.Vault)
	l.balancesMu.Unlock()

	delegationAddr, _ := domain.DelegationAddress(p.Vault)
	l.mu.Lock()
	delete(l.vaults, p.Vault)
	delete(l.delegations, delegationAddr)
	l.mu.Unlock()

	// The event fires only when funds actually moved above the rent floor;
	// reclaiming bare rent is silent.
	if swept {
		l.emit(VaultCleaned{Vault: p.Vault, Parent: v.Parent, Cleaner: p.Caller, Reward: reward})
	}
	return nil
}

// GetVault returns a snapshot of the vault record.
func (l *Ledger) GetVault(addr domain.Address) (VaultRecord, error) {
	lock := l.vaultLock(addr)
	lock.Lock()
	defer lock.Unlock()

	v, ok := l.vault(addr)
	if !ok {
		return VaultRecord{}, ErrVaultNotFound
	}
	return *v, nil
}

// GetDelegation returns a snapshot of the delegation record for a vault.
func (l *Ledger) GetDelegation(vault domain.Address) (DelegationRecord, error) {
	addr, _ := domain.DelegationAddress(vault)

	lock := l.vaultLock(vault)
	lock.Lock()
	defer lock.Unlock()

	d, ok := l.delegation(addr)
	if !ok {
		return DelegationRecord{}, ErrDelegationNotFound
	}
	snapshot := *d
	if d.RevokedAt != nil {
		revokedAt := *d.RevokedAt
		snapshot.RevokedAt = &revokedAt
	}
	return snapshot, nil
}
