// Package ledger implements the authoritative vault and delegation state
// machines on top of an in-process execution environment that provides the
// guarantees the protocol assumes: single-writer-per-record transitions,
// transaction atomicity (fully applied or fully rejected), a monotonic clock,
// and event emission. Records are owned exclusively by this package; other
// components submit transactions and observe state only through queries.
//
// The clock is read through requestcontext.Now(ctx) so tests pin transaction
// time without touching the state machine.
package ledger

import (
	"context"
	"sync"
	"time"

	"evault/pkg/domain"
	"evault/pkg/requestcontext"
)

const (
	// RentExemptMinimum is the balance floor a live record must keep for
	// storage rent. Sweeps and rewards only touch balance above it; the
	// floor itself is reclaimed when the record is destroyed.
	RentExemptMinimum uint64 = 2_000

	// RewardCap bounds the cleanup reward paid to third-party callers so
	// the incentive can never exceed a small absolute amount regardless of
	// vault balance.
	RewardCap uint64 = 10_000
)

// VaultRecord is the authoritative custody record for one delegation.
//
// Invariants, held at every observable state:
//   - TotalSpent <= TotalDeposited <= MaxDeposit
//   - IsActive implies now <= SessionExpiry at transition time
//   - once IsActive goes false it never returns to true
type VaultRecord struct {
	Parent         domain.Identity
	Ephemeral      domain.Identity
	SessionStart   time.Time
	SessionExpiry  time.Time
	IsActive       bool
	MaxDeposit     uint64
	TotalDeposited uint64
	TotalSpent     uint64
	DerivationBump uint8
}

// DelegationRecord binds one ephemeral identity as the sole authorized
// spender against one vault. Mutated once, to set RevokedAt; never
// resurrected.
type DelegationRecord struct {
	Vault          domain.Address
	Delegate       domain.Identity
	ApprovedAt     time.Time
	RevokedAt      *time.Time
	DerivationBump uint8
}

// Revoked reports whether spends are no longer authorized.
func (d DelegationRecord) Revoked() bool {
	return d.RevokedAt != nil
}

// Ledger holds all records and account balances. Transactions against a
// given vault serialize on a per-vault lock; transactions against different
// vaults proceed independently.
type Ledger struct {
	mu          sync.Mutex
	vaults      map[domain.Address]*VaultRecord
	delegations map[domain.Address]*DelegationRecord
	vaultLocks  map[domain.Address]*sync.Mutex

	balancesMu sync.Mutex
	balances   map[[32]byte]uint64

	sink EventSink
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithEventSink wires event emission. Without a sink, events are dropped.
func WithEventSink(sink EventSink) Option {
	return func(l *Ledger) {
		l.sink = sink
	}
}

// New constructs an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		vaults:      make(map[domain.Address]*VaultRecord),
		delegations: make(map[domain.Address]*DelegationRecord),
		vaultLocks:  make(map[domain.Address]*sync.Mutex),
		balances:    make(map[[32]byte]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) emit(event Event) {
	if l.sink != nil {
		l.sink.PublishLedgerEvent(event)
	}
}

// vaultLock returns the single-writer lock for a vault address.
func (l *Ledger) vaultLock(addr domain.Address) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.vaultLocks[addr]
	if !ok {
		lock = &sync.Mutex{}
		l.vaultLocks[addr] = lock
	}
	return lock
}

func (l *Ledger) vault(addr domain.Address) (*VaultRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.vaults[addr]
	return v, ok
}

func (l *Ledger) delegation(addr domain.Address) (*DelegationRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.delegations[addr]
	return d, ok
}

// Fund credits an identity's account. This stands in for external funding of
// parent wallets; balances only move between accounts after that.
func (l *Ledger) Fund(id domain.Identity, amount uint64) {
	l.balancesMu.Lock()
	defer l.balancesMu.Unlock()
	l.balances[id] += amount
}

// BalanceOf reports an identity's account balance.
func (l *Ledger) BalanceOf(id domain.Identity) uint64 {
	l.balancesMu.Lock()
	defer l.balancesMu.Unlock()
	return l.balances[id]
}

// VaultBalance reports a vault account's balance, including the rent floor.
func (l *Ledger) VaultBalance(addr domain.Address) uint64 {
	l.balancesMu.Lock()
	defer l.balancesMu.Unlock()
	return l.balances[addr]
}

// transfer moves amount between two accounts atomically, rejecting rather
// than overdrawing.
func (l *Ledger) transfer(from, to [32]byte, amount uint64) error {
	l.balancesMu.Lock()
	defer l.balancesMu.Unlock()
	if l.balances[from] < amount {
		return ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func ensureActiveAndNotExpired(v *VaultRecord, now time.Time) error {
	if !v.IsActive {
		return ErrVaultInactive
	}
	if now.After(v.SessionExpiry) {
		return ErrSessionExpired
	}
	return nil
}

// CreateVaultParams carries the create_vault transaction inputs. Parent is
// the required signer and funds the record's rent.
type CreateVaultParams struct {
	Parent     domain.Identity
	Ephemeral  domain.Identity
	Duration   time.Duration
	MaxDeposit uint64
}

// CreateVault initializes the vault record at its derived address.
// Fails with ErrMathOverflow when the duration overflows the expiry
// timestamp and with ErrVaultExists on a retried create for the same
// (parent, ephemeral) pair.
func (l *Ledger) CreateVault(ctx context.Context, p CreateVaultParams) (domain.Address, error) {
	addr, bump := domain.VaultAddress(p.Parent, p.Ephemeral)

	lock := l.vaultLock(addr)
	lock.Lock()
	defer lock.Unlock()

	if _, exists := l.vault(addr); exists {
		return addr, ErrVaultExists
	}

	now := requestcontext.Now(ctx)
	expiryUnix, err := domain.CheckedAddInt64(now.Unix(), int64(p.Duration/time.Second))
	if err != nil {
		return domain.Address{}, ErrMathOverflow
	}

	if err := l.transfer(p.Parent, addr, RentExemptMinimum); err != nil {
		return domain.Address{}, err
	}

	record := &VaultRecord{
		Parent:         p.Parent,
		Ephemeral:      p.Ephemeral,
		SessionStart:   now,
		SessionExpiry:  time.Unix(expiryUnix, 0),
		IsActive:       true,
		MaxDeposit:     p.MaxDeposit,
		DerivationBump: bump,
	}

	l.mu.Lock()
	l.vaults[addr] = record
	l.mu.Unlock()

	l.emit(VaultCreated{
		Parent:        p.Parent,
		Vault:         addr,
		Ephemeral:     p.Ephemeral,
		MaxDeposit:    p.MaxDeposit,
		SessionStart:  record.SessionStart,
		SessionExpiry: record.SessionExpiry,
	})
	return addr, nil
}
