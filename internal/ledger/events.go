package ledger

import (
	"time"

	"evault/pkg/domain"
)

// Event is a durable-state transition notification emitted by the ledger.
// Delivery to sinks is best-effort; the record itself is the durable truth.
type Event interface {
	Kind() string
}

// EventSink receives ledger events. Implementations must not block the
// transaction path; drop instead of stalling.
type EventSink interface {
	PublishLedgerEvent(event Event)
}

type VaultCreated struct {
	Parent        domain.Identity `json:"parent"`
	Vault         domain.Address  `json:"vault"`
	Ephemeral     domain.Identity `json:"ephemeral_wallet"`
	MaxDeposit    uint64          `json:"max_deposit"`
	SessionStart  time.Time       `json:"session_start"`
	SessionExpiry time.Time       `json:"session_expiry"`
}

func (VaultCreated) Kind() string { return "vault_created" }

type DelegateApproved struct {
	Vault      domain.Address  `json:"vault"`
	Delegate   domain.Identity `json:"delegate"`
	ApprovedAt time.Time       `json:"approved_at"`
}

func (DelegateApproved) Kind() string { return "delegate_approved" }

type AutoDeposit struct {
	Vault          domain.Address `json:"vault"`
	Amount         uint64         `json:"amount"`
	TotalDeposited uint64         `json:"total_deposited"`
}

func (AutoDeposit) Kind() string { return "auto_deposit" }

type TradeExecuted struct {
	Vault      domain.Address  `json:"vault"`
	Delegate   domain.Identity `json:"delegate"`
	FeePaid    uint64          `json:"fee_paid"`
	TotalSpent uint64          `json:"total_spent"`
}

func (TradeExecuted) Kind() string { return "trade_executed" }

type AccessRevoked struct {
	Vault     domain.Address  `json:"vault"`
	Parent    domain.Identity `json:"parent"`
	RevokedAt time.Time       `json:"revoked_at"`
}

func (AccessRevoked) Kind() string { return "access_revoked" }

type VaultCleaned struct {
	Vault   domain.Address  `json:"vault"`
	Parent  domain.Identity `json:"parent"`
	Cleaner domain.Identity `json:"cleaner"`
	Reward  uint64          `json:"reward"`
}

func (VaultCleaned) Kind() string { return "vault_cleaned" }
