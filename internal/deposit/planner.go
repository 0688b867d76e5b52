// Package deposit computes how much a parent should pre-fund a vault for an
// expected number of trades at a given priority tier.
package deposit

import (
	dErrors "evault/pkg/domain-errors"
	"evault/pkg/domain"
)

// Priority selects the per-trade fee estimate. Tiers are ordered
// Low < Medium < High in fee magnitude.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Per-trade fee estimates. A production deployment would refresh these from
// recent fee-market data with a safety margin; the constants keep the
// planner deterministic.
const (
	feeLow    uint64 = 5_000
	feeMedium uint64 = 10_000
	feeHigh   uint64 = 25_000
)

// ParsePriority constructs a Priority from external input.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	case "":
		return "", dErrors.New(dErrors.CodeBadRequest, "priority cannot be empty")
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid priority")
	}
}

// IsValid checks the priority is one of the supported tiers.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// PerTradeFee returns the fee estimate for one trade at the given priority.
func PerTradeFee(priority Priority) uint64 {
	switch priority {
	case PriorityHigh:
		return feeHigh
	case PriorityMedium:
		return feeMedium
	default:
		return feeLow
	}
}

// ComputeForTrades returns trades * per-trade fee with checked
// multiplication. Overflow is a rejection, never a silent clamp.
func ComputeForTrades(trades uint64, priority Priority) (uint64, error) {
	if !priority.IsValid() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid priority")
	}
	amount, err := domain.CheckedMul(trades, PerTradeFee(priority))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "deposit calculation overflow")
	}
	return amount, nil
}
