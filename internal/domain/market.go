package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PolicyKind selects how a round's target price is derived from the current
// price.
type PolicyKind string

const (
	// PolicyPercent places the target a fixed percentage above the current
	// price (increment-only).
	PolicyPercent PolicyKind = "percent"

	// PolicyFixed places the target a fixed USD amount above or below the
	// current price.
	PolicyFixed PolicyKind = "fixed"
)

// Direction controls which side of the current price a fixed-offset target
// lands on.
type Direction string

const (
	DirectionAbove  Direction = "above"
	DirectionBelow  Direction = "below"
	DirectionRandom Direction = "random"
)

// TargetPolicy is a market's configured target-price derivation rule.
type TargetPolicy struct {
	Kind PolicyKind

	// Percent is the increment percentage for PolicyPercent (0.2 means +0.2%).
	Percent decimal.Decimal

	// OffsetUSD is the absolute dollar offset for PolicyFixed.
	OffsetUSD decimal.Decimal

	// Direction applies to PolicyFixed only; PolicyPercent is always above.
	Direction Direction
}

// Validate checks that the policy parameters are internally consistent.
func (p TargetPolicy) Validate() error {
	switch p.Kind {
	case PolicyPercent:
		if p.Percent.Sign() <= 0 {
			return fmt.Errorf("percent policy requires a positive percent, got %s", p.Percent)
		}
	case PolicyFixed:
		if p.OffsetUSD.Sign() <= 0 {
			return fmt.Errorf("fixed policy requires a positive offset, got %s", p.OffsetUSD)
		}
		switch p.Direction {
		case DirectionAbove, DirectionBelow, DirectionRandom:
		default:
			return fmt.Errorf("fixed policy has invalid direction %q", p.Direction)
		}
	default:
		return fmt.Errorf("unknown policy kind %q", p.Kind)
	}
	return nil
}

// Market is a tradeable prediction market as recorded on the ledger contract.
// Markets are created and administered externally; this service only reads
// them and drives their round lifecycle.
type Market struct {
	ID     int64
	Symbol string // e.g. "BTC/USD"
	Name   string
	Active bool

	// Policy is the per-symbol target policy attached from configuration.
	// Zero-valued (Kind == "") when no policy is configured for the symbol.
	Policy TargetPolicy
}

// HasPolicy reports whether a target policy is configured for this market.
func (m Market) HasPolicy() bool {
	return m.Policy.Kind != ""
}
