package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Round is one timed betting period for a market. Round IDs are monotonic per
// market starting at 1; a resolved round is immutable.
type Round struct {
	MarketID int64
	ID       int64
	Start    time.Time
	End      time.Time

	// PriceTarget is the threshold the outcome is judged against, in USD.
	PriceTarget decimal.Decimal

	// TotalOver and TotalUnder are the staked pools for each outcome, in
	// native token units.
	TotalOver  decimal.Decimal
	TotalUnder decimal.Decimal

	Resolved bool

	// Outcome is true when the settlement price was at or above the target.
	// Valid only when Resolved.
	Outcome bool

	// FinalPrice is the settlement price. Valid only when Resolved.
	FinalPrice decimal.Decimal
}

// Live reports whether the round is accepting bets at the given instant.
func (r Round) Live(now time.Time) bool {
	return !r.Resolved && now.Before(r.End)
}

// NeedsResolution reports whether the round has ended without being resolved.
// A round becomes eligible exactly at its end time.
func (r Round) NeedsResolution(now time.Time) bool {
	return !r.Resolved && !now.Before(r.End)
}

// RoundReceipt is the confirmation of a startRound transaction.
type RoundReceipt struct {
	TxHash      string
	BlockNumber uint64
	MarketID    int64
	PriceTarget decimal.Decimal
}

// ResolveReceipt is the confirmation of a resolveRound transaction.
type ResolveReceipt struct {
	TxHash      string
	BlockNumber uint64
	MarketID    int64
	RoundID     int64
	FinalPrice  decimal.Decimal
}

// Price is an oracle price observation for a symbol.
type Price struct {
	Symbol      string
	Value       decimal.Decimal
	PublishedAt time.Time
}
