package domain

import "github.com/shopspring/decimal"

// PassError records a single market's failure inside a pass. Failures are
// per-market: one market's error never aborts the rest of the pass.
type PassError struct {
	MarketID int64  `json:"marketId"`
	Symbol   string `json:"symbol"`
	Err      string `json:"error"`
}

// ResolvedRound records one successful resolution inside a resolve pass.
type ResolvedRound struct {
	MarketID   int64           `json:"marketId"`
	Symbol     string          `json:"symbol"`
	RoundID    int64           `json:"roundId"`
	FinalPrice decimal.Decimal `json:"finalPrice"`
	TxHash     string          `json:"transactionHash"`
}

// ResolvePassResult is the aggregate outcome of one resolve pass over all
// active markets. It is always produced, even when every market fails.
type ResolvePassResult struct {
	PassID         string          `json:"passId"`
	ResolvedRounds []ResolvedRound `json:"resolvedRounds"`
	Errors         []PassError     `json:"errors,omitempty"`
}

// StartedRound records one successfully opened round inside a launch pass.
type StartedRound struct {
	MarketID    int64           `json:"marketId"`
	Symbol      string          `json:"symbol"`
	PriceTarget decimal.Decimal `json:"priceTarget"`
	TxHash      string          `json:"transactionHash"`
}

// LaunchPassResult is the aggregate outcome of one new-round pass.
type LaunchPassResult struct {
	PassID  string         `json:"passId"`
	Started []StartedRound `json:"started"`
	Errors  []PassError    `json:"errors,omitempty"`
}
