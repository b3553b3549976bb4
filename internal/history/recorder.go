// Package history persists resolved rounds and ages them out of the primary
// store into object storage.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/velikanghost/riskon/internal/domain"
)

// Recorder writes resolved rounds into the round store as they settle.
type Recorder struct {
	store domain.RoundStore
	now   func() time.Time
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(store domain.RoundStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// RecordResolution persists one resolution. The store keeps it idempotent on
// the (market, round) pair, so replays after a race are harmless.
func (r *Recorder) RecordResolution(ctx context.Context, market domain.Market, round domain.Round, receipt domain.ResolveReceipt) error {
	rec := domain.RoundRecord{
		MarketID:    market.ID,
		Symbol:      market.Symbol,
		RoundID:     round.ID,
		Start:       round.Start,
		End:         round.End,
		PriceTarget: round.PriceTarget,
		FinalPrice:  round.FinalPrice,
		Outcome:     round.Outcome,
		TxHash:      receipt.TxHash,
		ResolvedAt:  r.now().UTC(),
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("history: record resolution: %w", err)
	}
	return nil
}

// ListByMarket returns a market's resolved rounds, most recent first.
func (r *Recorder) ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.RoundRecord, error) {
	return r.store.ListByMarket(ctx, marketID, opts)
}
