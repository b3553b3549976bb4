// Package scheduler owns the round lifecycle: deciding when rounds are
// resolved, opening new ones, and the timed loops that drive both.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/velikanghost/riskon/internal/domain"
)

// passLockTTL bounds how long a redundant resolver instance is locked out
// when another instance is mid-pass.
const passLockTTL = 2 * time.Minute

// Ledger is the contract facade the passes drive.
type Ledger interface {
	ListActiveMarkets(ctx context.Context) ([]domain.Market, error)
	CurrentRound(ctx context.Context, marketID int64) (domain.Round, error)
	StartRound(ctx context.Context, marketID int64, target decimal.Decimal) (domain.RoundReceipt, error)
	ResolveRound(ctx context.Context, marketID, roundID int64, finalPrice decimal.Decimal) (domain.ResolveReceipt, error)
}

// Oracle fetches the authoritative reference price for a symbol.
type Oracle interface {
	FetchPrice(ctx context.Context, symbol string) (domain.Price, error)
}

// Recorder persists resolved rounds to the history store.
type Recorder interface {
	RecordResolution(ctx context.Context, market domain.Market, round domain.Round, receipt domain.ResolveReceipt) error
}

// Resolver settles every ended, unresolved round across the active markets.
type Resolver struct {
	ledger Ledger
	oracle Oracle
	logger *slog.Logger

	// now is injectable for boundary tests.
	now func() time.Time

	// concurrency bounds per-market fan-out within a pass.
	concurrency int

	// Optional collaborators; all nil-safe.
	recorder    Recorder
	broadcaster domain.Broadcaster
	priceCache  domain.PriceCache
	locks       domain.LockManager
}

// ResolverOption configures optional resolver collaborators.
type ResolverOption func(*Resolver)

// WithRecorder persists each resolution to the history store.
func WithRecorder(rec Recorder) ResolverOption {
	return func(r *Resolver) { r.recorder = rec }
}

// WithBroadcaster emits round:resolved events.
func WithBroadcaster(b domain.Broadcaster) ResolverOption {
	return func(r *Resolver) { r.broadcaster = b }
}

// WithPriceCache records the settlement price as the latest observed price.
func WithPriceCache(pc domain.PriceCache) ResolverOption {
	return func(r *Resolver) { r.priceCache = pc }
}

// WithLockManager skips a pass entirely when another resolver instance holds
// the pass lock. The ledger's idempotence remains the backstop either way.
func WithLockManager(lm domain.LockManager) ResolverOption {
	return func(r *Resolver) { r.locks = lm }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver. concurrency <= 0 means sequential.
func NewResolver(ledger Ledger, oracle Oracle, concurrency int, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if concurrency <= 0 {
		concurrency = 1
	}
	r := &Resolver{
		ledger:      ledger,
		oracle:      oracle,
		logger:      logger.With(slog.String("component", "resolver")),
		now:         time.Now,
		concurrency: concurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one resolve pass over all active markets. It always returns an
// aggregate result, even when every market fails; errors never escape the
// pass boundary.
func (r *Resolver) Run(ctx context.Context) domain.ResolvePassResult {
	result := domain.ResolvePassResult{PassID: uuid.New().String()}

	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, "pass:resolve", passLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.Info("resolve pass skipped, another resolver holds the lock",
				slog.String("pass_id", result.PassID))
			return result
		}
		if err != nil {
			// Lock service trouble must not block resolution; the ledger
			// rejects duplicate resolutions anyway.
			r.logger.Warn("resolve pass lock unavailable, continuing without it",
				slog.String("error", err.Error()))
		} else {
			defer unlock()
		}
	}

	markets, err := r.ledger.ListActiveMarkets(ctx)
	if err != nil {
		result.Errors = append(result.Errors, domain.PassError{Err: err.Error()})
		r.logger.Error("resolve pass could not list markets", slog.String("error", err.Error()))
		r.notifyPassErrors(result)
		return result
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, market := range markets {
		g.Go(func() error {
			resolved, err := r.resolveMarket(gctx, market)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, domain.PassError{
					MarketID: market.ID,
					Symbol:   market.Symbol,
					Err:      err.Error(),
				})
				return nil // one market's failure never aborts the pass
			}
			if resolved != nil {
				result.ResolvedRounds = append(result.ResolvedRounds, *resolved)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("resolve pass complete",
		slog.String("pass_id", result.PassID),
		slog.Int("markets", len(markets)),
		slog.Int("resolved", len(result.ResolvedRounds)),
		slog.Int("errors", len(result.Errors)),
	)
	r.notifyPassErrors(result)
	return result
}

// notifyPassErrors surfaces partial pass failures to subscribers. Clean passes
// stay quiet.
func (r *Resolver) notifyPassErrors(result domain.ResolvePassResult) {
	if r.broadcaster == nil || len(result.Errors) == 0 {
		return
	}
	r.broadcaster.Broadcast("pass:errors", map[string]any{
		"passId": result.PassID,
		"kind":   "resolve",
		"errors": result.Errors,
	})
}

// resolveMarket settles a single market's round if it has ended unresolved.
// A nil, nil return means there was nothing to do.
func (r *Resolver) resolveMarket(ctx context.Context, market domain.Market) (*domain.ResolvedRound, error) {
	round, err := r.ledger.CurrentRound(ctx, market.ID)
	if errors.Is(err, domain.ErrNoRound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if round.Resolved || !round.NeedsResolution(r.now()) {
		return nil, nil
	}

	price, err := r.oracle.FetchPrice(ctx, market.Symbol)
	if err != nil {
		return nil, err
	}

	receipt, err := r.ledger.ResolveRound(ctx, market.ID, round.ID, price.Value)
	if errors.Is(err, domain.ErrAlreadyResolved) {
		// Another actor won the race; the desired end-state holds.
		r.logger.Debug("round already resolved by another actor",
			slog.Int64("market_id", market.ID),
			slog.Int64("round_id", round.ID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.afterResolve(ctx, market, round, price, receipt)

	return &domain.ResolvedRound{
		MarketID:   market.ID,
		Symbol:     market.Symbol,
		RoundID:    round.ID,
		FinalPrice: price.Value,
		TxHash:     receipt.TxHash,
	}, nil
}

// afterResolve feeds the optional collaborators. Failures here are logged and
// swallowed: the on-chain resolution already succeeded.
func (r *Resolver) afterResolve(ctx context.Context, market domain.Market, round domain.Round, price domain.Price, receipt domain.ResolveReceipt) {
	round.Resolved = true
	round.FinalPrice = price.Value
	round.Outcome = price.Value.GreaterThanOrEqual(round.PriceTarget)

	if r.priceCache != nil {
		if err := r.priceCache.SetPrice(ctx, market.Symbol, price.Value, price.PublishedAt); err != nil {
			r.logger.Warn("price cache update failed", slog.String("error", err.Error()))
		}
	}
	if r.recorder != nil {
		if err := r.recorder.RecordResolution(ctx, market, round, receipt); err != nil {
			r.logger.Warn("history record failed",
				slog.Int64("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.broadcaster != nil {
		r.broadcaster.Broadcast("round:resolved", map[string]any{
			"marketId":   market.ID,
			"symbol":     market.Symbol,
			"roundId":    round.ID,
			"finalPrice": price.Value,
			"outcome":    round.Outcome,
			"tx":         receipt.TxHash,
		})
	}
}
