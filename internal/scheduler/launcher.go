package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/velikanghost/riskon/internal/domain"
)

// Calculator derives a round's target price from the current reference price.
type Calculator interface {
	Compute(current decimal.Decimal, policy domain.TargetPolicy) (decimal.Decimal, error)
}

// Launcher opens new rounds on markets whose previous round has concluded.
type Launcher struct {
	ledger Ledger
	oracle Oracle
	calc   Calculator
	logger *slog.Logger

	concurrency int

	broadcaster domain.Broadcaster
}

// LauncherOption configures optional launcher collaborators.
type LauncherOption func(*Launcher)

// WithLaunchBroadcaster emits round:started events.
func WithLaunchBroadcaster(b domain.Broadcaster) LauncherOption {
	return func(l *Launcher) { l.broadcaster = b }
}

// NewLauncher creates a Launcher. concurrency <= 0 means sequential.
func NewLauncher(ledger Ledger, oracle Oracle, calc Calculator, concurrency int, logger *slog.Logger, opts ...LauncherOption) *Launcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	l := &Launcher{
		ledger:      ledger,
		oracle:      oracle,
		calc:        calc,
		logger:      logger.With(slog.String("component", "launcher")),
		concurrency: concurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes one new-round pass over all active markets. Like the resolve
// pass, it always returns an aggregate result and never propagates a
// per-market failure.
func (l *Launcher) Run(ctx context.Context) domain.LaunchPassResult {
	result := domain.LaunchPassResult{PassID: uuid.New().String()}

	markets, err := l.ledger.ListActiveMarkets(ctx)
	if err != nil {
		result.Errors = append(result.Errors, domain.PassError{Err: err.Error()})
		l.logger.Error("new-round pass could not list markets", slog.String("error", err.Error()))
		l.notifyPassErrors(result)
		return result
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for _, market := range markets {
		g.Go(func() error {
			started, err := l.launchMarket(gctx, market)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, domain.PassError{
					MarketID: market.ID,
					Symbol:   market.Symbol,
					Err:      err.Error(),
				})
				return nil
			}
			if started != nil {
				result.Started = append(result.Started, *started)
			}
			return nil
		})
	}
	_ = g.Wait()

	l.logger.Info("new-round pass complete",
		slog.String("pass_id", result.PassID),
		slog.Int("markets", len(markets)),
		slog.Int("started", len(result.Started)),
		slog.Int("errors", len(result.Errors)),
	)
	l.notifyPassErrors(result)
	return result
}

func (l *Launcher) notifyPassErrors(result domain.LaunchPassResult) {
	if l.broadcaster == nil || len(result.Errors) == 0 {
		return
	}
	l.broadcaster.Broadcast("pass:errors", map[string]any{
		"passId": result.PassID,
		"kind":   "new-round",
		"errors": result.Errors,
	})
}

// launchMarket opens a new round on one market if it is eligible. A nil, nil
// return means the market is not ready for a new round.
func (l *Launcher) launchMarket(ctx context.Context, market domain.Market) (*domain.StartedRound, error) {
	eligible, err := l.needsNewRound(ctx, market.ID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, nil
	}

	if !market.HasPolicy() {
		return nil, fmt.Errorf("market %q: %w", market.Symbol, domain.ErrNoPolicy)
	}

	price, err := l.oracle.FetchPrice(ctx, market.Symbol)
	if err != nil {
		return nil, err
	}

	target, err := l.calc.Compute(price.Value, market.Policy)
	if err != nil {
		return nil, err
	}

	receipt, err := l.ledger.StartRound(ctx, market.ID, target)
	if errors.Is(err, domain.ErrRoundActive) {
		// Raced with another launcher; a live round is the desired state.
		l.logger.Debug("round already opened by another actor",
			slog.Int64("market_id", market.ID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("round started",
		slog.Int64("market_id", market.ID),
		slog.String("symbol", market.Symbol),
		slog.String("price_target", target.String()),
		slog.String("tx", receipt.TxHash),
	)

	if l.broadcaster != nil {
		l.broadcaster.Broadcast("round:started", map[string]any{
			"marketId":    market.ID,
			"symbol":      market.Symbol,
			"priceTarget": target,
			"tx":          receipt.TxHash,
		})
	}

	return &domain.StartedRound{
		MarketID:    market.ID,
		Symbol:      market.Symbol,
		PriceTarget: target,
		TxHash:      receipt.TxHash,
	}, nil
}

// needsNewRound reports whether a market should receive a fresh round: either
// it has never had one, or its latest round is fully resolved. A round that
// has ended but is not yet resolved keeps the market ineligible until the
// resolver settles it.
func (l *Launcher) needsNewRound(ctx context.Context, marketID int64) (bool, error) {
	round, err := l.ledger.CurrentRound(ctx, marketID)
	if errors.Is(err, domain.ErrNoRound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return round.Resolved, nil
}
