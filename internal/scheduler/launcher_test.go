package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velikanghost/riskon/internal/domain"
)

// fakeCalc doubles the reference price so targets are easy to assert on.
type fakeCalc struct {
	err error
}

func (f *fakeCalc) Compute(current decimal.Decimal, _ domain.TargetPolicy) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Decimal{}, f.err
	}
	return current.Mul(decimal.NewFromInt(2)), nil
}

func TestLauncherOpensRoundOnFreshMarket(t *testing.T) {
	ledger := &fakeLedger{markets: []domain.Market{testMarket(1, "BTC/USD")}}
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(50000)}}

	l := NewLauncher(ledger, oracle, &fakeCalc{}, 2, quietLogger())
	result := l.Run(context.Background())

	require.Empty(t, result.Errors)
	require.Len(t, result.Started, 1)
	assert.Equal(t, int64(1), result.Started[0].MarketID)
	assert.True(t, result.Started[0].PriceTarget.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, []int64{1}, ledger.started)
}

func TestLauncherOpensRoundAfterResolution(t *testing.T) {
	resolved := endedRound(7, time.Now().Add(-time.Minute))
	resolved.Resolved = true
	ledger := &fakeLedger{
		markets: []domain.Market{testMarket(1, "BTC/USD")},
		rounds:  map[int64]domain.Round{1: resolved},
	}
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(50000)}}

	l := NewLauncher(ledger, oracle, &fakeCalc{}, 1, quietLogger())
	result := l.Run(context.Background())

	require.Len(t, result.Started, 1)
}

func TestLauncherSkipsLiveRound(t *testing.T) {
	ledger := &fakeLedger{
		markets: []domain.Market{testMarket(1, "BTC/USD")},
		rounds:  map[int64]domain.Round{1: endedRound(7, time.Now().Add(time.Minute))},
	}
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(50000)}}

	l := NewLauncher(ledger, oracle, &fakeCalc{}, 1, quietLogger())
	result := l.Run(context.Background())

	assert.Empty(t, result.Started)
	assert.Empty(t, result.Errors)
	assert.Empty(t, ledger.started)
}

func TestLauncherWaitsForUnresolvedEndedRound(t *testing.T) {
	// The round has ended but the resolver has not settled it yet. Opening a
	// new round now would orphan the unresolved one, so the market stays
	// ineligible until resolution.
	ledger := &fakeLedger{
		markets: []domain.Market{testMarket(1, "BTC/USD")},
		rounds:  map[int64]domain.Round{1: endedRound(7, time.Now().Add(-time.Minute))},
	}
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(50000)}}

	l := NewLauncher(ledger, oracle, &fakeCalc{}, 1, quietLogger())
	result := l.Run(context.Background())

	assert.Empty(t, result.Started)
	assert.Empty(t, result.Errors)
}

func TestLauncherRequiresPolicy(t *testing.T) {
	market := testMarket(1, "DOGE/USD")
	market.Policy = domain.TargetPolicy{}
	ledger := &fakeLedger{markets: []domain.Market{market}}
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{"DOGE/USD": decimal.NewFromInt(1)}}

	l := NewLauncher(ledger, oracle, &fakeCalc{}, 1, quietLogger())
	result := l.Run(context.Background())

	assert.Empty(t, result.Started)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Err, domain.ErrNoPolicy.Error())
	assert.Empty(t, ledger.started, "no round opens without a target policy")
}

func TestLauncherAbsorbsActiveRoundRace(t *testing.T) {
	ledger := &fakeLedger{
		markets:  []domain.Market{testMarket(1, "BTC/USD")},
		startErr: map[int64]error{1: domain.ErrRoundActive},
	}
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(50000)}}

	l := NewLauncher(ledger, oracle, &fakeCalc{}, 1, quietLogger())
	result := l.Run(context.Background())

	assert.Empty(t, result.Errors, "a lost start race is not an error")
	assert.Empty(t, result.Started)
}

func TestLauncherIsolatesPerMarketFailures(t *testing.T) {
	ledger := &fakeLedger{
		markets: []domain.Market{
			testMarket(1, "BTC/USD"),
			testMarket(2, "ETH/USD"),
		},
	}
	oracle := &fakeOracle{
		prices: map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(50000)},
		errs:   map[string]error{"ETH/USD": errors.New("hermes timeout")},
	}

	l := NewLauncher(ledger, oracle, &fakeCalc{}, 2, quietLogger())
	result := l.Run(context.Background())

	assert.Len(t, result.Started, 1)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, int64(2), result.Errors[0].MarketID)
}

func TestLauncherBroadcastsStartedRounds(t *testing.T) {
	ledger := &fakeLedger{markets: []domain.Market{testMarket(1, "BTC/USD")}}
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(50000)}}
	broadcaster := &fakeBroadcaster{}

	l := NewLauncher(ledger, oracle, &fakeCalc{}, 1, quietLogger(), WithLaunchBroadcaster(broadcaster))
	result := l.Run(context.Background())
	require.Len(t, result.Started, 1)

	require.Len(t, broadcaster.events, 1)
	assert.Equal(t, "round:started", broadcaster.events[0].event)
}
