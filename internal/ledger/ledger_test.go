package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velikanghost/riskon/internal/domain"
)

const testContract = "0x1111111111111111111111111111111111111111"

// fakeBackend implements Backend with pluggable behavior per call.
type fakeBackend struct {
	callFn    func(msg ethereum.CallMsg) ([]byte, error)
	nonce     uint64
	gasPrice  *big.Int
	estimate  func(msg ethereum.CallMsg) (uint64, error)
	sent      []*types.Transaction
	sendErr   error
	receiptFn func(txHash common.Hash) (*types.Receipt, error)
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.callFn(msg)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return f.gasPrice, nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return f.estimate(msg)
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receiptFn != nil {
		return f.receiptFn(txHash)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(42),
	}, nil
}

func testABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(RiskonABI))
	require.NoError(t, err)
	return parsed
}

func newTestLedger(t *testing.T, backend *fakeBackend) *Ledger {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	l, err := NewWithBackend(backend, Config{
		ChainID:         50312,
		ContractAddress: testContract,
		PrivateKey:      key,
		Policies: map[string]domain.TargetPolicy{
			"BTC/USD": {Kind: domain.PolicyPercent, Percent: decimal.RequireFromString("0.2")},
		},
	}, slog.Default())
	require.NoError(t, err)
	return l
}

func TestListActiveMarketsFiltersInactive(t *testing.T) {
	parsed := testABI(t)
	packed, err := parsed.Methods["getMarkets"].Outputs.Pack(
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
		[]string{"BTC/USD", "ETH/USD"},
		[]string{"Bitcoin", "Ethereum"},
		[]bool{true, false},
	)
	require.NoError(t, err)

	backend := &fakeBackend{callFn: func(ethereum.CallMsg) ([]byte, error) {
		return packed, nil
	}}
	l := newTestLedger(t, backend)

	markets, err := l.ListActiveMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, int64(1), markets[0].ID)
	assert.Equal(t, "BTC/USD", markets[0].Symbol)
	assert.Equal(t, domain.PolicyPercent, markets[0].Policy.Kind)
}

func TestCurrentRoundDecodesFixedPoint(t *testing.T) {
	parsed := testABI(t)
	// target 50100.00 at 8 decimals, pools at 18 decimals.
	packed, err := parsed.Methods["getCurrentRoundInfo"].Outputs.Pack(
		big.NewInt(7),
		big.NewInt(1_700_000_000),
		big.NewInt(1_700_000_180),
		big.NewInt(5_010_000_000_000),
		new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18)),
		new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		false,
	)
	require.NoError(t, err)

	backend := &fakeBackend{callFn: func(ethereum.CallMsg) ([]byte, error) {
		return packed, nil
	}}
	l := newTestLedger(t, backend)

	round, err := l.CurrentRound(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), round.ID)
	assert.True(t, round.PriceTarget.Equal(decimal.RequireFromString("50100")), "got %s", round.PriceTarget)
	assert.True(t, round.TotalOver.Equal(decimal.NewFromInt(3)))
	assert.True(t, round.TotalUnder.Equal(decimal.NewFromInt(2)))
	assert.False(t, round.Resolved)
	assert.Equal(t, int64(180), int64(round.End.Sub(round.Start).Seconds()))
}

func TestCurrentRoundNoRound(t *testing.T) {
	parsed := testABI(t)
	packed, err := parsed.Methods["getCurrentRoundInfo"].Outputs.Pack(
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
		big.NewInt(0), big.NewInt(0), false,
	)
	require.NoError(t, err)

	backend := &fakeBackend{callFn: func(ethereum.CallMsg) ([]byte, error) {
		return packed, nil
	}}
	l := newTestLedger(t, backend)

	_, err = l.CurrentRound(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrNoRound)
}

func TestResolveRoundSubmitsEightDecimalPrice(t *testing.T) {
	backend := &fakeBackend{
		callFn: func(ethereum.CallMsg) ([]byte, error) { return nil, nil },
	}
	l := newTestLedger(t, backend)

	receipt, err := l.ResolveRound(context.Background(), 1, 7, decimal.RequireFromString("50200.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.MarketID)
	assert.Equal(t, int64(7), receipt.RoundID)
	assert.Equal(t, uint64(42), receipt.BlockNumber)

	require.Len(t, backend.sent, 1)
	parsed := testABI(t)
	wantData, err := parsed.Pack("resolveRoundWithPrice",
		big.NewInt(1), big.NewInt(7), big.NewInt(5_020_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, wantData, backend.sent[0].Data())
}

func TestResolveRoundAlreadyResolvedMapsSentinel(t *testing.T) {
	backend := &fakeBackend{
		estimate: func(ethereum.CallMsg) (uint64, error) {
			return 0, errors.New("execution reverted: Round already resolved")
		},
	}
	l := newTestLedger(t, backend)

	_, err := l.ResolveRound(context.Background(), 1, 7, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Empty(t, backend.sent, "no transaction should be sent after a revert")
}

func TestStartRoundActiveRoundMapsSentinel(t *testing.T) {
	backend := &fakeBackend{
		estimate: func(ethereum.CallMsg) (uint64, error) {
			return 0, errors.New("execution reverted: Market has an active round")
		},
	}
	l := newTestLedger(t, backend)

	_, err := l.StartRound(context.Background(), 1, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrRoundActive)
}

func TestTransactRevertedReceipt(t *testing.T) {
	backend := &fakeBackend{
		callFn: func(ethereum.CallMsg) ([]byte, error) { return nil, nil },
		receiptFn: func(txHash common.Hash) (*types.Receipt, error) {
			return &types.Receipt{
				Status:      types.ReceiptStatusFailed,
				TxHash:      txHash,
				BlockNumber: big.NewInt(43),
			}, nil
		},
	}
	l := newTestLedger(t, backend)

	_, err := l.StartRound(context.Background(), 1, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrTxFailed)
}

func TestWritesWithoutKeyUnauthorized(t *testing.T) {
	backend := &fakeBackend{}
	l, err := NewWithBackend(backend, Config{
		ChainID:         50312,
		ContractAddress: testContract,
	}, slog.Default())
	require.NoError(t, err)

	_, err = l.StartRound(context.Background(), 1, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
