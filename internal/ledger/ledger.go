// Package ledger is the read/write facade over the on-chain riskon contract.
// Reads are safe to call concurrently; writes are serialized through a nonce
// mutex, submit one signed transaction, and block until it is mined. The
// facade never retries on its own; callers decide retry policy.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/velikanghost/riskon/internal/domain"
)

const (
	// priceDecimals is the fixed-point scale for USD prices on the contract.
	priceDecimals = 8

	// poolDecimals is the native-token scale for the staked pools.
	poolDecimals = 18
)

// Backend is the subset of the Ethereum client the ledger depends on.
// *ethclient.Client satisfies it; tests substitute a fake.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds the chain-side parameters for the ledger facade.
type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string

	// PrivateKey signs round lifecycle transactions. Nil is allowed for a
	// read-only ledger; writes then fail with ErrUnauthorized.
	PrivateKey *ecdsa.PrivateKey

	// ConfirmTimeout bounds the receipt wait per write. Zero means 90s.
	ConfirmTimeout time.Duration

	// PollInterval is the receipt polling cadence. Zero means 2s.
	PollInterval time.Duration

	// Policies maps market symbols to their target policies; attached to the
	// markets returned by ListActiveMarkets.
	Policies map[string]domain.TargetPolicy
}

// Ledger talks to the riskon contract.
type Ledger struct {
	backend  Backend
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	policies map[string]domain.TargetPolicy

	confirmTimeout time.Duration
	pollInterval   time.Duration

	// txMu serializes nonce assignment and submission across writes.
	txMu sync.Mutex

	logger *slog.Logger
}

// New dials the RPC endpoint and returns a Ledger bound to the configured
// contract.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ledger: rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.RPCURL, err)
	}
	return NewWithBackend(client, cfg, logger)
}

// NewWithBackend builds a Ledger on an existing backend. Used directly by
// tests.
func NewWithBackend(backend Backend, cfg Config, logger *slog.Logger) (*Ledger, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(RiskonABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse ABI: %w", err)
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 90 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	l := &Ledger{
		backend:        backend,
		abi:            parsed,
		address:        common.HexToAddress(cfg.ContractAddress),
		chainID:        big.NewInt(cfg.ChainID),
		key:            cfg.PrivateKey,
		policies:       cfg.Policies,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		logger:         logger.With(slog.String("component", "ledger")),
	}
	if cfg.PrivateKey != nil {
		l.from = ethcrypto.PubkeyToAddress(cfg.PrivateKey.PublicKey)
	}
	return l, nil
}

// ResolverAddress returns the address that signs writes (zero when read-only).
func (l *Ledger) ResolverAddress() common.Address {
	return l.from
}

// ListActiveMarkets returns all markets flagged active on the contract, with
// their configured target policies attached.
func (l *Ledger) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	var out marketsResult
	if err := l.call(ctx, "getMarkets", &out); err != nil {
		return nil, fmt.Errorf("ledger: get markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(out.Ids))
	for i, id := range out.Ids {
		if i >= len(out.Symbols) || i >= len(out.Names) || i >= len(out.Active) {
			return nil, fmt.Errorf("ledger: getMarkets returned ragged arrays")
		}
		if !out.Active[i] {
			continue
		}
		symbol := out.Symbols[i]
		markets = append(markets, domain.Market{
			ID:     id.Int64(),
			Symbol: symbol,
			Name:   out.Names[i],
			Active: true,
			Policy: l.policies[symbol],
		})
	}
	return markets, nil
}

// CurrentRound returns the most recent round for a market. The caller
// classifies it as live, pending resolution, or resolved. Returns
// domain.ErrNoRound when the market has never had a round.
func (l *Ledger) CurrentRound(ctx context.Context, marketID int64) (domain.Round, error) {
	var out roundInfoResult
	if err := l.call(ctx, "getCurrentRoundInfo", &out, big.NewInt(marketID)); err != nil {
		return domain.Round{}, fmt.Errorf("ledger: round info for market %d: %w", marketID, err)
	}

	if out.RoundId.Sign() == 0 {
		return domain.Round{}, fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrNoRound)
	}

	return domain.Round{
		MarketID:    marketID,
		ID:          out.RoundId.Int64(),
		Start:       time.Unix(out.StartTime.Int64(), 0).UTC(),
		End:         time.Unix(out.EndTime.Int64(), 0).UTC(),
		PriceTarget: decimal.NewFromBigInt(out.PriceTarget, -priceDecimals),
		TotalOver:   decimal.NewFromBigInt(out.TotalOver, -poolDecimals),
		TotalUnder:  decimal.NewFromBigInt(out.TotalUnder, -poolDecimals),
		Resolved:    out.Resolved,
	}, nil
}

// StartRound opens a new round for the market at the given USD target. It
// blocks until the transaction is mined. Returns domain.ErrRoundActive when
// the contract still has an unresolved live round for the market.
func (l *Ledger) StartRound(ctx context.Context, marketID int64, target decimal.Decimal) (domain.RoundReceipt, error) {
	receipt, err := l.transact(ctx, "startNewRound", big.NewInt(marketID), toUnits(target))
	if err != nil {
		return domain.RoundReceipt{}, fmt.Errorf("ledger: start round for market %d: %w", marketID, mapRevert(err))
	}

	l.logger.Info("round started",
		slog.Int64("market_id", marketID),
		slog.String("price_target", target.StringFixed(2)),
		slog.String("tx", receipt.TxHash.Hex()),
	)

	return domain.RoundReceipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		MarketID:    marketID,
		PriceTarget: target,
	}, nil
}

// ResolveRound settles a round at the given final price. It blocks until the
// transaction is mined. Returns domain.ErrAlreadyResolved when another actor
// resolved the round first; callers treat that as success-equivalent.
func (l *Ledger) ResolveRound(ctx context.Context, marketID, roundID int64, finalPrice decimal.Decimal) (domain.ResolveReceipt, error) {
	receipt, err := l.transact(ctx, "resolveRoundWithPrice",
		big.NewInt(marketID), big.NewInt(roundID), toUnits(finalPrice))
	if err != nil {
		return domain.ResolveReceipt{}, fmt.Errorf("ledger: resolve round %d for market %d: %w",
			roundID, marketID, mapRevert(err))
	}

	l.logger.Info("round resolved",
		slog.Int64("market_id", marketID),
		slog.Int64("round_id", roundID),
		slog.String("final_price", finalPrice.StringFixed(2)),
		slog.String("tx", receipt.TxHash.Hex()),
	)

	return domain.ResolveReceipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		MarketID:    marketID,
		RoundID:     roundID,
		FinalPrice:  finalPrice,
	}, nil
}

// call packs a view function, executes eth_call, and unpacks the result.
func (l *Ledger) call(ctx context.Context, method string, out any, args ...any) error {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := l.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &l.address,
		Data: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}

	if err := l.abi.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return nil
}

// transact packs, signs, submits a state-changing call, and waits for the
// receipt. The nonce mutex is held across submission only, never across the
// confirmation wait of other callers' reads.
func (l *Ledger) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	if l.key == nil {
		return nil, fmt.Errorf("no resolver key configured: %w", domain.ErrUnauthorized)
	}

	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	signedTx, err := l.submit(ctx, data)
	if err != nil {
		return nil, err
	}

	receipt, err := l.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("tx %s: %w", signedTx.Hash().Hex(), domain.ErrTxFailed)
	}
	return receipt, nil
}

// submit assigns a nonce, signs, and broadcasts a transaction under the tx
// mutex.
func (l *Ledger) submit(ctx context.Context, data []byte) (*types.Transaction, error) {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	nonce, err := l.backend.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: l.from,
		To:   &l.address,
		Data: data,
	})
	if err != nil {
		// Reverts surface here as estimation failures carrying the reason.
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &l.address,
		Gas:      gasLimit + gasLimit/5, // headroom over the estimate
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := l.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signedTx, nil
}

// waitMined polls for the receipt until it appears or the confirm timeout
// expires.
func (l *Ledger) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("confirm tx %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// toUnits converts a USD price to the contract's 8-decimal fixed point.
func toUnits(price decimal.Decimal) *big.Int {
	return price.Shift(priceDecimals).BigInt()
}

// mapRevert translates contract revert reasons into domain sentinels so
// callers can distinguish semantic conflicts from operational failures.
func mapRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already resolved"):
		return domain.ErrAlreadyResolved
	case strings.Contains(msg, "not ended") || strings.Contains(msg, "not yet ended"):
		return domain.ErrRoundNotEnded
	case strings.Contains(msg, "still active") || strings.Contains(msg, "active round"):
		return domain.ErrRoundActive
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "not the owner") || strings.Contains(msg, "caller is not"):
		return domain.ErrUnauthorized
	}
	return err
}
