package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for history queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// RoundRecord is a resolved round as persisted in the history store.
type RoundRecord struct {
	MarketID    int64
	Symbol      string
	RoundID     int64
	Start       time.Time
	End         time.Time
	PriceTarget decimal.Decimal
	FinalPrice  decimal.Decimal
	Outcome     bool
	TxHash      string
	ResolvedAt  time.Time
}

// RoundStore persists resolved round history. DeleteRounds removes exactly the
// given (market, round) pairs so that archival never prunes a row it has not
// uploaded.
type RoundStore interface {
	Insert(ctx context.Context, rec RoundRecord) error
	ListByMarket(ctx context.Context, marketID int64, opts ListOpts) ([]RoundRecord, error)
	ListResolvedBefore(ctx context.Context, before time.Time, limit int) ([]RoundRecord, error)
	DeleteRounds(ctx context.Context, records []RoundRecord) (int64, error)
}

// PriceCache provides fast access to the latest oracle prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

// LockManager provides distributed locking so redundant resolver instances do
// not duplicate work. The ledger's own idempotence remains the backstop.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter bounds request rates per key across service instances.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Broadcaster fans an event out to realtime subscribers. Implementations must
// never block the caller.
type Broadcaster interface {
	Broadcast(event string, payload any)
}
