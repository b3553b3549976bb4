package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velikanghost/riskon/internal/domain"
)

// RoundStore implements domain.RoundStore using PostgreSQL. The chain remains
// the source of truth for round state; this table is an append-only history of
// resolutions for the API and for cold archival.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a RoundStore backed by the given connection pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

const roundSelectCols = `market_id, symbol, round_id, start_time, end_time,
	price_target, final_price, outcome, tx_hash, resolved_at`

func scanRoundRows(rows pgx.Rows) ([]domain.RoundRecord, error) {
	var records []domain.RoundRecord
	for rows.Next() {
		var r domain.RoundRecord
		if err := rows.Scan(
			&r.MarketID, &r.Symbol, &r.RoundID, &r.Start, &r.End,
			&r.PriceTarget, &r.FinalPrice, &r.Outcome, &r.TxHash, &r.ResolvedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Insert records one resolved round. Re-recording the same (market, round)
// pair is a no-op so that replayed resolutions stay idempotent end to end.
func (s *RoundStore) Insert(ctx context.Context, rec domain.RoundRecord) error {
	const query = `
		INSERT INTO rounds (
			market_id, symbol, round_id, start_time, end_time,
			price_target, final_price, outcome, tx_hash, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market_id, round_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.MarketID, rec.Symbol, rec.RoundID, rec.Start, rec.End,
		rec.PriceTarget, rec.FinalPrice, rec.Outcome, rec.TxHash, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert round %d/%d: %w", rec.MarketID, rec.RoundID, err)
	}
	return nil
}

// ListByMarket returns a market's resolved rounds, most recent first.
func (s *RoundStore) ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.RoundRecord, error) {
	query := `SELECT ` + roundSelectCols + ` FROM rounds WHERE market_id = $1 ORDER BY resolved_at DESC`
	args := []any{marketID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds by market: %w", err)
	}
	defer rows.Close()

	records, err := scanRoundRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rounds by market: %w", err)
	}
	return records, nil
}

// ListResolvedBefore returns rounds resolved strictly before the given time,
// oldest first, capped at limit (for archiving in chunks). limit <= 0 means
// no cap.
func (s *RoundStore) ListResolvedBefore(ctx context.Context, before time.Time, limit int) ([]domain.RoundRecord, error) {
	query := `SELECT ` + roundSelectCols + ` FROM rounds WHERE resolved_at < $1 ORDER BY resolved_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds before: %w", err)
	}
	defer rows.Close()
	return scanRoundRows(rows)
}

// DeleteRounds deletes exactly the given (market, round) pairs and returns the
// number removed. The archiver calls this with the batch it just uploaded.
func (s *RoundStore) DeleteRounds(ctx context.Context, records []domain.RoundRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	marketIDs := make([]int64, len(records))
	roundIDs := make([]int64, len(records))
	for i, rec := range records {
		marketIDs[i] = rec.MarketID
		roundIDs[i] = rec.RoundID
	}

	const query = `
		DELETE FROM rounds
		WHERE (market_id, round_id) IN (
			SELECT * FROM unnest($1::bigint[], $2::bigint[])
		)`

	tag, err := s.pool.Exec(ctx, query, marketIDs, roundIDs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete rounds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.RoundStore = (*RoundStore)(nil)
