package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/velikanghost/riskon/internal/domain"
)

// archiveChunk caps how many rounds move to cold storage per upload.
const archiveChunk = 10_000

// Archiver ages resolved rounds out of the primary store: rounds older than
// the retention window are serialized to JSONL, uploaded to object storage,
// and then deleted from PostgreSQL. The upload always lands before anything
// is pruned.
type Archiver struct {
	store     domain.RoundStore
	writer    domain.BlobWriter
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
	chunk     int
}

// NewArchiver creates an Archiver with the given retention window.
func NewArchiver(store domain.RoundStore, writer domain.BlobWriter, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:     store,
		writer:    writer,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
		chunk:     archiveChunk,
	}
}

// Run performs one archive pass and returns the number of rounds moved to
// cold storage. The pass drains in chunks; each chunk is uploaded to its own
// object and only that chunk's rows are then pruned, so a row is never deleted
// unless its upload succeeded, and a later batch never replaces an earlier one.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)

	var archived int64
	for {
		records, err := a.store.ListResolvedBefore(ctx, cutoff, a.chunk)
		if err != nil {
			return archived, fmt.Errorf("history: archive query: %w", err)
		}
		if len(records) == 0 {
			return archived, nil
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return archived, fmt.Errorf("history: archive marshal: %w", err)
		}

		path := archivePath(cutoff)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return archived, fmt.Errorf("history: archive upload: %w", err)
		}

		pruned, err := a.store.DeleteRounds(ctx, records)
		if err != nil {
			// The batch is already safe in object storage; its rows simply
			// get re-uploaded on the next pass.
			return archived, fmt.Errorf("history: archive prune: %w", err)
		}
		archived += int64(len(records))

		a.logger.Info("round history archived",
			slog.String("path", path),
			slog.Int("archived", len(records)),
			slog.Int64("pruned", pruned),
		)

		if len(records) < a.chunk {
			return archived, nil
		}
	}
}

// RunLoop runs archive passes at the given interval until ctx is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath partitions archives by the year-month of the cutoff, with a
// unique object name per batch so that batches from separate passes in the
// same month never overwrite each other:
//
//	archive/rounds/2026-05/1b4e28ba-2fa1-11d2-883f-0016d3cca427.jsonl
func archivePath(cutoff time.Time) string {
	return fmt.Sprintf("archive/rounds/%s/%s.jsonl", cutoff.Format("2006-01"), uuid.New())
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL(records []domain.RoundRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
