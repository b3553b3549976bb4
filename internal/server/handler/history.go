package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/velikanghost/riskon/internal/domain"
)

// HistorySource reads persisted round history.
type HistorySource interface {
	ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.RoundRecord, error)
}

// HistoryHandler serves round history endpoints. source may be nil when the
// deployment runs without PostgreSQL; the endpoint then reports 503.
type HistoryHandler struct {
	source HistorySource
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(source HistorySource, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		source: source,
		logger: logHandler(logger, "history"),
	}
}

// ListHistory returns a market's resolved rounds, most recent first.
// GET /api/rounds/{marketId}/history?limit=50&offset=0
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "round history is not enabled")
		return
	}

	marketID, ok := pathID(r, "marketId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	opts := parseListOpts(r)
	records, err := h.source.ListByMarket(r.Context(), marketID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history failed",
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list round history")
		return
	}
	if records == nil {
		records = []domain.RoundRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"marketId": marketID,
		"rounds":   records,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}
