package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/velikanghost/riskon/internal/domain"
)

// MarketReader is the contract read surface the market endpoints need.
type MarketReader interface {
	ListActiveMarkets(ctx context.Context) ([]domain.Market, error)
	CurrentRound(ctx context.Context, marketID int64) (domain.Round, error)
}

// MarketHandler serves market state endpoints.
type MarketHandler struct {
	ledger MarketReader
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(ledger MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		ledger: ledger,
		logger: logHandler(logger, "markets"),
	}
}

// marketView is a market with its optional current round.
type marketView struct {
	domain.Market
	CurrentRound *domain.Round `json:"currentRound,omitempty"`
}

// ListMarkets returns the active markets, optionally with each market's
// current round attached.
// GET /api/markets?includeRounds=true
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.ledger.ListActiveMarkets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read markets from chain")
		return
	}

	includeRounds, _ := strconv.ParseBool(r.URL.Query().Get("includeRounds"))

	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		view := marketView{Market: m}
		if includeRounds {
			round, err := h.ledger.CurrentRound(r.Context(), m.ID)
			switch {
			case errors.Is(err, domain.ErrNoRound):
				// market exists but has never had a round
			case err != nil:
				h.logger.WarnContext(r.Context(), "current round lookup failed",
					slog.Int64("market_id", m.ID),
					slog.String("error", err.Error()),
				)
			default:
				view.CurrentRound = &round
			}
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{"markets": views})
}
