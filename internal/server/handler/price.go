package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/velikanghost/riskon/internal/domain"
)

// PriceSource fetches reference prices, usually the Pyth Hermes client.
type PriceSource interface {
	FetchPrice(ctx context.Context, symbol string) (domain.Price, error)
	FetchPrices(ctx context.Context, symbols ...string) (map[string]domain.Price, error)
}

// PriceHandler serves oracle price endpoints.
type PriceHandler struct {
	source  PriceSource
	symbols []string // configured market symbols, for the no-filter case
	logger  *slog.Logger
}

// NewPriceHandler creates a PriceHandler serving the given symbols.
func NewPriceHandler(source PriceSource, symbols []string, logger *slog.Logger) *PriceHandler {
	sorted := slices.Clone(symbols)
	slices.Sort(sorted)
	return &PriceHandler{
		source:  source,
		symbols: sorted,
		logger:  logHandler(logger, "prices"),
	}
}

// GetPrices returns the latest oracle price for one symbol, or for every
// configured market when no symbol is given.
// GET /api/prices?symbol=BTC/USD
func (h *PriceHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	if symbol != "" {
		price, err := h.source.FetchPrice(r.Context(), symbol)
		if errors.Is(err, domain.ErrNoFeed) {
			writeError(w, http.StatusNotFound, "no price feed for symbol "+symbol)
			return
		}
		if err != nil {
			h.logger.ErrorContext(r.Context(), "price fetch failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "failed to fetch price")
			return
		}
		writeJSON(w, http.StatusOK, price)
		return
	}

	prices, err := h.source.FetchPrices(r.Context(), h.symbols...)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "batch price fetch failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to fetch prices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}
