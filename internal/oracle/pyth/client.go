// Package pyth fetches reference prices from the Pyth Network Hermes API.
package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/velikanghost/riskon/internal/domain"
)

// DefaultBaseURL is the public Hermes endpoint.
const DefaultBaseURL = "https://hermes.pyth.network"

// Client is the REST client for the Hermes price service. It performs no
// retries; callers own the retry policy.
type Client struct {
	baseURL    string
	feeds      map[string]string // symbol -> feed id (normalized)
	symbols    map[string]string // feed id (normalized) -> symbol
	httpClient *http.Client
}

// NewClient creates a Hermes client for the given symbol-to-feed-id registry.
// An empty baseURL falls back to DefaultBaseURL.
func NewClient(baseURL string, feeds map[string]string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		feeds:   make(map[string]string, len(feeds)),
		symbols: make(map[string]string, len(feeds)),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for symbol, id := range feeds {
		nid := normalizeFeedID(id)
		c.feeds[symbol] = nid
		c.symbols[nid] = symbol
	}
	return c
}

// Symbols returns all configured feed symbols.
func (c *Client) Symbols() []string {
	out := make([]string, 0, len(c.feeds))
	for s := range c.feeds {
		out = append(out, s)
	}
	return out
}

// FetchPrice returns the latest price for a single symbol.
func (c *Client) FetchPrice(ctx context.Context, symbol string) (domain.Price, error) {
	prices, err := c.FetchPrices(ctx, symbol)
	if err != nil {
		return domain.Price{}, err
	}
	p, ok := prices[symbol]
	if !ok {
		return domain.Price{}, fmt.Errorf("pyth: %s: %w", symbol, domain.ErrNoFeed)
	}
	return p, nil
}

// FetchPrices returns the latest prices for the given symbols using a single
// batched Hermes request. Entries are matched by feed id, never by position.
// A symbol missing from the response is simply absent from the result map.
func (c *Client) FetchPrices(ctx context.Context, symbols ...string) (map[string]domain.Price, error) {
	if len(symbols) == 0 {
		symbols = c.Symbols()
	}

	params := url.Values{}
	for _, symbol := range symbols {
		id, ok := c.feeds[symbol]
		if !ok {
			return nil, fmt.Errorf("pyth: %s: %w", symbol, domain.ErrNoFeed)
		}
		params.Add("ids[]", id)
	}

	reqURL := c.baseURL + "/v2/updates/price/latest?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pyth: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyth: fetch latest prices: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("pyth: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyth: hermes returned HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed latestPriceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("pyth: decode response: %w", err)
	}

	out := make(map[string]domain.Price, len(parsed.Parsed))
	for _, update := range parsed.Parsed {
		symbol, ok := c.symbols[normalizeFeedID(update.ID)]
		if !ok {
			continue // feed we did not ask for
		}
		value, err := convertPrice(update.Price)
		if err != nil {
			return nil, fmt.Errorf("pyth: %s: %w", symbol, err)
		}
		out[symbol] = domain.Price{
			Symbol:      symbol,
			Value:       value,
			PublishedAt: time.Unix(update.Price.PublishTime, 0).UTC(),
		}
	}

	return out, nil
}

// convertPrice expands a Pyth fixed-point price (mantissa * 10^expo) into a
// decimal value.
func convertPrice(p PriceData) (decimal.Decimal, error) {
	mantissa, err := decimal.NewFromString(p.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed price mantissa %q: %w", p.Price, err)
	}
	value := mantissa.Shift(p.Expo)
	if value.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive price %s", value)
	}
	return value, nil
}

// normalizeFeedID lower-cases a feed id and strips the optional 0x prefix so
// ids compare equal regardless of source formatting.
func normalizeFeedID(id string) string {
	return strings.TrimPrefix(strings.ToLower(id), "0x")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
