package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velikanghost/riskon/internal/domain"
	"github.com/velikanghost/riskon/internal/scheduler"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// --- scheduler handler ---

type fakeControl struct {
	status      scheduler.Status
	started     bool
	stopped     bool
	patched     *scheduler.ConfigPatch
	resolveRuns int
	launchRuns  int
}

func (f *fakeControl) Start() { f.started = true }
func (f *fakeControl) Stop()  { f.stopped = true }

func (f *fakeControl) UpdateConfig(patch scheduler.ConfigPatch) scheduler.Config {
	f.patched = &patch
	return f.status.Config
}

func (f *fakeControl) Status() scheduler.Status { return f.status }

func (f *fakeControl) ManualResolveCheck(ctx context.Context) domain.ResolvePassResult {
	f.resolveRuns++
	return domain.ResolvePassResult{PassID: "pass-1", ResolvedRounds: []domain.ResolvedRound{}}
}

func (f *fakeControl) ManualNewRoundCheck(ctx context.Context) domain.LaunchPassResult {
	f.launchRuns++
	return domain.LaunchPassResult{PassID: "pass-2", Started: []domain.StartedRound{}}
}

func TestSchedulerHandler_GetStatus(t *testing.T) {
	ctl := &fakeControl{status: scheduler.Status{Running: true, Config: scheduler.DefaultConfig()}}
	h := NewSchedulerHandler(ctl, nil, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/scheduler", nil)
	rec := httptest.NewRecorder()
	h.GetStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["isRunning"])
}

func TestSchedulerHandler_StartAndStopActions(t *testing.T) {
	ctl := &fakeControl{}
	h := NewSchedulerHandler(ctl, nil, quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(`{"action":"start"}`))
	rec := httptest.NewRecorder()
	h.Control(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.started)

	req = httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(`{"action":"stop"}`))
	rec = httptest.NewRecorder()
	h.Control(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.stopped)
}

func TestSchedulerHandler_RestartAction(t *testing.T) {
	ctl := &fakeControl{}
	h := NewSchedulerHandler(ctl, nil, quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(`{"action":"restart"}`))
	rec := httptest.NewRecorder()
	h.Control(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.stopped)
	assert.True(t, ctl.started)
	assert.Nil(t, ctl.patched, "bare restart keeps the current config")
}

func TestSchedulerHandler_RestartWithConfig(t *testing.T) {
	ctl := &fakeControl{}
	h := NewSchedulerHandler(ctl, nil, quietLogger())

	payload := `{"action":"restart","config":{"newRoundIntervalMs":120000}}`
	req := httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Control(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.stopped)
	assert.True(t, ctl.started)
	require.NotNil(t, ctl.patched, "supplied config is applied between stop and start")
	require.NotNil(t, ctl.patched.NewRoundInterval)
	assert.Equal(t, 2*time.Minute, *ctl.patched.NewRoundInterval)
}

func TestSchedulerHandler_UpdateConfigAction(t *testing.T) {
	ctl := &fakeControl{status: scheduler.Status{Config: scheduler.DefaultConfig()}}
	h := NewSchedulerHandler(ctl, nil, quietLogger())

	payload := `{"action":"update-config","config":{"resolveIntervalMs":15000,"enableAutoNewRounds":false}}`
	req := httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Control(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ctl.patched)
	require.NotNil(t, ctl.patched.ResolveInterval)
	assert.Equal(t, 15*time.Second, *ctl.patched.ResolveInterval)
	require.NotNil(t, ctl.patched.EnableAutoNewRounds)
	assert.False(t, *ctl.patched.EnableAutoNewRounds)
	assert.Nil(t, ctl.patched.NewRoundInterval)
}

func TestSchedulerHandler_UpdateConfigRequiresBody(t *testing.T) {
	ctl := &fakeControl{}
	h := NewSchedulerHandler(ctl, nil, quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(`{"action":"update-config"}`))
	rec := httptest.NewRecorder()
	h.Control(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, ctl.patched)
}

func TestSchedulerHandler_ManualTriggers(t *testing.T) {
	ctl := &fakeControl{}
	h := NewSchedulerHandler(ctl, nil, quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(`{"action":"manual-resolve"}`))
	rec := httptest.NewRecorder()
	h.Control(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctl.resolveRuns)
	assert.Equal(t, "pass-1", decodeBody(t, rec)["passId"])

	req = httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(`{"action":"manual-new-rounds"}`))
	rec = httptest.NewRecorder()
	h.Control(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctl.launchRuns)
}

func TestSchedulerHandler_UnknownAction(t *testing.T) {
	h := NewSchedulerHandler(&fakeControl{}, nil, quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/scheduler", strings.NewReader(`{"action":"explode"}`))
	rec := httptest.NewRecorder()
	h.Control(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulerHandler_CronResolve(t *testing.T) {
	ctl := &fakeControl{}
	h := NewSchedulerHandler(ctl, nil, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/cron/resolve", nil)
	rec := httptest.NewRecorder()
	h.CronResolve(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctl.resolveRuns)
}

// --- market handler ---

type fakeMarketReader struct {
	markets []domain.Market
	listErr error
	rounds  map[int64]domain.Round
}

func (f *fakeMarketReader) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	return f.markets, f.listErr
}

func (f *fakeMarketReader) CurrentRound(ctx context.Context, marketID int64) (domain.Round, error) {
	round, ok := f.rounds[marketID]
	if !ok {
		return domain.Round{}, domain.ErrNoRound
	}
	return round, nil
}

func TestMarketHandler_ListMarkets(t *testing.T) {
	reader := &fakeMarketReader{
		markets: []domain.Market{
			{ID: 1, Symbol: "BTC/USD", Name: "Bitcoin", Active: true},
			{ID: 2, Symbol: "ETH/USD", Name: "Ethereum", Active: true},
		},
	}
	h := NewMarketHandler(reader, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ListMarkets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["markets"], 2)
}

func TestMarketHandler_IncludeRounds(t *testing.T) {
	reader := &fakeMarketReader{
		markets: []domain.Market{
			{ID: 1, Symbol: "BTC/USD", Active: true},
			{ID: 2, Symbol: "ETH/USD", Active: true},
		},
		rounds: map[int64]domain.Round{
			1: {MarketID: 1, ID: 7, PriceTarget: decimal.NewFromInt(50000)},
		},
	}
	h := NewMarketHandler(reader, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets?includeRounds=true", nil)
	rec := httptest.NewRecorder()
	h.ListMarkets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	markets := decodeBody(t, rec)["markets"].([]any)
	require.Len(t, markets, 2)

	first := markets[0].(map[string]any)
	require.Contains(t, first, "currentRound")
	second := markets[1].(map[string]any)
	assert.NotContains(t, second, "currentRound")
}

func TestMarketHandler_ChainFailure(t *testing.T) {
	reader := &fakeMarketReader{listErr: errors.New("rpc timeout")}
	h := NewMarketHandler(reader, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ListMarkets(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// --- price handler ---

type fakePriceSource struct {
	prices map[string]domain.Price
	err    error
}

func (f *fakePriceSource) FetchPrice(ctx context.Context, symbol string) (domain.Price, error) {
	if f.err != nil {
		return domain.Price{}, f.err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return domain.Price{}, domain.ErrNoFeed
	}
	return price, nil
}

func (f *fakePriceSource) FetchPrices(ctx context.Context, symbols ...string) (map[string]domain.Price, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.Price, len(symbols))
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func TestPriceHandler_SingleSymbol(t *testing.T) {
	source := &fakePriceSource{prices: map[string]domain.Price{
		"BTC/USD": {Symbol: "BTC/USD", Value: decimal.RequireFromString("50123.45")},
	}}
	h := NewPriceHandler(source, []string{"BTC/USD"}, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/prices?symbol=BTC/USD", nil)
	rec := httptest.NewRecorder()
	h.GetPrices(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "50123.45")
}

func TestPriceHandler_UnknownSymbol(t *testing.T) {
	h := NewPriceHandler(&fakePriceSource{}, nil, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/prices?symbol=XRP/USD", nil)
	rec := httptest.NewRecorder()
	h.GetPrices(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceHandler_BatchFetchesConfiguredSymbols(t *testing.T) {
	source := &fakePriceSource{prices: map[string]domain.Price{
		"BTC/USD": {Symbol: "BTC/USD", Value: decimal.NewFromInt(50000)},
		"ETH/USD": {Symbol: "ETH/USD", Value: decimal.NewFromInt(3000)},
	}}
	h := NewPriceHandler(source, []string{"ETH/USD", "BTC/USD"}, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	rec := httptest.NewRecorder()
	h.GetPrices(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	prices := decodeBody(t, rec)["prices"].(map[string]any)
	assert.Len(t, prices, 2)
}

func TestPriceHandler_OracleFailure(t *testing.T) {
	h := NewPriceHandler(&fakePriceSource{err: errors.New("hermes down")}, []string{"BTC/USD"}, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	rec := httptest.NewRecorder()
	h.GetPrices(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// --- history handler ---

type fakeHistorySource struct {
	records []domain.RoundRecord
	gotID   int64
	gotOpts domain.ListOpts
	err     error
}

func (f *fakeHistorySource) ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.RoundRecord, error) {
	f.gotID = marketID
	f.gotOpts = opts
	return f.records, f.err
}

func historyRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.SetPathValue("marketId", "3")
	return req
}

func TestHistoryHandler_ListHistory(t *testing.T) {
	source := &fakeHistorySource{records: []domain.RoundRecord{
		{MarketID: 3, RoundID: 42, Outcome: true},
	}}
	h := NewHistoryHandler(source, quietLogger())

	rec := httptest.NewRecorder()
	h.ListHistory(rec, historyRequest("/api/rounds/3/history?limit=10&offset=20"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), source.gotID)
	assert.Equal(t, domain.ListOpts{Limit: 10, Offset: 20}, source.gotOpts)
	body := decodeBody(t, rec)
	assert.Len(t, body["rounds"], 1)
}

func TestHistoryHandler_ClampsLimit(t *testing.T) {
	source := &fakeHistorySource{}
	h := NewHistoryHandler(source, quietLogger())

	rec := httptest.NewRecorder()
	h.ListHistory(rec, historyRequest("/api/rounds/3/history?limit=9999"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, source.gotOpts.Limit)
}

func TestHistoryHandler_BadMarketID(t *testing.T) {
	h := NewHistoryHandler(&fakeHistorySource{}, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/rounds/abc/history", nil)
	req.SetPathValue("marketId", "abc")
	rec := httptest.NewRecorder()
	h.ListHistory(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryHandler_DisabledWithoutStore(t *testing.T) {
	h := NewHistoryHandler(nil, quietLogger())

	rec := httptest.NewRecorder()
	h.ListHistory(rec, historyRequest("/api/rounds/3/history"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
