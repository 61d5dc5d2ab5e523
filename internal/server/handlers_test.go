package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/runtime_config"
	"github.com/aristath/helmsman/internal/modules/trading"
	testingpkg "github.com/aristath/helmsman/internal/testing"
)

type stubTrigger struct {
	mu    sync.Mutex
	calls int
}

func (s *stubTrigger) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
}

func (s *stubTrigger) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubBridge struct{ connected bool }

func (s *stubBridge) IsConnected() bool { return s.connected }

type serverFixture struct {
	srv         *Server
	overlay     *runtime_config.Service
	overlayRepo *runtime_config.Repository
	trigger     *stubTrigger
	journal     *events.Repository
	trades      *trading.Repository
	research    *research.Repository
	portfolio   *portfolio.Repository
	reviews     *review.Repository
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	configDB, cleanupConfig := testingpkg.NewTestDB(t, "config")
	t.Cleanup(cleanupConfig)
	ledgerDB, cleanupLedger := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanupLedger)
	cacheDB, cleanupCache := testingpkg.NewTestDB(t, "cache")
	t.Cleanup(cleanupCache)

	log := zerolog.Nop()
	bus := events.NewBus()

	overlayRepo := runtime_config.NewRepository(configDB, log)
	require.NoError(t, overlayRepo.EnsureDefault())
	overlay := runtime_config.NewService(overlayRepo, config.DefaultBase(), bus, log)

	fx := &serverFixture{
		overlay:     overlay,
		overlayRepo: overlayRepo,
		trigger:     &stubTrigger{},
		journal:     events.NewRepository(cacheDB, log),
		trades:      trading.NewRepository(ledgerDB, log),
		research:    research.NewRepository(ledgerDB, log),
		portfolio:   portfolio.NewRepository(cacheDB, log),
		reviews:     review.NewRepository(ledgerDB, log),
	}

	fx.srv = New(Config{
		Log:       log,
		Port:      0,
		DataDir:   t.TempDir(),
		Overlay:   overlay,
		Runner:    fx.trigger,
		Bridge:    &stubBridge{connected: true},
		Hours:     market_hours.NewService(),
		Journal:   fx.journal,
		Trades:    fx.trades,
		Research:  fx.research,
		Portfolio: fx.portfolio,
		Reviews:   fx.reviews,
	})
	return fx
}

func (fx *serverFixture) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.srv.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealth(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "helmsman", body["service"])
}

func TestStatusAndPauseResume(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	decodeJSON(t, rec, &status)
	assert.False(t, status.Paused)
	assert.True(t, status.IBKRConnected)
	assert.Equal(t, "Default", status.ActiveStrategy)
	assert.Empty(t, status.ConfigError)
	require.Len(t, status.Markets, 1)
	assert.Equal(t, "US", status.Markets[0].Market)

	rec = fx.do(t, http.MethodPost, "/api/pause", strings.NewReader(`{"reason":"maintenance"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/status", nil)
	decodeJSON(t, rec, &status)
	assert.True(t, status.Paused)

	rec = fx.do(t, http.MethodPost, "/api/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/status", nil)
	decodeJSON(t, rec, &status)
	assert.False(t, status.Paused)
}

func TestStatusSurfacesConfigError(t *testing.T) {
	fx := newServerFixture(t)

	// Save bypasses validation, so a bad stored document reaches Effective.
	require.NoError(t, fx.overlayRepo.Save(&runtime_config.Document{
		SchemaVersion: 1,
		Overrides: map[string]interface{}{
			"trading": map[string]interface{}{"max_positions_forever": 1.0},
		},
	}))

	rec := fx.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	decodeJSON(t, rec, &status)
	assert.Contains(t, status.ConfigError, "max_positions_forever")
	assert.Empty(t, status.Markets)
}

func TestCycleTrigger(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/cycle/trigger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fx.trigger.Calls())
}

func TestRuntimeConfigRoundTrip(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/runtime-config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc runtime_config.Document
	decodeJSON(t, rec, &doc)
	assert.Equal(t, "Default", doc.ActiveStrategy)

	put := `{
		"schema_version": 1,
		"overrides": {"trading": {"max_positions": 3}},
		"strategies": [{"name": "Default", "overrides": {}}],
		"active_strategy": "Default"
	}`
	rec = fx.do(t, http.MethodPut, "/api/runtime-config", strings.NewReader(put))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/runtime-config", nil)
	decodeJSON(t, rec, &doc)
	overrides, ok := doc.Overrides["trading"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, overrides["max_positions"])
}

func TestRuntimeConfigPutRejectsBadKey(t *testing.T) {
	fx := newServerFixture(t)

	put := `{
		"schema_version": 1,
		"overrides": {"trading": {"nonsense": true}},
		"strategies": [{"name": "Default", "overrides": {}}],
		"active_strategy": "Default"
	}`
	rec := fx.do(t, http.MethodPut, "/api/runtime-config", strings.NewReader(put))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Contains(t, body["error"], "trading.nonsense")

	rec = fx.do(t, http.MethodPut, "/api/runtime-config", strings.NewReader("{broken"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradesEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	_, err := fx.trades.Insert(&trading.Trade{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 50, Status: "Submitted"})
	require.NoError(t, err)
	_, err = fx.trades.Insert(&trading.Trade{Symbol: "MSFT", Action: "SELL", Quantity: 5, Price: 120, Status: "Filled"})
	require.NoError(t, err)

	rec := fx.do(t, http.MethodGet, "/api/trades", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []trading.Trade
	decodeJSON(t, rec, &rows)
	require.Len(t, rows, 2)

	rec = fx.do(t, http.MethodGet, "/api/trades?symbol=AAPL", nil)
	decodeJSON(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "AAPL", rows[0].Symbol)
}

func TestResearchEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	_, err := fx.research.Insert(&research.Record{
		Symbol:   "AAPL",
		Exchange: "NASDAQ",
		Currency: "USD",
		Decision: string(domain.DecisionRejected),
		Reason:   "RSI above the overbought gate",
	})
	require.NoError(t, err)

	rec := fx.do(t, http.MethodGet, "/api/research?symbol=AAPL", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []research.Record
	decodeJSON(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "RSI above the overbought gate", rows[0].Reason)
}

func TestEventsEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	first, err := fx.journal.InsertEvent("INFO", "", "Cycle", "one")
	require.NoError(t, err)
	_, err = fx.journal.InsertEvent("INFO", "", "Cycle", "two")
	require.NoError(t, err)
	_, err = fx.journal.InsertEvent("ERROR", "AAPL", "Order", "three")
	require.NoError(t, err)

	rec := fx.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []events.EventRow
	decodeJSON(t, rec, &rows)
	require.Len(t, rows, 3)
	assert.Equal(t, "three", rows[0].Message)

	rec = fx.do(t, http.MethodGet, fmt.Sprintf("/api/events?after_id=%d", first), nil)
	decodeJSON(t, rec, &rows)
	require.Len(t, rows, 2)
	assert.Equal(t, "two", rows[0].Message)

	rec = fx.do(t, http.MethodGet, "/api/events?after_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveStatusEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/live-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var live events.LiveStatus
	decodeJSON(t, rec, &live)
	assert.Empty(t, live.Symbol)

	require.NoError(t, fx.journal.UpdateLiveStatus("AAPL", "Analyzing (3/12)"))

	rec = fx.do(t, http.MethodGet, "/api/live-status", nil)
	decodeJSON(t, rec, &live)
	assert.Equal(t, "AAPL", live.Symbol)
	assert.Equal(t, "Analyzing (3/12)", live.Step)
}

func TestPortfolioEndpoints(t *testing.T) {
	fx := newServerFixture(t)

	require.NoError(t, fx.portfolio.ReplacePositions([]domain.Position{
		testingpkg.LongPosition("AAPL", 101, 10, 50, 55),
	}))
	require.NoError(t, fx.portfolio.ReplaceOpenOrders([]domain.OpenOrder{{
		OrderID:  7,
		Symbol:   "AAPL",
		Side:     domain.SideSell,
		Quantity: 10,
		Status:   "Submitted",
		Currency: "USD",
	}}))
	require.NoError(t, fx.portfolio.UpsertAccountValues(
		testingpkg.AccountValues("DU000000", 100000, map[string]float64{"USD": 5000}),
	))
	require.NoError(t, fx.portfolio.InsertPerformance(100000, 500, -20))

	rec := fx.do(t, http.MethodGet, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var positions []portfolio.PositionRow
	decodeJSON(t, rec, &positions)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)

	rec = fx.do(t, http.MethodGet, "/api/open-orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []portfolio.OpenOrderRow
	decodeJSON(t, rec, &orders)
	require.Len(t, orders, 1)

	rec = fx.do(t, http.MethodGet, "/api/account-summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary []portfolio.AccountEntry
	decodeJSON(t, rec, &summary)
	assert.NotEmpty(t, summary)

	rec = fx.do(t, http.MethodGet, "/api/performance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perf struct {
		History []portfolio.PerformancePoint `json:"history"`
		Summary *portfolio.PerformanceSummary `json:"summary"`
	}
	decodeJSON(t, rec, &perf)
	require.Len(t, perf.History, 1)
	assert.NotNil(t, perf.Summary)
}

func TestReviewEndpoints(t *testing.T) {
	fx := newServerFixture(t)

	_, err := fx.reviews.InsertPositionReview(&review.PositionReview{
		Symbol:       "AAPL",
		EntryPrice:   50,
		CurrentPrice: 55,
		Quantity:     10,
		Action:       "HOLD",
		Confidence:   0.8,
	})
	require.NoError(t, err)
	_, err = fx.reviews.InsertOrderReview(&review.OrderReview{
		OrderID:    7,
		Symbol:     "AAPL",
		AgeMinutes: 15,
		Action:     "KEEP",
		Confidence: 0.7,
	})
	require.NoError(t, err)

	rec := fx.do(t, http.MethodGet, "/api/position-reviews?symbol=AAPL", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var posReviews []review.PositionReview
	decodeJSON(t, rec, &posReviews)
	require.Len(t, posReviews, 1)
	assert.Equal(t, "HOLD", posReviews[0].Action)

	rec = fx.do(t, http.MethodGet, "/api/order-reviews", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ordReviews []review.OrderReview
	decodeJSON(t, rec, &ordReviews)
	require.Len(t, ordReviews, 1)
	assert.Equal(t, "KEEP", ordReviews[0].Action)
}

func TestSystemStatusEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status systemStatusResponse
	decodeJSON(t, rec, &status)
	assert.Greater(t, status.MemTotalMB, 0.0)
	assert.GreaterOrEqual(t, status.AppUptimeHours, 0.0)
}
