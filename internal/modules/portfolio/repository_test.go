package portfolio

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	testingpkg "github.com/aristath/helmsman/internal/testing"
)

func newTestPortfolioRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	return NewRepository(db, zerolog.Nop()), cleanup
}

func TestUpsertAccountValuesLatestWins(t *testing.T) {
	repo, cleanup := newTestPortfolioRepo(t)
	defer cleanup()

	err := repo.UpsertAccountValues([]domain.AccountValue{
		{Account: "DU123", Tag: "NetLiquidation", Value: "100000", Currency: "BASE"},
	})
	require.NoError(t, err)
	err = repo.UpsertAccountValues([]domain.AccountValue{
		{Account: "DU123", Tag: "NetLiquidation", Value: "110000", Currency: "BASE"},
	})
	require.NoError(t, err)

	entries, err := repo.AccountSummary()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "NetLiquidation", entries[0].Tag)
	assert.Equal(t, "110000", entries[0].Value)
	assert.Equal(t, "DU123", entries[0].Account)
	assert.False(t, entries[0].UpdatedAt.IsZero())
}

func TestAccountSummaryKeepsCurrenciesApart(t *testing.T) {
	repo, cleanup := newTestPortfolioRepo(t)
	defer cleanup()

	err := repo.UpsertAccountValues([]domain.AccountValue{
		{Account: "DU123", Tag: "CashBalance", Value: "20000", Currency: "USD"},
		{Account: "DU123", Tag: "CashBalance", Value: "5000", Currency: "GBP"},
	})
	require.NoError(t, err)

	entries, err := repo.AccountSummary()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byCurrency := map[string]string{}
	for _, e := range entries {
		byCurrency[e.Currency] = e.Value
	}
	assert.Equal(t, "20000", byCurrency["USD"])
	assert.Equal(t, "5000", byCurrency["GBP"])
}

func TestReplacePositionsDropsStaleRows(t *testing.T) {
	repo, cleanup := newTestPortfolioRepo(t)
	defer cleanup()

	err := repo.ReplacePositions([]domain.Position{
		{Symbol: "AAPL", ConID: 265598, Exchange: "NASDAQ", Currency: "USD",
			Quantity: 100, AvgCost: 50, MarketPrice: 55, MarketValue: 5500,
			UnrealizedPnL: 500, RealizedPnL: 10},
		{Symbol: "SONY", ConID: 273982, Exchange: "NYSE", Currency: "USD",
			Quantity: 40, AvgCost: 18, MarketPrice: 17.5, MarketValue: 700,
			UnrealizedPnL: -20},
	})
	require.NoError(t, err)

	positions, err := repo.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAPL", positions[0].Symbol) // highest market value first
	assert.Equal(t, 5500.0, positions[0].MarketValue)
	assert.Equal(t, 10.0, positions[0].RealizedPnL)

	err = repo.ReplacePositions([]domain.Position{
		{Symbol: "SONY", ConID: 273982, Currency: "USD", Quantity: 40,
			AvgCost: 18, MarketPrice: 18.2, MarketValue: 728, UnrealizedPnL: 8},
	})
	require.NoError(t, err)

	positions, err = repo.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SONY", positions[0].Symbol)
	assert.Equal(t, 18.2, positions[0].MarketPrice)
}

func TestReplaceOpenOrdersRoundTrip(t *testing.T) {
	repo, cleanup := newTestPortfolioRepo(t)
	defer cleanup()

	err := repo.ReplaceOpenOrders([]domain.OpenOrder{
		{OrderID: 41, Symbol: "TSLA", Side: domain.SideBuy, OrderType: domain.OrderLimit,
			Quantity: 25, LimitPrice: 240.5, Status: "Submitted", Currency: "USD"},
		{OrderID: 42, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop,
			Quantity: 100, StopPrice: 48, Status: "PreSubmitted", ParentID: 40,
			OCAGroup: "OCA_EXIT_AAPL", Currency: "USD"},
	})
	require.NoError(t, err)

	orders, err := repo.OpenOrders()
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, int64(41), orders[0].OrderID)
	assert.Equal(t, "BUY", orders[0].Side)
	assert.Equal(t, "LMT", orders[0].OrderType)
	assert.Equal(t, 240.5, orders[0].LimitPrice)
	assert.Equal(t, int64(0), orders[0].ParentID)

	assert.Equal(t, "STP", orders[1].OrderType)
	assert.Equal(t, 48.0, orders[1].StopPrice)
	assert.Equal(t, int64(40), orders[1].ParentID)
	assert.Equal(t, "OCA_EXIT_AAPL", orders[1].OCAGroup)

	err = repo.ReplaceOpenOrders(nil)
	require.NoError(t, err)
	orders, err = repo.OpenOrders()
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPerformanceHistoryChronological(t *testing.T) {
	repo, cleanup := newTestPortfolioRepo(t)
	defer cleanup()

	require.NoError(t, repo.InsertPerformance(100000, 0, 0))
	require.NoError(t, repo.InsertPerformance(101500, 120, 0))
	require.NoError(t, repo.InsertPerformance(99800, -90, 30))

	points, err := repo.PerformanceHistory(0)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 100000.0, points[0].Equity)
	assert.Equal(t, 99800.0, points[2].Equity)
	assert.Equal(t, 30.0, points[2].RealizedPnL)

	// A capped read keeps the newest points, still oldest first.
	points, err = repo.PerformanceHistory(2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 101500.0, points[0].Equity)
	assert.Equal(t, 99800.0, points[1].Equity)
}

func TestPerformanceSummary(t *testing.T) {
	repo, cleanup := newTestPortfolioRepo(t)
	defer cleanup()

	require.NoError(t, repo.InsertPerformance(100000, 0, 0))
	require.NoError(t, repo.InsertPerformance(102000, 80, 0))
	require.NoError(t, repo.InsertPerformance(105000, 150, 40))

	summary, err := repo.PerformanceSummary()
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 100000.0, summary.BaselineEquity)
	assert.Equal(t, 105000.0, summary.LatestEquity)
	assert.Equal(t, 5000.0, summary.DeltaEquity)
	require.NotNil(t, summary.DeltaPct)
	assert.InDelta(t, 5.0, *summary.DeltaPct, 1e-9)
}

func TestPerformanceSummaryEmptySeries(t *testing.T) {
	repo, cleanup := newTestPortfolioRepo(t)
	defer cleanup()

	summary, err := repo.PerformanceSummary()
	require.NoError(t, err)
	assert.Nil(t, summary)
}
