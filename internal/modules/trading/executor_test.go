package trading

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/market_hours"
	testingpkg "github.com/aristath/helmsman/internal/testing"
)

type fakeBroker struct {
	positions  []domain.Position
	openOrders []domain.OpenOrder
	placed     [][]ibkr.OrderTicket
	modified   map[int64]ibkr.OrderTicket
	cancelled  []int64
	placeErr   error
	nextID     int64
}

func (f *fakeBroker) PlaceOrders(tickets []ibkr.OrderTicket) ([]ibkr.PlacedOrder, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, tickets)
	out := make([]ibkr.PlacedOrder, len(tickets))
	for i, t := range tickets {
		f.nextID++
		out[i] = ibkr.PlacedOrder{OrderID: f.nextID, ClientOrderID: t.ClientOrderID, Status: "Submitted"}
	}
	return out, nil
}

func (f *fakeBroker) ModifyOrder(orderID int64, ticket ibkr.OrderTicket) error {
	if f.modified == nil {
		f.modified = make(map[int64]ibkr.OrderTicket)
	}
	f.modified[orderID] = ticket
	return nil
}

func (f *fakeBroker) CancelOrder(orderID int64) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeBroker) OpenOrders() ([]domain.OpenOrder, error) {
	return f.openOrders, nil
}

func (f *fakeBroker) Positions() ([]domain.Position, error) {
	return f.positions, nil
}

func newTestExecutor(b *fakeBroker) *Executor {
	return NewExecutor(ExecutorConfig{
		Broker: b,
		Hours:  market_hours.NewService(),
		Log:    zerolog.Nop(),
	})
}

func aaplContract() domain.Contract {
	return domain.Contract{ConID: 265598, Symbol: "AAPL", Exchange: "NASDAQ", Currency: "USD", MinTick: 0.01}
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 47.99, RoundDownToTick(47.996, 0.01), 1e-9)
	assert.InDelta(t, 48.00, RoundDownToTick(48.00, 0.01), 1e-9)
	assert.InDelta(t, 10.10, RoundDownToTick(10.12, 0.05), 1e-9)

	assert.InDelta(t, 52.01, RoundUpToTick(52.001, 0.01), 1e-9)
	assert.InDelta(t, 52.00, RoundUpToTick(52.00, 0.01), 1e-9)
	assert.InDelta(t, 10.15, RoundUpToTick(10.11, 0.05), 1e-9)

	// Unknown tick or price passes through untouched
	assert.Equal(t, 47.996, RoundDownToTick(47.996, 0))
	assert.Equal(t, 0.0, RoundUpToTick(0, 0.01))
}

func TestExecuteBuyBracketShape(t *testing.T) {
	broker := &fakeBroker{}
	exec := newTestExecutor(broker)

	result, err := exec.ExecuteBuy(BracketRequest{
		Contract:   aaplContract(),
		Quantity:   10,
		StopLoss:   47.996,
		TakeProfit: 52.001,
	})
	require.NoError(t, err)
	require.Len(t, broker.placed, 1)

	tickets := broker.placed[0]
	require.Len(t, tickets, 3)

	parent := tickets[0]
	assert.Equal(t, domain.SideBuy, parent.Side)
	assert.Equal(t, domain.OrderMarket, parent.OrderType)
	assert.Equal(t, 10.0, parent.Quantity)
	assert.NotEmpty(t, parent.ClientOrderID)
	assert.Empty(t, parent.ParentClientID)
	assert.Empty(t, parent.OCAGroup)

	tp := tickets[1]
	assert.Equal(t, domain.SideSell, tp.Side)
	assert.Equal(t, domain.OrderLimit, tp.OrderType)
	assert.InDelta(t, 52.01, tp.LimitPrice, 1e-9)
	assert.Equal(t, parent.ClientOrderID, tp.ParentClientID)
	assert.Equal(t, "OCA_"+parent.ClientOrderID, tp.OCAGroup)

	stop := tickets[2]
	assert.Equal(t, domain.SideSell, stop.Side)
	assert.Equal(t, domain.OrderStop, stop.OrderType)
	assert.InDelta(t, 47.99, stop.StopPrice, 1e-9)
	assert.Equal(t, parent.ClientOrderID, stop.ParentClientID)
	assert.Equal(t, tp.OCAGroup, stop.OCAGroup)

	assert.Equal(t, int64(1), result.ParentOrderID)
	assert.Equal(t, "Submitted", result.Status)
	assert.InDelta(t, 47.99, result.StopLoss, 1e-9)
	assert.InDelta(t, 52.01, result.TakeProfit, 1e-9)
}

func TestExecuteBuyWithoutProtections(t *testing.T) {
	broker := &fakeBroker{}
	exec := newTestExecutor(broker)

	result, err := exec.ExecuteBuy(BracketRequest{Contract: aaplContract(), Quantity: 5})
	require.NoError(t, err)
	require.Len(t, broker.placed, 1)
	assert.Len(t, broker.placed[0], 1)
	assert.Zero(t, result.StopLoss)
	assert.Zero(t, result.TakeProfit)
}

func TestExecuteBuyRejectsZeroQuantity(t *testing.T) {
	exec := newTestExecutor(&fakeBroker{})

	_, err := exec.ExecuteBuy(BracketRequest{Contract: aaplContract(), Quantity: 0})
	assert.Error(t, err)
}

func TestUpsertStopLossCreatesWhenMissing(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{{Symbol: "AAPL", ConID: 265598, Quantity: 100}},
	}
	exec := newTestExecutor(broker)

	err := exec.UpsertStopLoss(aaplContract(), 48.123, 0)
	require.NoError(t, err)
	require.Len(t, broker.placed, 1)
	require.Len(t, broker.placed[0], 1)

	ticket := broker.placed[0][0]
	assert.Equal(t, domain.SideSell, ticket.Side)
	assert.Equal(t, domain.OrderStop, ticket.OrderType)
	assert.Equal(t, 100.0, ticket.Quantity)
	assert.InDelta(t, 48.12, ticket.StopPrice, 1e-9)
	assert.Empty(t, ticket.OCAGroup)
}

func TestUpsertStopLossModifiesInPlace(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{{
			OrderID: 11, ClientOrderID: "stop-1", Symbol: "AAPL", ConID: 265598,
			Side: domain.SideSell, OrderType: domain.OrderStop, Quantity: 100,
			StopPrice: 48.00, OCAGroup: "OCA_parent",
		}},
	}
	exec := newTestExecutor(broker)

	err := exec.UpsertStopLoss(aaplContract(), 47.5, 0)
	require.NoError(t, err)

	require.Contains(t, broker.modified, int64(11))
	assert.InDelta(t, 47.5, broker.modified[11].StopPrice, 1e-9)
	assert.Equal(t, "OCA_parent", broker.modified[11].OCAGroup)
	assert.Empty(t, broker.placed)
	assert.Empty(t, broker.cancelled)
}

func TestUpsertStopLossSamePriceIsNoOp(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{{
			OrderID: 11, Symbol: "AAPL", Side: domain.SideSell,
			OrderType: domain.OrderStop, Quantity: 100, StopPrice: 48.00,
		}},
	}
	exec := newTestExecutor(broker)

	// 48.004 rounds down onto the working price
	err := exec.UpsertStopLoss(aaplContract(), 48.004, 0)
	require.NoError(t, err)
	assert.Empty(t, broker.modified)
	assert.Empty(t, broker.placed)
	assert.Empty(t, broker.cancelled)
}

func TestUpsertStopLossCancelsExtras(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{
			{OrderID: 11, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop, Quantity: 60, StopPrice: 48.00},
			{OrderID: 12, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop, Quantity: 40, StopPrice: 47.00},
		},
	}
	exec := newTestExecutor(broker)

	err := exec.UpsertStopLoss(aaplContract(), 47.0, 0)
	require.NoError(t, err)

	assert.Equal(t, []int64{12}, broker.cancelled)
	require.Contains(t, broker.modified, int64(11))
	assert.InDelta(t, 47.0, broker.modified[11].StopPrice, 1e-9)
}

func TestUpsertStopLossRelinksUnpairedExits(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{
			{OrderID: 11, ClientOrderID: "stop-1", Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop, Quantity: 100, StopPrice: 48.00, OCAGroup: "OCA_a"},
			{OrderID: 12, ClientOrderID: "tp-1", Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderLimit, Quantity: 100, LimitPrice: 55.00, OCAGroup: "OCA_b"},
		},
	}
	exec := newTestExecutor(broker)

	// Price unchanged but the pair is split across groups, so both move
	// into the symbol exit group.
	err := exec.UpsertStopLoss(aaplContract(), 48.0, 0)
	require.NoError(t, err)

	require.Contains(t, broker.modified, int64(11))
	require.Contains(t, broker.modified, int64(12))
	assert.Equal(t, "OCA_EXIT_AAPL", broker.modified[11].OCAGroup)
	assert.Equal(t, "OCA_EXIT_AAPL", broker.modified[12].OCAGroup)
}

func TestUpsertStopLossLinkedPairStaysPut(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{
			{OrderID: 11, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop, Quantity: 100, StopPrice: 48.00, OCAGroup: "OCA_a"},
			{OrderID: 12, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderLimit, Quantity: 100, LimitPrice: 55.00, OCAGroup: "OCA_a"},
		},
	}
	exec := newTestExecutor(broker)

	err := exec.UpsertStopLoss(aaplContract(), 48.0, 0)
	require.NoError(t, err)
	assert.Empty(t, broker.modified)
	assert.Empty(t, broker.placed)
	assert.Empty(t, broker.cancelled)
}

func TestUpsertStopLossRefusesWithoutPosition(t *testing.T) {
	exec := newTestExecutor(&fakeBroker{})

	err := exec.UpsertStopLoss(aaplContract(), 48.0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no long position")
}

func TestUpsertTakeProfitCreatesAndLinks(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{{Symbol: "AAPL", ConID: 265598, Quantity: 100}},
		openOrders: []domain.OpenOrder{
			{OrderID: 11, ClientOrderID: "stop-1", Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop, Quantity: 100, StopPrice: 48.00, OCAGroup: "OCA_a"},
		},
	}
	exec := newTestExecutor(broker)

	err := exec.UpsertTakeProfit(aaplContract(), 52.001, 0)
	require.NoError(t, err)

	// The working stop moves into the exit group along with the new leg
	require.Contains(t, broker.modified, int64(11))
	assert.Equal(t, "OCA_EXIT_AAPL", broker.modified[11].OCAGroup)

	require.Len(t, broker.placed, 1)
	ticket := broker.placed[0][0]
	assert.Equal(t, domain.OrderLimit, ticket.OrderType)
	assert.Equal(t, domain.SideSell, ticket.Side)
	assert.InDelta(t, 52.01, ticket.LimitPrice, 1e-9)
	assert.Equal(t, "OCA_EXIT_AAPL", ticket.OCAGroup)
	assert.Equal(t, 100.0, ticket.Quantity)
}

func TestUpsertTakeProfitModifiesInPlace(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{{
			OrderID: 21, Symbol: "AAPL", Side: domain.SideSell,
			OrderType: domain.OrderLimit, Quantity: 100, LimitPrice: 55.00,
		}},
	}
	exec := newTestExecutor(broker)

	err := exec.UpsertTakeProfit(aaplContract(), 57.0, 0)
	require.NoError(t, err)

	require.Contains(t, broker.modified, int64(21))
	assert.InDelta(t, 57.0, broker.modified[21].LimitPrice, 1e-9)
	assert.Empty(t, broker.placed)
}

func TestSellPositionCapsAtHeld(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{{Symbol: "AAPL", ConID: 265598, Quantity: 50}},
	}
	exec := newTestExecutor(broker)

	placed, err := exec.SellPosition("AAPL", 80)
	require.NoError(t, err)
	require.NotNil(t, placed)

	require.Len(t, broker.placed, 1)
	ticket := broker.placed[0][0]
	assert.Equal(t, domain.SideSell, ticket.Side)
	assert.Equal(t, domain.OrderMarket, ticket.OrderType)
	assert.Equal(t, 50.0, ticket.Quantity)
}

func TestSellPositionRefusesWhenFlat(t *testing.T) {
	exec := newTestExecutor(&fakeBroker{})

	_, err := exec.SellPosition("AAPL", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no long position")
}

func TestSellPositionRefusesWhenSellPending(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{{Symbol: "AAPL", ConID: 265598, Quantity: 50}},
		openOrders: []domain.OpenOrder{{
			OrderID: 11, Symbol: "AAPL", Side: domain.SideSell,
			OrderType: domain.OrderStop, Quantity: 50, StopPrice: 48.00,
		}},
	}
	exec := newTestExecutor(broker)

	_, err := exec.SellPosition("AAPL", 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSellPending))
	assert.Empty(t, broker.placed)
}

func TestSellPositionCancelsBuyOrdersFirst(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{{Symbol: "AAPL", ConID: 265598, Quantity: 50}},
		openOrders: []domain.OpenOrder{{
			OrderID: 31, Symbol: "AAPL", Side: domain.SideBuy,
			OrderType: domain.OrderLimit, Quantity: 10, LimitPrice: 45.00,
		}},
	}
	exec := newTestExecutor(broker)

	_, err := exec.SellPosition("AAPL", 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{31}, broker.cancelled)
	require.Len(t, broker.placed, 1)
}

func TestCancelOrphanedSellOrders(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{{Symbol: "AAPL", Quantity: 100}},
		openOrders: []domain.OpenOrder{
			{OrderID: 1, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop},
			{OrderID: 2, Symbol: "MSFT", Side: domain.SideSell, OrderType: domain.OrderLimit},
			{OrderID: 3, Symbol: "MSFT", Side: domain.SideBuy, OrderType: domain.OrderLimit},
		},
	}
	exec := newTestExecutor(broker)

	cancelled, err := exec.CancelOrphanedSellOrders()
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, []int64{2}, broker.cancelled)
}

func TestCloseShortPositions(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{
			{Symbol: "AAPL", ConID: 265598, Quantity: -30},
			{Symbol: "MSFT", ConID: 272093, Quantity: 10},
		},
		openOrders: []domain.OpenOrder{
			{OrderID: 5, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop},
		},
	}
	exec := newTestExecutor(broker)

	covered, err := exec.CloseShortPositions()
	require.NoError(t, err)
	assert.Equal(t, 1, covered)
	assert.Equal(t, []int64{5}, broker.cancelled)

	require.Len(t, broker.placed, 1)
	ticket := broker.placed[0][0]
	assert.Equal(t, "AAPL", ticket.Symbol)
	assert.Equal(t, domain.SideBuy, ticket.Side)
	assert.Equal(t, domain.OrderMarket, ticket.OrderType)
	assert.Equal(t, 30.0, ticket.Quantity)
}

func TestFlattenNearClose(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()
	repo := NewRepository(db, zerolog.Nop())

	broker := &fakeBroker{
		positions: []domain.Position{
			{Symbol: "AAPL", ConID: 265598, Exchange: "NASDAQ", Currency: "USD", Quantity: 40, MarketPrice: 50.0},
		},
		openOrders: []domain.OpenOrder{
			{OrderID: 7, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop},
		},
	}
	exec := NewExecutor(ExecutorConfig{
		Broker: broker,
		Hours:  market_hours.NewService(),
		Repo:   repo,
		Log:    zerolog.Nop(),
	})

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Tuesday 15:50 ET, ten minutes before the US close
	nearClose := time.Date(2026, 1, 6, 15, 50, 0, 0, ny)
	flattened := exec.FlattenNearClose(15, nearClose)
	assert.Equal(t, 1, flattened)
	assert.Equal(t, []int64{7}, broker.cancelled)

	require.Len(t, broker.placed, 1)
	ticket := broker.placed[0][0]
	assert.Equal(t, domain.SideSell, ticket.Side)
	assert.Equal(t, domain.OrderMarket, ticket.OrderType)
	assert.Equal(t, 40.0, ticket.Quantity)

	trades, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAPL", trades[0].Symbol)
	assert.Equal(t, "SELL", trades[0].Action)
	assert.Equal(t, StatusSold, trades[0].Status)
	assert.Equal(t, "Flatten before close (15m)", trades[0].Rationale)
	assert.InDelta(t, 50.0, trades[0].Price, 1e-9)
}

func TestFlattenSkipsMidSession(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{
			{Symbol: "AAPL", ConID: 265598, Exchange: "NASDAQ", Currency: "USD", Quantity: 40, MarketPrice: 50.0},
		},
	}
	exec := newTestExecutor(broker)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	midday := time.Date(2026, 1, 6, 12, 0, 0, 0, ny)
	assert.Equal(t, 0, exec.FlattenNearClose(15, midday))
	assert.Empty(t, broker.placed)
}

func TestFlattenCoversShortBeforeClose(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()
	repo := NewRepository(db, zerolog.Nop())

	broker := &fakeBroker{
		positions: []domain.Position{
			{Symbol: "MSFT", ConID: 272093, Exchange: "NASDAQ", Currency: "USD", Quantity: -5, MarketPrice: 300.0},
		},
	}
	exec := NewExecutor(ExecutorConfig{
		Broker: broker,
		Hours:  market_hours.NewService(),
		Repo:   repo,
		Log:    zerolog.Nop(),
	})

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	nearClose := time.Date(2026, 1, 6, 15, 50, 0, 0, ny)
	flattened := exec.FlattenNearClose(15, nearClose)
	assert.Equal(t, 1, flattened)

	require.Len(t, broker.placed, 1)
	ticket := broker.placed[0][0]
	assert.Equal(t, domain.SideBuy, ticket.Side)
	assert.Equal(t, 5.0, ticket.Quantity)

	trades, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BUY", trades[0].Action)
	assert.Equal(t, StatusExecuted, trades[0].Status)
}

func TestExitLevels(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{
			{OrderID: 11, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop, StopPrice: 48.0, Quantity: 100},
			{OrderID: 12, Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderLimit, LimitPrice: 55.0, Quantity: 100},
			{OrderID: 13, Symbol: "MSFT", Side: domain.SideSell, OrderType: domain.OrderStop, StopPrice: 290.0, Quantity: 10},
		},
	}
	exec := newTestExecutor(broker)

	levels, err := exec.ExitLevels("AAPL")
	require.NoError(t, err)
	require.NotNil(t, levels.StopLoss)
	require.NotNil(t, levels.TakeProfit)
	assert.Equal(t, 48.0, *levels.StopLoss)
	assert.Equal(t, 55.0, *levels.TakeProfit)
	assert.Equal(t, int64(11), levels.StopOrderID)
	assert.Equal(t, int64(12), levels.TPOrderID)

	levels, err = exec.ExitLevels("TSLA")
	require.NoError(t, err)
	assert.Nil(t, levels.StopLoss)
	assert.Nil(t, levels.TakeProfit)
}

func TestCancelOrderByID(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{
			{OrderID: 41, Symbol: "AAPL", Side: domain.SideBuy, OrderType: domain.OrderLimit, LimitPrice: 49.0, Quantity: 10},
		},
	}
	exec := newTestExecutor(broker)

	require.NoError(t, exec.CancelOrder(41))
	assert.Equal(t, []int64{41}, broker.cancelled)

	err := exec.CancelOrder(99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAdjustOrderPrice(t *testing.T) {
	broker := &fakeBroker{
		openOrders: []domain.OpenOrder{
			{OrderID: 51, ClientOrderID: "a", Symbol: "AAPL", Side: domain.SideBuy, OrderType: domain.OrderLimit, LimitPrice: 49.0, Quantity: 10},
			{OrderID: 52, ClientOrderID: "b", Symbol: "AAPL", Side: domain.SideSell, OrderType: domain.OrderStop, StopPrice: 48.0, Quantity: 10},
			{OrderID: 53, ClientOrderID: "c", Symbol: "AAPL", Side: domain.SideBuy, OrderType: domain.OrderMarket, Quantity: 10},
		},
	}
	exec := newTestExecutor(broker)

	require.NoError(t, exec.AdjustOrderPrice(51, 49.5))
	assert.Equal(t, 49.5, broker.modified[51].LimitPrice)

	require.NoError(t, exec.AdjustOrderPrice(52, 48.2))
	assert.Equal(t, 48.2, broker.modified[52].StopPrice)

	// Market orders have no price to adjust
	err := exec.AdjustOrderPrice(53, 50.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot adjust")

	require.Error(t, exec.AdjustOrderPrice(51, 0))
	require.Error(t, exec.AdjustOrderPrice(99, 50.0))
}
