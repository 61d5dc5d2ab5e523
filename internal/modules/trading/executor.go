// Package trading places and maintains broker orders: bracket entries,
// protective-exit upkeep, market exits, end-of-day flattening and the
// long-only safety net. All order flow goes through the bridge; this package
// owns the order-shape invariants (at most one stop and at most one
// take-profit per symbol, and when both exist they share one OCA group so a
// fill of either cancels the other).
package trading

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
)

// ErrSellPending means an exit was refused because SELL orders are already
// working for the symbol. Two exit paths racing each other is how a
// long-only book goes short.
var ErrSellPending = errors.New("sell orders already pending")

// Broker is the slice of the bridge the executor drives
type Broker interface {
	PlaceOrders(tickets []ibkr.OrderTicket) ([]ibkr.PlacedOrder, error)
	ModifyOrder(orderID int64, ticket ibkr.OrderTicket) error
	CancelOrder(orderID int64) error
	OpenOrders() ([]domain.OpenOrder, error)
	Positions() ([]domain.Position, error)
}

// Executor submits and maintains orders
type Executor struct {
	broker Broker
	hours  *market_hours.Service
	repo   *Repository
	bus    *events.Bus
	log    zerolog.Logger
}

// ExecutorConfig holds executor construction options. Repo and Bus may be
// nil; Hours is only used by FlattenNearClose.
type ExecutorConfig struct {
	Broker Broker
	Hours  *market_hours.Service
	Repo   *Repository
	Bus    *events.Bus
	Log    zerolog.Logger
}

// NewExecutor creates the order executor
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		broker: cfg.Broker,
		hours:  cfg.Hours,
		repo:   cfg.Repo,
		bus:    cfg.Bus,
		log:    cfg.Log.With().Str("service", "executor").Logger(),
	}
}

const tickEpsilon = 1e-9

// RoundDownToTick rounds a price down to the instrument increment. Sell
// stops round down so the submitted level never sits above the intended one.
func RoundDownToTick(price, tick float64) float64 {
	if tick <= 0 || price <= 0 {
		return price
	}
	steps := math.Floor(price/tick + tickEpsilon)
	return roundPrice(steps * tick)
}

// RoundUpToTick rounds a price up to the instrument increment. Take-profits
// round up so the submitted level never sits below the intended one.
func RoundUpToTick(price, tick float64) float64 {
	if tick <= 0 || price <= 0 {
		return price
	}
	steps := math.Ceil(price/tick - tickEpsilon)
	return roundPrice(steps * tick)
}

// roundPrice trims the float noise tick arithmetic leaves behind
func roundPrice(p float64) float64 {
	return math.Round(p*1e8) / 1e8
}

func tickFor(c domain.Contract) float64 {
	if c.MinTick > 0 {
		return c.MinTick
	}
	return domain.DefaultMinTick
}

// priceEqual treats prices within a millionth as the same level
func priceEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// ocaExitGroup names the standing OCA group protecting one symbol's exits
func ocaExitGroup(symbol string) string {
	return "OCA_EXIT_" + symbol
}

// BracketRequest describes a market entry with protective exits. A zero
// StopLoss or TakeProfit disables that leg.
type BracketRequest struct {
	Contract   domain.Contract
	Quantity   int
	StopLoss   float64
	TakeProfit float64
}

// BracketResult reports the submitted bracket. StopLoss and TakeProfit are
// the tick-rounded prices actually sent to the broker.
type BracketResult struct {
	ParentOrderID int64
	Status        string
	StopLoss      float64
	TakeProfit    float64
}

// ExecuteBuy submits a market buy with its protective exits in one batch.
// The parent transmits immediately; the exit legs reference it and share an
// OCA group keyed to the parent so they activate on the fill and cancel
// each other.
func (e *Executor) ExecuteBuy(req BracketRequest) (*BracketResult, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Contract.Symbol))
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid buy quantity %d for %s", req.Quantity, symbol)
	}

	tick := tickFor(req.Contract)
	stop := req.StopLoss
	if stop > 0 {
		rounded := RoundDownToTick(stop, tick)
		if !priceEqual(rounded, stop) {
			e.log.Info().Str("symbol", symbol).Float64("from", stop).Float64("to", rounded).
				Float64("tick", tick).Msg("Stop rounded to tick")
		}
		stop = rounded
	}
	tp := req.TakeProfit
	if tp > 0 {
		rounded := RoundUpToTick(tp, tick)
		if !priceEqual(rounded, tp) {
			e.log.Info().Str("symbol", symbol).Float64("from", tp).Float64("to", rounded).
				Float64("tick", tick).Msg("Take-profit rounded to tick")
		}
		tp = rounded
	}

	parentClientID := uuid.NewString()
	group := "OCA_" + parentClientID
	qty := float64(req.Quantity)

	tickets := []ibkr.OrderTicket{{
		ClientOrderID: parentClientID,
		ConID:         req.Contract.ConID,
		Symbol:        symbol,
		Side:          domain.SideBuy,
		OrderType:     domain.OrderMarket,
		Quantity:      qty,
	}}
	if tp > 0 {
		tickets = append(tickets, ibkr.OrderTicket{
			ClientOrderID:  uuid.NewString(),
			ParentClientID: parentClientID,
			ConID:          req.Contract.ConID,
			Symbol:         symbol,
			Side:           domain.SideSell,
			OrderType:      domain.OrderLimit,
			Quantity:       qty,
			LimitPrice:     tp,
			OCAGroup:       group,
		})
	}
	if stop > 0 {
		tickets = append(tickets, ibkr.OrderTicket{
			ClientOrderID:  uuid.NewString(),
			ParentClientID: parentClientID,
			ConID:          req.Contract.ConID,
			Symbol:         symbol,
			Side:           domain.SideSell,
			OrderType:      domain.OrderStop,
			Quantity:       qty,
			StopPrice:      stop,
			OCAGroup:       group,
		})
	}

	placed, err := e.broker.PlaceOrders(tickets)
	if err != nil {
		return nil, fmt.Errorf("bracket placement failed for %s: %w", symbol, err)
	}

	result := &BracketResult{StopLoss: stop, TakeProfit: tp}
	for _, p := range placed {
		if p.ClientOrderID == parentClientID {
			result.ParentOrderID = p.OrderID
			result.Status = p.Status
		}
	}

	e.log.Info().Str("symbol", symbol).Int("quantity", req.Quantity).
		Float64("stop", stop).Float64("take_profit", tp).
		Int64("order_id", result.ParentOrderID).Str("status", result.Status).
		Msg("Bracket submitted")
	return result, nil
}

// SellPosition market-sells a long position. The quantity is capped at the
// held amount and the sell is refused with ErrSellPending while any SELL
// order is still working for the symbol; callers cancel or wait first.
// Remaining (buy) orders are cancelled before the sell goes out.
func (e *Executor) SellPosition(symbol string, quantity float64) (*ibkr.PlacedOrder, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid sell quantity %.2f for %s", quantity, symbol)
	}

	pos, err := e.position(symbol)
	if err != nil {
		return nil, err
	}
	if pos == nil || pos.Quantity <= 0 {
		return nil, fmt.Errorf("no long position in %s to sell", symbol)
	}
	if quantity > pos.Quantity {
		e.log.Warn().Str("symbol", symbol).Float64("requested", quantity).
			Float64("held", pos.Quantity).Msg("Capping sell quantity to held position")
		quantity = pos.Quantity
	}

	pending, err := e.PendingSellOrders(symbol)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("%w for %s (%d working)", ErrSellPending, symbol, len(pending))
	}

	e.CancelOrdersFor(symbol)

	placed, err := e.broker.PlaceOrders([]ibkr.OrderTicket{{
		ClientOrderID: uuid.NewString(),
		ConID:         pos.ConID,
		Symbol:        symbol,
		Side:          domain.SideSell,
		OrderType:     domain.OrderMarket,
		Quantity:      quantity,
	}})
	if err != nil {
		return nil, fmt.Errorf("market sell failed for %s: %w", symbol, err)
	}
	if len(placed) == 0 {
		return nil, fmt.Errorf("market sell for %s returned no acknowledgement", symbol)
	}

	e.log.Info().Str("symbol", symbol).Float64("quantity", quantity).
		Int64("order_id", placed[0].OrderID).Msg("Market sell submitted")
	return &placed[0], nil
}

// UpsertStopLoss creates or updates the protective SELL stop for a long
// position. The price is rounded down to the instrument tick. At most one
// stop survives (extras are cancelled) and when a take-profit is also
// working the pair is linked into one OCA group. Resubmitting an unchanged
// price is a no-op.
func (e *Executor) UpsertStopLoss(contract domain.Contract, stopPrice, quantity float64) error {
	symbol := strings.ToUpper(strings.TrimSpace(contract.Symbol))
	if symbol == "" {
		return errors.New("cannot upsert stop loss: contract has no symbol")
	}
	price := RoundDownToTick(stopPrice, tickFor(contract))
	if price <= 0 {
		return fmt.Errorf("invalid stop price %.4f for %s", stopPrice, symbol)
	}

	stops, tps, err := e.exitOrders(symbol)
	if err != nil {
		return err
	}
	e.cancelExtras(symbol, stops)
	e.cancelExtras(symbol, tps)

	if len(stops) > 0 {
		keep := stops[0]
		linked := len(tps) == 0 || (keep.OCAGroup != "" && keep.OCAGroup == tps[0].OCAGroup)
		if priceEqual(keep.StopPrice, price) && linked {
			e.log.Debug().Str("symbol", symbol).Float64("stop", price).Msg("Stop already in place")
			return nil
		}

		group := keep.OCAGroup
		if !linked {
			group = ocaExitGroup(symbol)
			if err := e.relink(tps[0], group); err != nil {
				return err
			}
		}

		ticket := ticketFromOrder(keep)
		ticket.StopPrice = price
		ticket.OCAGroup = group
		if err := e.broker.ModifyOrder(keep.OrderID, ticket); err != nil {
			return fmt.Errorf("failed to modify stop for %s: %w", symbol, err)
		}

		e.log.Info().Str("symbol", symbol).Float64("from", keep.StopPrice).
			Float64("to", price).Msg("Stop loss moved")
		e.emitAdjustment(symbol, keep.OrderID, keep.StopPrice, price, "stop")
		return nil
	}

	// No stop working yet: place one sized to the held position
	qty := quantity
	if qty <= 0 {
		qty, err = e.PositionQuantity(symbol)
		if err != nil {
			return err
		}
	}
	if qty <= 0 {
		return fmt.Errorf("no long position in %s to protect", symbol)
	}

	group := ""
	if len(tps) > 0 {
		group = ocaExitGroup(symbol)
		if tps[0].OCAGroup != group {
			if err := e.relink(tps[0], group); err != nil {
				return err
			}
		}
	}

	_, err = e.broker.PlaceOrders([]ibkr.OrderTicket{{
		ClientOrderID: uuid.NewString(),
		ConID:         contract.ConID,
		Symbol:        symbol,
		Side:          domain.SideSell,
		OrderType:     domain.OrderStop,
		Quantity:      qty,
		StopPrice:     price,
		OCAGroup:      group,
	}})
	if err != nil {
		return fmt.Errorf("failed to place stop for %s: %w", symbol, err)
	}

	e.log.Info().Str("symbol", symbol).Float64("stop", price).Float64("quantity", qty).
		Msg("Stop loss placed")
	e.emitAdjustment(symbol, 0, 0, price, "stop")
	return nil
}

// UpsertTakeProfit creates or updates the SELL limit that takes profit on a
// long position. The price is rounded up to the instrument tick; the same
// one-survivor and OCA-linking rules as UpsertStopLoss apply.
func (e *Executor) UpsertTakeProfit(contract domain.Contract, takeProfitPrice, quantity float64) error {
	symbol := strings.ToUpper(strings.TrimSpace(contract.Symbol))
	if symbol == "" {
		return errors.New("cannot upsert take profit: contract has no symbol")
	}
	price := RoundUpToTick(takeProfitPrice, tickFor(contract))
	if price <= 0 {
		return fmt.Errorf("invalid take-profit price %.4f for %s", takeProfitPrice, symbol)
	}

	stops, tps, err := e.exitOrders(symbol)
	if err != nil {
		return err
	}
	e.cancelExtras(symbol, stops)
	e.cancelExtras(symbol, tps)

	if len(tps) > 0 {
		keep := tps[0]
		linked := len(stops) == 0 || (keep.OCAGroup != "" && keep.OCAGroup == stops[0].OCAGroup)
		if priceEqual(keep.LimitPrice, price) && linked {
			e.log.Debug().Str("symbol", symbol).Float64("take_profit", price).Msg("Take-profit already in place")
			return nil
		}

		group := keep.OCAGroup
		if !linked {
			group = ocaExitGroup(symbol)
			if err := e.relink(stops[0], group); err != nil {
				return err
			}
		}

		ticket := ticketFromOrder(keep)
		ticket.LimitPrice = price
		ticket.OCAGroup = group
		if err := e.broker.ModifyOrder(keep.OrderID, ticket); err != nil {
			return fmt.Errorf("failed to modify take-profit for %s: %w", symbol, err)
		}

		e.log.Info().Str("symbol", symbol).Float64("from", keep.LimitPrice).
			Float64("to", price).Msg("Take-profit moved")
		e.emitAdjustment(symbol, keep.OrderID, keep.LimitPrice, price, "take_profit")
		return nil
	}

	qty := quantity
	if qty <= 0 {
		qty, err = e.PositionQuantity(symbol)
		if err != nil {
			return err
		}
	}
	if qty <= 0 {
		return fmt.Errorf("no long position in %s to take profit on", symbol)
	}

	group := ""
	if len(stops) > 0 {
		group = ocaExitGroup(symbol)
		if stops[0].OCAGroup != group {
			if err := e.relink(stops[0], group); err != nil {
				return err
			}
		}
	}

	_, err = e.broker.PlaceOrders([]ibkr.OrderTicket{{
		ClientOrderID: uuid.NewString(),
		ConID:         contract.ConID,
		Symbol:        symbol,
		Side:          domain.SideSell,
		OrderType:     domain.OrderLimit,
		Quantity:      qty,
		LimitPrice:    price,
		OCAGroup:      group,
	}})
	if err != nil {
		return fmt.Errorf("failed to place take-profit for %s: %w", symbol, err)
	}

	e.log.Info().Str("symbol", symbol).Float64("take_profit", price).Float64("quantity", qty).
		Msg("Take-profit placed")
	e.emitAdjustment(symbol, 0, 0, price, "take_profit")
	return nil
}

// ExitLevels summarises a symbol's working protective orders. A missing leg
// is a nil price and a zero order id.
type ExitLevels struct {
	StopLoss    *float64
	TakeProfit  *float64
	StopOrderID int64
	TPOrderID   int64
}

// ExitLevels reports the current protective levels for a symbol
func (e *Executor) ExitLevels(symbol string) (*ExitLevels, error) {
	stops, tps, err := e.exitOrders(symbol)
	if err != nil {
		return nil, err
	}
	levels := &ExitLevels{}
	if len(stops) > 0 {
		price := stops[0].StopPrice
		levels.StopLoss = &price
		levels.StopOrderID = stops[0].OrderID
	}
	if len(tps) > 0 {
		price := tps[0].LimitPrice
		levels.TakeProfit = &price
		levels.TPOrderID = tps[0].OrderID
	}
	return levels, nil
}

// CancelOrder cancels one working order by broker id
func (e *Executor) CancelOrder(orderID int64) error {
	orders, err := e.broker.OpenOrders()
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.OrderID != orderID {
			continue
		}
		if err := e.broker.CancelOrder(orderID); err != nil {
			return fmt.Errorf("failed to cancel order %d: %w", orderID, err)
		}
		e.log.Info().Int64("order_id", orderID).Str("symbol", o.Symbol).Msg("Order cancelled")
		if e.bus != nil {
			e.bus.Emit("trading", &events.OrderData{
				OrderID:   orderID,
				Symbol:    strings.ToUpper(o.Symbol),
				Side:      string(o.Side),
				OrderType: string(o.OrderType),
				Quantity:  o.Quantity,
				Cancelled: true,
			})
		}
		return nil
	}
	return fmt.Errorf("order %d not found among open orders", orderID)
}

// AdjustOrderPrice moves a working order to a new price: the limit price for
// LMT orders, the trigger price for STP orders. Other types are refused.
func (e *Executor) AdjustOrderPrice(orderID int64, newPrice float64) error {
	if newPrice <= 0 {
		return fmt.Errorf("invalid price %.4f for order %d", newPrice, orderID)
	}

	orders, err := e.broker.OpenOrders()
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.OrderID != orderID {
			continue
		}

		ticket := ticketFromOrder(o)
		var old float64
		switch o.OrderType {
		case domain.OrderLimit:
			old = o.LimitPrice
			ticket.LimitPrice = newPrice
		case domain.OrderStop:
			old = o.StopPrice
			ticket.StopPrice = newPrice
		default:
			return fmt.Errorf("cannot adjust price of %s order %d", o.OrderType, orderID)
		}

		if err := e.broker.ModifyOrder(orderID, ticket); err != nil {
			return fmt.Errorf("failed to adjust order %d: %w", orderID, err)
		}
		e.log.Info().Int64("order_id", orderID).Str("symbol", o.Symbol).
			Float64("from", old).Float64("to", newPrice).Msg("Order price adjusted")
		return nil
	}
	return fmt.Errorf("order %d not found among open orders", orderID)
}

// CancelOrphanedSellOrders cancels SELL orders for symbols with no long
// position. Left working they fill into accidental shorts. Returns the
// number of cancellations submitted.
func (e *Executor) CancelOrphanedSellOrders() (int, error) {
	positions, err := e.broker.Positions()
	if err != nil {
		return 0, err
	}
	long := make(map[string]bool)
	for _, p := range positions {
		if p.Quantity > 0 {
			long[strings.ToUpper(p.Symbol)] = true
		}
	}

	orders, err := e.broker.OpenOrders()
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, o := range orders {
		if o.Side != domain.SideSell || long[strings.ToUpper(o.Symbol)] {
			continue
		}
		e.log.Warn().Str("symbol", o.Symbol).Int64("order_id", o.OrderID).
			Msg("Cancelling orphaned sell order")
		if err := e.broker.CancelOrder(o.OrderID); err != nil {
			e.log.Warn().Err(err).Int64("order_id", o.OrderID).Msg("Cancel failed")
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// CloseShortPositions buys to cover any negative position. Shorts should
// never exist in a long-only book; this repairs the invariant when a
// duplicate exit slipped through. Returns the number of covers submitted.
func (e *Executor) CloseShortPositions() (int, error) {
	positions, err := e.broker.Positions()
	if err != nil {
		return 0, err
	}

	covered := 0
	for _, p := range positions {
		if p.Quantity >= 0 {
			continue
		}
		symbol := strings.ToUpper(p.Symbol)
		qty := math.Abs(p.Quantity)
		e.log.Warn().Str("symbol", symbol).Float64("quantity", p.Quantity).
			Msg("Short position detected, buying to cover")

		e.CancelOrdersFor(symbol)
		_, err := e.broker.PlaceOrders([]ibkr.OrderTicket{{
			ClientOrderID: uuid.NewString(),
			ConID:         p.ConID,
			Symbol:        symbol,
			Side:          domain.SideBuy,
			OrderType:     domain.OrderMarket,
			Quantity:      qty,
		}})
		if err != nil {
			e.log.Error().Err(err).Str("symbol", symbol).Msg("Buy-to-cover failed")
			continue
		}
		covered++
	}
	return covered, nil
}

// FlattenNearClose market-closes every position whose venue is inside the
// flatten window. Intraday books go home flat. Returns the number of
// positions flattened.
func (e *Executor) FlattenNearClose(minutesBefore int, now time.Time) int {
	positions, err := e.broker.Positions()
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to load positions for flattening")
		return 0
	}

	flattened := 0
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		market := market_hours.MarketFor(p.Exchange, p.Currency)
		if !e.hours.IsNearClose(market, minutesBefore, now) {
			continue
		}
		if e.flattenOne(p, minutesBefore) {
			flattened++
		}
	}
	return flattened
}

// flattenOne closes a single position at market, recording the trade
func (e *Executor) flattenOne(p domain.Position, minutesBefore int) bool {
	symbol := strings.ToUpper(p.Symbol)
	e.log.Info().Str("symbol", symbol).Float64("quantity", p.Quantity).
		Int("minutes_before_close", minutesBefore).Msg("Flattening position before close")

	e.CancelOrdersFor(symbol)

	side := domain.SideSell
	status := StatusSold
	if p.Quantity < 0 {
		side = domain.SideBuy
		status = StatusExecuted
	}
	qty := math.Abs(p.Quantity)

	_, err := e.broker.PlaceOrders([]ibkr.OrderTicket{{
		ClientOrderID: uuid.NewString(),
		ConID:         p.ConID,
		Symbol:        symbol,
		Side:          side,
		OrderType:     domain.OrderMarket,
		Quantity:      qty,
	}})
	if err != nil {
		e.log.Error().Err(err).Str("symbol", symbol).Msg("Flatten order failed")
		return false
	}

	if e.repo != nil {
		_, err := e.repo.Insert(&Trade{
			Symbol:    symbol,
			Action:    string(side),
			Quantity:  qty,
			Price:     p.MarketPrice,
			Status:    status,
			Rationale: fmt.Sprintf("Flatten before close (%dm)", minutesBefore),
		})
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to record flatten trade")
		}
	}
	if e.bus != nil {
		e.bus.Emit("trading", &events.TradeExecutedData{
			Symbol:   symbol,
			Side:     string(side),
			Quantity: qty,
			Price:    p.MarketPrice,
		})
	}
	return true
}

// OpenOrders returns every working order on the account
func (e *Executor) OpenOrders() ([]domain.OpenOrder, error) {
	return e.broker.OpenOrders()
}

// OpenOrdersFor returns the working orders for one symbol
func (e *Executor) OpenOrdersFor(symbol string) ([]domain.OpenOrder, error) {
	orders, err := e.broker.OpenOrders()
	if err != nil {
		return nil, err
	}
	var out []domain.OpenOrder
	for _, o := range orders {
		if strings.EqualFold(o.Symbol, symbol) {
			out = append(out, o)
		}
	}
	return out, nil
}

// PendingSellOrders returns a symbol's working SELL orders of any type
func (e *Executor) PendingSellOrders(symbol string) ([]domain.OpenOrder, error) {
	orders, err := e.OpenOrdersFor(symbol)
	if err != nil {
		return nil, err
	}
	var sells []domain.OpenOrder
	for _, o := range orders {
		if o.Side == domain.SideSell {
			sells = append(sells, o)
		}
	}
	return sells, nil
}

// CancelOrdersFor cancels all working orders for a symbol, returning how
// many cancellations were submitted.
func (e *Executor) CancelOrdersFor(symbol string) int {
	orders, err := e.OpenOrdersFor(symbol)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to list orders for cancellation")
		return 0
	}

	cancelled := 0
	for _, o := range orders {
		if err := e.broker.CancelOrder(o.OrderID); err != nil {
			e.log.Warn().Err(err).Int64("order_id", o.OrderID).Str("symbol", symbol).
				Msg("Cancel failed")
			continue
		}
		cancelled++
	}
	return cancelled
}

// PositionQuantity returns the held quantity for a symbol, zero when flat
func (e *Executor) PositionQuantity(symbol string) (float64, error) {
	pos, err := e.position(symbol)
	if err != nil {
		return 0, err
	}
	if pos == nil {
		return 0, nil
	}
	return pos.Quantity, nil
}

func (e *Executor) position(symbol string) (*domain.Position, error) {
	positions, err := e.broker.Positions()
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if strings.EqualFold(positions[i].Symbol, symbol) {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// exitOrders splits a symbol's working SELL orders into stops and
// take-profits.
func (e *Executor) exitOrders(symbol string) (stops, tps []domain.OpenOrder, err error) {
	orders, err := e.OpenOrdersFor(symbol)
	if err != nil {
		return nil, nil, err
	}
	for _, o := range orders {
		if o.Side != domain.SideSell {
			continue
		}
		switch o.OrderType {
		case domain.OrderStop:
			stops = append(stops, o)
		case domain.OrderLimit:
			tps = append(tps, o)
		}
	}
	return stops, tps, nil
}

// cancelExtras enforces the one-survivor rule by cancelling every order
// after the first.
func (e *Executor) cancelExtras(symbol string, orders []domain.OpenOrder) {
	if len(orders) < 2 {
		return
	}
	for _, o := range orders[1:] {
		e.log.Warn().Str("symbol", symbol).Int64("order_id", o.OrderID).
			Str("type", string(o.OrderType)).Msg("Cancelling duplicate exit order")
		if err := e.broker.CancelOrder(o.OrderID); err != nil {
			e.log.Warn().Err(err).Int64("order_id", o.OrderID).Msg("Cancel failed")
		}
	}
}

// relink moves a working order into the given OCA group
func (e *Executor) relink(o domain.OpenOrder, group string) error {
	ticket := ticketFromOrder(o)
	ticket.OCAGroup = group
	if err := e.broker.ModifyOrder(o.OrderID, ticket); err != nil {
		return fmt.Errorf("failed to relink order %d into %s: %w", o.OrderID, group, err)
	}
	return nil
}

// ticketFromOrder rebuilds the submit ticket for a working order so a
// modify carries the full order state.
func ticketFromOrder(o domain.OpenOrder) ibkr.OrderTicket {
	return ibkr.OrderTicket{
		ClientOrderID: o.ClientOrderID,
		ConID:         o.ConID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		OrderType:     o.OrderType,
		Quantity:      o.Quantity,
		LimitPrice:    o.LimitPrice,
		StopPrice:     o.StopPrice,
		OCAGroup:      o.OCAGroup,
	}
}

func (e *Executor) emitAdjustment(symbol string, orderID int64, oldPrice, newPrice float64, kind string) {
	if e.bus == nil {
		return
	}
	e.bus.Emit("trading", &events.AdjustmentData{
		Symbol:   symbol,
		OrderID:  orderID,
		OldPrice: oldPrice,
		NewPrice: newPrice,
		Kind:     kind,
	})
}
