// Package review runs the per-cycle position and order reviews: it assembles
// the decision payloads, asks the decision service what to do, persists every
// verdict, and carries out the approved actions through the trading executor.
package review

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/clients/llm"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/sentiment"
	"github.com/aristath/helmsman/internal/modules/trading"
)

// News window for position review payloads. Tighter than research: reviews
// run every cycle, stale headlines just add noise.
const (
	reviewNewsLookbackDays = 1
	reviewNewsLimit        = 8
)

// topCandidateLimit caps the rotation prospects sent with a position review
const topCandidateLimit = 5

// defaultMinutesHeld seeds the holding age of a position that predates both
// the metadata store and the trade ledger.
const defaultMinutesHeld = 30

// Broker is the slice of the bridge the review engine reads from
type Broker interface {
	Positions() ([]domain.Position, error)
	Quote(conID int64) (*domain.Quote, error)
	HistoricalBars(conID int64, period, barSize string, useRTH bool) ([]domain.Bar, error)
	NewsHeadlines(conID int64, lookbackDays, limit int) ([]string, error)
	SearchContract(symbol string) ([]domain.Contract, error)
}

// OrderExecutor is the slice of the trading executor the review engine acts
// through. Every broker mutation a review triggers goes via these calls.
type OrderExecutor interface {
	SellPosition(symbol string, quantity float64) (*ibkr.PlacedOrder, error)
	UpsertStopLoss(contract domain.Contract, stopPrice, quantity float64) error
	UpsertTakeProfit(contract domain.Contract, takeProfitPrice, quantity float64) error
	ExitLevels(symbol string) (*trading.ExitLevels, error)
	OpenOrders() ([]domain.OpenOrder, error)
	CancelOrder(orderID int64) error
	AdjustOrderPrice(orderID int64, newPrice float64) error
}

// Decider is the review calls of the decision service
type Decider interface {
	ReviewPosition(ctx context.Context, payload llm.PositionPayload) (*llm.PositionReviewDecision, error)
	ReviewOrder(ctx context.Context, payload llm.OrderPayload) (*llm.OrderReviewDecision, error)
}

// SentimentSource reads the stored Reddit signal for one symbol
type SentimentSource interface {
	SentimentFor(symbol string) (*sentiment.SymbolSentiment, error)
}

// ReviewContext is the per-cycle state review calls need. The cycle builds
// one and hands it to ReviewPositions and ReviewOrders of that iteration.
type ReviewContext struct {
	Now           time.Time
	Config        config.Base
	TopCandidates []TopCandidate
	MarketContext map[string]interface{}
}

// Service reviews open positions and working orders. Each reviewed position
// and order gets exactly one persisted row per review; the row is written
// before any resulting order action, so a refused or failed action still
// leaves the verdict on record with executed = 0.
type Service struct {
	broker    Broker
	executor  OrderExecutor
	decider   Decider
	analyser  *research.Analyser
	meta      *MetaStore
	repo      *Repository
	trades    *trading.Repository
	sentiment SentimentSource // optional
	bus       *events.Bus     // optional
	log       zerolog.Logger

	mu         sync.Mutex
	lastReview map[string]time.Time // per-symbol review interval gate
	firstSeen  map[int64]time.Time  // order id -> first sighting, for age
}

// ServiceConfig holds review service construction options. Sentiment and Bus
// may be nil.
type ServiceConfig struct {
	Broker    Broker
	Executor  OrderExecutor
	Decider   Decider
	Analyser  *research.Analyser
	Meta      *MetaStore
	Repo      *Repository
	Trades    *trading.Repository
	Sentiment SentimentSource
	Bus       *events.Bus
	Log       zerolog.Logger
}

// NewService creates the review service
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		broker:     cfg.Broker,
		executor:   cfg.Executor,
		decider:    cfg.Decider,
		analyser:   cfg.Analyser,
		meta:       cfg.Meta,
		repo:       cfg.Repo,
		trades:     cfg.Trades,
		sentiment:  cfg.Sentiment,
		bus:        cfg.Bus,
		log:        cfg.Log.With().Str("service", "review").Logger(),
		lastReview: make(map[string]time.Time),
		firstSeen:  make(map[int64]time.Time),
	}
}

// ReviewPositions reviews every open long position whose per-symbol interval
// has elapsed and returns one outcome per reviewed position. A position whose
// decision call fails produces no outcome and no row; it is retried after the
// interval.
func (s *Service) ReviewPositions(ctx context.Context, rc *ReviewContext) []PositionOutcome {
	positions, err := s.broker.Positions()
	if err != nil {
		s.log.Error().Err(err).Msg("Cannot review positions, portfolio unavailable")
		return nil
	}

	interval := time.Duration(rc.Config.PositionManagement.ReviewIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	var outcomes []PositionOutcome
	for _, pos := range positions {
		if pos.Quantity <= 0 {
			continue
		}
		symbol := strings.ToUpper(pos.Symbol)
		if !s.markReviewed(symbol, rc.Now, interval) {
			continue
		}
		if out := s.reviewPosition(ctx, pos, rc); out != nil {
			outcomes = append(outcomes, *out)
		}
	}
	return outcomes
}

// markReviewed reports whether the symbol's interval has elapsed and stamps
// it. The stamp lands before the review runs, so a failing review waits out
// the interval instead of retrying every cycle.
func (s *Service) markReviewed(symbol string, now time.Time, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastReview[symbol]; ok && now.Sub(last) < interval {
		return false
	}
	s.lastReview[symbol] = now
	return true
}

func (s *Service) reviewPosition(ctx context.Context, pos domain.Position, rc *ReviewContext) *PositionOutcome {
	symbol := strings.ToUpper(pos.Symbol)

	quote, err := s.broker.Quote(pos.ConID)
	if err != nil {
		quote = nil
	}

	currentPrice := pos.MarketPrice
	if currentPrice <= 0 && quote != nil {
		currentPrice = quote.Price()
	}
	if currentPrice <= 0 {
		s.log.Warn().Str("symbol", symbol).Msg("No usable price, skipping position review")
		return nil
	}

	pnlPct := 0.0
	if pos.AvgCost > 0 {
		pnlPct = round2((currentPrice - pos.AvgCost) / pos.AvgCost * 100)
	}

	minutesHeld := s.minutesHeld(symbol, pos.AvgCost, rc.Now)
	peakPnL, _ := s.meta.UpdatePeaks(symbol, pnlPct, currentPrice)
	drawdown := round2(peakPnL - pnlPct)

	levels, err := s.executor.ExitLevels(symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Exit levels unavailable")
		levels = &trading.ExitLevels{}
	}

	payload := llm.PositionPayload{
		Symbol:        symbol,
		Exchange:      pos.Exchange,
		Currency:      pos.Currency,
		NewsHeadlines: s.headlines(pos.ConID, symbol),
		Reddit:        s.redditFor(symbol),
		Fundamentals:  fundamentalsFrom(quote),
		MarketContext: rc.MarketContext,
		Intraday:      intradayPayload(rc.Config.Intraday),
	}
	payload.Position.EntryPrice = pos.AvgCost
	payload.Position.CurrentPrice = currentPrice
	payload.Position.Quantity = pos.Quantity
	payload.Position.UnrealizedPnL = pos.UnrealizedPnL
	payload.Position.PnLPct = pnlPct
	payload.Position.PeakPnLPct = &peakPnL
	payload.Position.DrawdownFromPeakPct = &drawdown
	payload.Position.MinutesHeld = minutesHeld

	payload.Orders.CurrentStopLoss = levels.StopLoss
	payload.Orders.CurrentTakeProfit = levels.TakeProfit
	if levels.StopLoss != nil {
		v := round2((currentPrice - *levels.StopLoss) / currentPrice * 100)
		payload.Orders.DistanceToStopPct = &v
	}
	if levels.TakeProfit != nil {
		v := round2((*levels.TakeProfit - currentPrice) / currentPrice * 100)
		payload.Orders.DistanceToTPPct = &v
	}

	payload.Indicators, payload.BarMomentum = s.technicals(pos, rc.Config.Intraday)

	if rc.Config.PositionManagement.OpportunityRotation {
		payload.TopCandidates = topCandidatePayload(rc.TopCandidates)
	}

	decision, err := s.decider.ReviewPosition(ctx, payload)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Position review failed, holding")
		return nil
	}

	rev := &PositionReview{
		Symbol:            symbol,
		Exchange:          pos.Exchange,
		Currency:          pos.Currency,
		EntryPrice:        pos.AvgCost,
		CurrentPrice:      currentPrice,
		Quantity:          pos.Quantity,
		UnrealisedPnL:     pos.UnrealizedPnL,
		PnLPct:            pnlPct,
		MinutesHeld:       minutesHeld,
		CurrentStopLoss:   levels.StopLoss,
		CurrentTakeProfit: levels.TakeProfit,
		Action:            decision.Action,
		NewStopLoss:       decision.NewStopLoss,
		NewTakeProfit:     decision.NewTakeProfit,
		Confidence:        decision.Confidence,
		Urgency:           decision.Urgency,
		Rationale:         decision.Rationale,
		KeyFactors:        decision.KeyFactors,
	}
	id, err := s.repo.InsertPositionReview(rev)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to persist position review")
		return nil
	}

	out := &PositionOutcome{
		ReviewID:   id,
		Symbol:     symbol,
		Action:     decision.Action,
		Confidence: decision.Confidence,
	}
	s.dispatchPosition(pos, currentPrice, decision, id, out, rc)

	s.log.Info().Str("symbol", symbol).Str("action", decision.Action).
		Float64("confidence", decision.Confidence).Bool("executed", out.Executed).
		Str("detail", out.Detail).Msg("Position review")
	if s.bus != nil {
		conf := decision.Confidence
		urg := decision.Urgency
		s.bus.Emit("review", &events.PositionReviewData{
			Symbol:     symbol,
			Action:     decision.Action,
			Confidence: &conf,
			Urgency:    &urg,
			Executed:   out.Executed,
			Reason:     decision.Rationale,
		})
	}
	return out
}

// dispatchPosition carries out the decision. HOLD records only; the other
// actions validate first and refuse rather than send a nonsensical order.
func (s *Service) dispatchPosition(pos domain.Position, currentPrice float64, d *llm.PositionReviewDecision, reviewID int64, out *PositionOutcome, rc *ReviewContext) {
	switch d.Action {
	case ActionHold:
		out.Detail = "HOLD"
	case ActionSell:
		s.executeSell(pos, currentPrice, d, reviewID, out)
	case ActionAdjustStop:
		s.executeAdjustStop(pos, currentPrice, d, reviewID, out, rc)
	case ActionAdjustTP:
		s.executeAdjustTP(pos, currentPrice, d, reviewID, out, rc)
	}
}

func (s *Service) executeSell(pos domain.Position, currentPrice float64, d *llm.PositionReviewDecision, reviewID int64, out *PositionOutcome) {
	symbol := strings.ToUpper(pos.Symbol)

	placed, err := s.executor.SellPosition(symbol, pos.Quantity)
	if err != nil {
		if errors.Is(err, trading.ErrSellPending) {
			s.log.Warn().Str("symbol", symbol).Msg("SELL suggested but a sell order is already pending")
			out.Detail = "SELL refused: sell order already pending"
		} else {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("SELL failed")
			out.Detail = fmt.Sprintf("SELL failed: %v", err)
		}
		return
	}

	// The position is gone; its review clock and metadata go with it.
	s.meta.Clear(symbol)
	s.mu.Lock()
	delete(s.lastReview, symbol)
	s.mu.Unlock()

	conf := d.Confidence
	if _, err := s.trades.Insert(&trading.Trade{
		Symbol:         symbol,
		Action:         "SELL",
		Quantity:       pos.Quantity,
		Price:          currentPrice,
		SentimentScore: &conf,
		Status:         trading.StatusSold,
		Rationale:      d.Rationale,
	}); err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to record sell trade")
	}

	s.markPositionExecuted(reviewID)
	out.Executed = true
	out.Detail = fmt.Sprintf("Sold %.0f (order %d)", pos.Quantity, placed.OrderID)
}

func (s *Service) executeAdjustStop(pos domain.Position, currentPrice float64, d *llm.PositionReviewDecision, reviewID int64, out *PositionOutcome, rc *ReviewContext) {
	symbol := strings.ToUpper(pos.Symbol)

	if d.NewStopLoss == nil || *d.NewStopLoss <= 0 || *d.NewStopLoss >= currentPrice {
		s.log.Warn().Str("symbol", symbol).Float64("price", currentPrice).
			Interface("new_stop", d.NewStopLoss).
			Msg("ADJUST_STOP with invalid stop level, ignoring")
		out.Detail = "ADJUST_STOP refused: invalid stop level"
		return
	}
	if !s.underAdjustmentCap(symbol, out, rc) {
		return
	}

	if err := s.executor.UpsertStopLoss(s.contractFor(pos), *d.NewStopLoss, pos.Quantity); err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Stop adjustment failed")
		out.Detail = fmt.Sprintf("ADJUST_STOP failed: %v", err)
		return
	}

	s.meta.RecordAdjustment(symbol, rc.Now)
	s.markPositionExecuted(reviewID)
	out.Executed = true
	out.Detail = fmt.Sprintf("Stop moved to %.2f", *d.NewStopLoss)
}

func (s *Service) executeAdjustTP(pos domain.Position, currentPrice float64, d *llm.PositionReviewDecision, reviewID int64, out *PositionOutcome, rc *ReviewContext) {
	symbol := strings.ToUpper(pos.Symbol)

	if d.NewTakeProfit == nil || *d.NewTakeProfit <= currentPrice {
		s.log.Warn().Str("symbol", symbol).Float64("price", currentPrice).
			Interface("new_tp", d.NewTakeProfit).
			Msg("ADJUST_TP with invalid take-profit level, ignoring")
		out.Detail = "ADJUST_TP refused: invalid take-profit level"
		return
	}
	if !s.underAdjustmentCap(symbol, out, rc) {
		return
	}

	if err := s.executor.UpsertTakeProfit(s.contractFor(pos), *d.NewTakeProfit, pos.Quantity); err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Take-profit adjustment failed")
		out.Detail = fmt.Sprintf("ADJUST_TP failed: %v", err)
		return
	}

	s.meta.RecordAdjustment(symbol, rc.Now)
	s.markPositionExecuted(reviewID)
	out.Executed = true
	out.Detail = fmt.Sprintf("Take-profit moved to %.2f", *d.NewTakeProfit)
}

// underAdjustmentCap enforces the daily per-position adjustment limit. Stops
// and take-profits share the counter.
func (s *Service) underAdjustmentCap(symbol string, out *PositionOutcome, rc *ReviewContext) bool {
	limit := rc.Config.PositionManagement.MaxAdjustmentsPerPosition
	if limit <= 0 {
		return true
	}
	n := s.meta.AdjustmentsToday(symbol, rc.Now)
	if n < limit {
		return true
	}
	s.log.Warn().Str("symbol", symbol).Int("adjustments", n).
		Msg("Adjustment cap reached, refusing further moves today")
	out.Detail = fmt.Sprintf("Adjustment refused: cap reached (%d today)", n)
	return false
}

func (s *Service) markPositionExecuted(reviewID int64) {
	if err := s.repo.MarkPositionExecuted(reviewID); err != nil {
		s.log.Error().Err(err).Int64("review_id", reviewID).Msg("Failed to mark review executed")
	}
}

// minutesHeld derives the holding age: metadata first, then the last recorded
// BUY, else a conservative default. The DB and default paths both seed the
// metadata so the next review reads it directly.
func (s *Service) minutesHeld(symbol string, entryPrice float64, now time.Time) int {
	if meta, ok := s.meta.Get(symbol); ok && !meta.EntryTime.IsZero() {
		return int(now.Sub(meta.EntryTime).Minutes())
	}

	trades, err := s.trades.BySymbol(symbol, 10)
	if err == nil {
		for _, t := range trades {
			if t.Action == "BUY" && !t.CreatedAt.IsZero() {
				s.meta.RecordEntry(symbol, entryPrice, t.CreatedAt)
				return int(now.Sub(t.CreatedAt).Minutes())
			}
		}
	}

	s.meta.RecordEntry(symbol, entryPrice, now)
	return defaultMinutesHeld
}

// technicals computes the indicator and momentum payloads from recent
// intraday bars. Both nil when bars are unavailable.
func (s *Service) technicals(pos domain.Position, cfg config.IntradayConfig) (map[string]interface{}, map[string]interface{}) {
	bars, err := s.broker.HistoricalBars(pos.ConID, cfg.Duration, cfg.BarSize, cfg.UseRTH)
	if err != nil || len(bars) == 0 {
		return nil, nil
	}

	var indicators map[string]interface{}
	if set := s.analyser.Indicators(bars); set != nil {
		indicators = map[string]interface{}{}
		if set.RSI14 != nil {
			indicators["rsi_14"] = *set.RSI14
		}
		if set.ATR14 != nil {
			indicators["atr"] = *set.ATR14
		}
		if len(indicators) == 0 {
			indicators = nil
		}
	}
	return indicators, s.analyser.Momentum(bars).Payload()
}

func (s *Service) headlines(conID int64, symbol string) []string {
	headlines, err := s.broker.NewsHeadlines(conID, reviewNewsLookbackDays, reviewNewsLimit)
	if err != nil {
		s.log.Debug().Err(err).Str("symbol", symbol).Msg("Headlines unavailable")
		return nil
	}
	return headlines
}

// redditFor reads the stored Reddit signal. Nil without a sentiment source or
// when the symbol has never been mentioned.
func (s *Service) redditFor(symbol string) map[string]interface{} {
	if s.sentiment == nil {
		return nil
	}
	sig, err := s.sentiment.SentimentFor(symbol)
	if err != nil || sig == nil {
		return nil
	}
	return map[string]interface{}{
		"mentions":         sig.Mentions,
		"sentiment":        sig.Sentiment,
		"confidence":       sig.Confidence,
		"rationale":        sig.Rationale,
		"source_fetch_utc": sig.SourceFetchUTC,
	}
}

// contractFor qualifies the position's contract so the executor knows the
// price increment. Falls back to the portfolio row when search fails; a zero
// MinTick makes the executor use its default.
func (s *Service) contractFor(pos domain.Position) domain.Contract {
	symbol := strings.ToUpper(pos.Symbol)
	if contracts, err := s.broker.SearchContract(symbol); err == nil {
		for _, c := range contracts {
			if c.ConID == pos.ConID {
				return c
			}
		}
	}
	return domain.Contract{
		ConID:    pos.ConID,
		Symbol:   symbol,
		Exchange: pos.Exchange,
		Currency: pos.Currency,
	}
}

// ReviewOrders reviews standalone working orders and returns one outcome per
// reviewed order. Bracket children are skipped, their lifecycle belongs to
// the parent. Sell orders on held positions are skipped too: those are
// protective exits and the position review owns them.
func (s *Service) ReviewOrders(ctx context.Context, rc *ReviewContext) []OrderOutcome {
	orders, err := s.executor.OpenOrders()
	if err != nil {
		s.log.Error().Err(err).Msg("Cannot review orders, open orders unavailable")
		return nil
	}

	held := map[string]bool{}
	if positions, err := s.broker.Positions(); err == nil {
		for _, p := range positions {
			if p.Quantity > 0 {
				held[strings.ToUpper(p.Symbol)] = true
			}
		}
	}

	s.pruneFirstSeen(orders)

	var outcomes []OrderOutcome
	for _, o := range orders {
		if o.IsChild() {
			continue
		}
		if o.Side == domain.SideSell && held[strings.ToUpper(o.Symbol)] {
			continue
		}
		if out := s.reviewOrder(ctx, o, rc); out != nil {
			outcomes = append(outcomes, *out)
		}
	}
	return outcomes
}

// pruneFirstSeen drops age marks of orders no longer working
func (s *Service) pruneFirstSeen(live []domain.OpenOrder) {
	ids := make(map[int64]bool, len(live))
	for _, o := range live {
		ids[o.OrderID] = true
	}
	s.mu.Lock()
	for id := range s.firstSeen {
		if !ids[id] {
			delete(s.firstSeen, id)
		}
	}
	s.mu.Unlock()
}

// orderAge returns whole minutes since the order was first sighted, stamping
// first sight at now.
func (s *Service) orderAge(orderID int64, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	first, ok := s.firstSeen[orderID]
	if !ok {
		s.firstSeen[orderID] = now
		return 0
	}
	return int(now.Sub(first).Minutes())
}

func (s *Service) reviewOrder(ctx context.Context, o domain.OpenOrder, rc *ReviewContext) *OrderOutcome {
	symbol := strings.ToUpper(o.Symbol)
	age := s.orderAge(o.OrderID, rc.Now)

	var orderPrice *float64
	switch {
	case o.OrderType == domain.OrderLimit && o.LimitPrice > 0:
		p := o.LimitPrice
		orderPrice = &p
	case o.OrderType == domain.OrderStop && o.StopPrice > 0:
		p := o.StopPrice
		orderPrice = &p
	}

	// Market data is best-effort: the decision service tolerates nulls and
	// must never see fabricated prices.
	var currentPrice, bid, ask *float64
	if quote, err := s.broker.Quote(o.ConID); err == nil && quote != nil {
		if p := quote.Price(); p > 0 {
			currentPrice = &p
		}
		if quote.Bid > 0 {
			b := quote.Bid
			bid = &b
		}
		if quote.Ask > 0 {
			a := quote.Ask
			ask = &a
		}
	}

	decision, err := s.decider.ReviewOrder(ctx, llm.OrderPayload{
		Symbol:        symbol,
		OrderID:       o.OrderID,
		Action:        string(o.Side),
		OrderType:     string(o.OrderType),
		Quantity:      o.Quantity,
		OrderPrice:    orderPrice,
		CurrentPrice:  currentPrice,
		BidPrice:      bid,
		AskPrice:      ask,
		AgeMinutes:    age,
		MarketContext: rc.MarketContext,
	})
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Int64("order_id", o.OrderID).
			Msg("Order review failed, keeping order")
		return nil
	}

	rev := &OrderReview{
		OrderID:       o.OrderID,
		Symbol:        symbol,
		OrderSide:     string(o.Side),
		OrderType:     string(o.OrderType),
		OrderQuantity: o.Quantity,
		OrderPrice:    orderPrice,
		CurrentPrice:  currentPrice,
		AgeMinutes:    age,
		Action:        decision.Action,
		NewPrice:      decision.NewPrice,
		Confidence:    decision.Confidence,
		Rationale:     decision.Rationale,
	}
	id, err := s.repo.InsertOrderReview(rev)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to persist order review")
		return nil
	}

	out := &OrderOutcome{
		ReviewID:   id,
		OrderID:    o.OrderID,
		Symbol:     symbol,
		Action:     decision.Action,
		Confidence: decision.Confidence,
	}
	s.dispatchOrder(o, decision, id, out)

	s.log.Info().Str("symbol", symbol).Int64("order_id", o.OrderID).
		Str("action", decision.Action).Bool("executed", out.Executed).
		Str("detail", out.Detail).Msg("Order review")
	if s.bus != nil {
		s.bus.Emit("review", &events.OrderReviewData{
			OrderID:  o.OrderID,
			Symbol:   symbol,
			Action:   decision.Action,
			Executed: out.Executed,
		})
	}
	return out
}

func (s *Service) dispatchOrder(o domain.OpenOrder, d *llm.OrderReviewDecision, reviewID int64, out *OrderOutcome) {
	switch d.Action {
	case ActionKeep:
		out.Detail = "KEEP"

	case ActionCancel:
		if err := s.executor.CancelOrder(o.OrderID); err != nil {
			s.log.Error().Err(err).Int64("order_id", o.OrderID).Msg("Order cancel failed")
			out.Detail = fmt.Sprintf("CANCEL failed: %v", err)
			return
		}
		if err := s.repo.MarkOrderExecuted(reviewID); err != nil {
			s.log.Error().Err(err).Int64("review_id", reviewID).Msg("Failed to mark order review executed")
		}
		out.Executed = true
		out.Detail = "Cancelled"

	case ActionAdjustPrice:
		if d.NewPrice == nil || *d.NewPrice <= 0 {
			s.log.Warn().Int64("order_id", o.OrderID).Msg("ADJUST_PRICE with invalid price, ignoring")
			out.Detail = "ADJUST_PRICE refused: invalid price"
			return
		}
		if err := s.executor.AdjustOrderPrice(o.OrderID, *d.NewPrice); err != nil {
			s.log.Error().Err(err).Int64("order_id", o.OrderID).Msg("Order price adjustment failed")
			out.Detail = fmt.Sprintf("ADJUST_PRICE failed: %v", err)
			return
		}
		if err := s.repo.MarkOrderExecuted(reviewID); err != nil {
			s.log.Error().Err(err).Int64("review_id", reviewID).Msg("Failed to mark order review executed")
		}
		out.Executed = true
		out.Detail = fmt.Sprintf("Price moved to %.2f", *d.NewPrice)
	}
}

// fundamentalsFrom derives the liquidity snapshot for review payloads. Nil
// when no quote is available; fields the gateway omitted are absent.
func fundamentalsFrom(quote *domain.Quote) map[string]interface{} {
	if quote == nil {
		return nil
	}
	out := map[string]interface{}{}
	if quote.Volume > 0 {
		out["volume"] = quote.Volume
	}
	if quote.AvgVolume > 0 {
		out["avg_volume"] = quote.AvgVolume
	}
	if quote.Volume > 0 && quote.AvgVolume > 0 {
		out["relative_volume"] = round2(quote.Volume / quote.AvgVolume)
	}
	if quote.Bid > 0 {
		out["bid"] = quote.Bid
	}
	if quote.Ask > 0 {
		out["ask"] = quote.Ask
	}
	if quote.Bid > 0 && quote.Ask > 0 {
		out["spread_pct"] = round2((quote.Ask - quote.Bid) / quote.Ask * 100)
	}
	if quote.High > 0 {
		out["day_high"] = quote.High
	}
	if quote.Low > 0 {
		out["day_low"] = quote.Low
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// topCandidatePayload renders the cycle's best prospects for opportunity
// rotation, capped so the payload stays small.
func topCandidatePayload(cands []TopCandidate) []map[string]interface{} {
	if len(cands) == 0 {
		return nil
	}
	if len(cands) > topCandidateLimit {
		cands = cands[:topCandidateLimit]
	}
	out := make([]map[string]interface{}, 0, len(cands))
	for _, c := range cands {
		entry := map[string]interface{}{"symbol": c.Symbol}
		if c.Score != nil {
			entry["score"] = *c.Score
		}
		if c.Rationale != "" {
			entry["rationale"] = c.Rationale
		}
		out = append(out, entry)
	}
	return out
}

func intradayPayload(cfg config.IntradayConfig) map[string]interface{} {
	return map[string]interface{}{
		"enabled":                      cfg.Enabled,
		"bar_size":                     cfg.BarSize,
		"duration":                     cfg.Duration,
		"use_rth":                      cfg.UseRTH,
		"flatten_minutes_before_close": cfg.FlattenMinutesBeforeClose,
		"stop_atr_multiplier":          cfg.StopATRMultiplier,
		"take_profit_r":                cfg.TakeProfitR,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
