package cycle

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/llm"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/risk"
	"github.com/aristath/helmsman/internal/modules/trading"
)

// iterate runs one full cycle and returns how long the loop should sleep
// before the next one. Zero means start again immediately.
func (r *Runner) iterate(ctx context.Context, now time.Time) time.Duration {
	started := time.Now()
	cycleID := uuid.NewString()
	log := r.log.With().Str("cycle_id", cycleID).Logger()

	cfg, err := r.overlay.Effective()
	if err != nil {
		log.Error().Err(err).Msg("Runtime config rejected; trading paused until fixed")
		r.step(cycleID, "Config", "Runtime config error; trading paused")
		r.emitCycle(&events.CycleData{
			CycleID: cycleID,
			Status:  "failed",
			Error:   fmt.Sprintf("Runtime config unavailable/invalid: %s", truncate(err.Error(), 200)),
		})
		return pausedRetryInterval
	}

	r.applyAISettings(cfg)

	interval := time.Duration(cfg.Intraday.CycleIntervalSeconds) * time.Second
	closedInterval := time.Duration(cfg.Intraday.CycleIntervalSecondsClosed) * time.Second

	paused, err := r.overlay.Paused()
	if err != nil {
		log.Error().Err(err).Msg("Cannot read pause flag; refusing to trade")
		r.emitCycle(&events.CycleData{
			CycleID: cycleID,
			Status:  "failed",
			Error:   truncate(err.Error(), 200),
		})
		return pausedRetryInterval
	}
	if paused {
		r.step(cycleID, "Idle", "Trading paused")
		return pausedRetryInterval
	}

	r.safetyNet(log)

	log.Info().Msg("Starting analysis cycle")
	r.emitCycle(&events.CycleData{CycleID: cycleID, Status: "started"})
	r.step(cycleID, "Screener", "Starting market scan")

	if cfg.Intraday.Enabled {
		r.executor.FlattenNearClose(cfg.Intraday.FlattenMinutesBeforeClose, now)
	}

	r.maybeReview(ctx, cfg, now)

	// Outside intraday mode overnight holds are intended, so a closed
	// market is no reason to skip research.
	if cfg.Intraday.Enabled {
		if open := r.hours.OpenMarkets(cfg.Trading.Markets, now); len(open) == 0 {
			mins := int(closedInterval.Minutes())
			log.Info().Int("sleep_minutes", mins).Msg("All configured markets closed")
			r.step(cycleID, "Idle", fmt.Sprintf("Market closed; next cycle in ~%d min", mins))
			r.emitCycle(&events.CycleData{
				CycleID: cycleID,
				Status:  "skipped",
				Reason:  "All configured markets closed",
			})
			return closedInterval
		}
	}

	cands := r.screener.Candidates(cfg.Trading)
	cands = r.augmentFromReddit(log, cfg, cands, now)
	if len(cands) == 0 {
		log.Info().Msg("No candidates available; waiting for next cycle")
		r.step(cycleID, "Idle", "No candidates available; waiting for next cycle")
		r.emitCycle(&events.CycleData{
			CycleID: cycleID,
			Status:  "skipped",
			Reason:  "No candidates available",
		})
		return interval
	}

	values, err := r.broker.AccountValues()
	if err != nil {
		log.Warn().Err(err).Msg("Account summary unavailable")
		values = nil
	}
	netLiq, eqErr := risk.Equity(values)
	haveEquity := eqErr == nil
	if !haveEquity {
		log.Warn().Err(eqErr).Msg("Net liquidation not available; position sizing disabled this cycle")
	}
	if r.portfolio != nil {
		if err := r.portfolio.RecordPerformance(); err != nil {
			log.Warn().Err(err).Msg("Performance record failed")
		}
	}

	r.step(cycleID, "Market", "Fetching market context")
	mctx := r.research.MarketContext()
	r.marketContext = mctx

	positions, err := r.broker.Positions()
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve open positions; waiting for next cycle")
		r.step(cycleID, "IBKR", "Failed to retrieve open positions; waiting for next cycle")
		r.emitCycle(&events.CycleData{
			CycleID: cycleID,
			Status:  "failed",
			Error:   truncate(err.Error(), 200),
		})
		return interval
	}
	holding := make(map[string]bool, len(positions))
	held := 0
	for _, p := range positions {
		if p.Quantity != 0 {
			holding[strings.ToUpper(p.Symbol)] = true
			held++
		}
	}
	if r.portfolio != nil {
		if err := r.portfolio.SnapshotPortfolio(); err != nil {
			log.Warn().Err(err).Msg("Portfolio snapshot failed")
		}
	}

	currencies := candidateCurrencies(cands)
	budgets := r.risk.Budgets(values, currencies, cfg.Trading)
	remaining := make(map[string]float64, len(budgets))
	for _, cur := range currencies {
		b := budgets[cur]
		remaining[cur] = b.Amount
		ev := log.Info().Str("currency", cur).Float64("available", b.Available).Float64("budget", b.Amount)
		if b.Reason != "" {
			ev = ev.Str("reason", b.Reason)
		}
		ev.Msg("Cycle budget")
	}

	signals := r.redditSignals(ctx, log, cfg, cands, now)

	cc := &research.CycleContext{
		Now:             now,
		Config:          cfg,
		Holding:         holding,
		BudgetRemaining: remaining,
		MarketContext:   mctx,
		Reddit:          signals,
	}
	researched := make([]domain.Candidate, 0, len(cands))
	for i, cand := range cands {
		if r.stopping() {
			return 0
		}
		r.step(cycleID, cand.Symbol, fmt.Sprintf("Initiating analysis (%d/%d)", i+1, len(cands)))
		researched = append(researched, r.research.Research(ctx, cand, cc))
	}

	eligible := make([]*domain.Candidate, 0, len(researched))
	for i := range researched {
		if researched[i].Eligible() {
			eligible = append(eligible, &researched[i])
		}
	}
	ranked := research.Rank(eligible)
	for _, c := range ranked {
		if err := r.researchRepo.UpdateDecision(c.ResearchID, domain.DecisionShortlisted, c.DecisionReason, c.Rank); err != nil {
			log.Warn().Err(err).Str("symbol", c.Symbol).Msg("Failed to persist rank")
		}
	}

	buys, err := r.selectAndExecute(ctx, log, cycleID, cfg, ranked, budgets, remaining, mctx, held, netLiq, haveEquity)
	if err != nil {
		log.Error().Err(err).Msg("Buy selection failed")
		r.emitCycle(&events.CycleData{
			CycleID:    cycleID,
			Status:     "failed",
			Candidates: len(researched),
			Error:      fmt.Sprintf("Buy selection AI failed: %s", truncate(err.Error(), 200)),
		})
		return interval
	}
	r.topCandidates = research.TopCandidates(ranked, topCandidateKeep)

	elapsed := time.Since(started)
	r.emitCycle(&events.CycleData{
		CycleID:    cycleID,
		Status:     "completed",
		Candidates: len(researched),
		Buys:       buys,
		Duration:   elapsed.Seconds(),
	})
	log.Info().
		Int("candidates", len(researched)).
		Int("buys", buys).
		Float64("duration_s", elapsed.Seconds()).
		Msg("Cycle complete")

	if elapsed >= interval {
		log.Warn().Float64("overrun_minutes", (elapsed - interval).Minutes()).Msg("Cycle overran interval; starting next immediately")
		r.step(cycleID, "Cycle", fmt.Sprintf("Overran (%.1fmin); restarting", elapsed.Minutes()))
		return 0
	}
	wait := interval - elapsed
	r.step(cycleID, "Idle", fmt.Sprintf("Next cycle in %.1fmin", wait.Minutes()))
	return wait
}

// applyAISettings pushes the effective model and prompt overrides to the
// decision client, so overlay edits take effect on the next decision call.
func (r *Runner) applyAISettings(cfg config.Base) {
	if r.tuner == nil {
		return
	}
	r.tuner.SetModel(cfg.AI.Model)
	r.tuner.SetPromptOverrides(llm.PromptOverrides{
		Shortlist:      cfg.AI.ShortlistSystemPrompt,
		BuySelection:   cfg.AI.BuySelectionSystemPrompt,
		PositionReview: cfg.AI.PositionReviewSystemPrompt,
		OrderReview:    cfg.AI.OrderReviewSystemPrompt,
	})
}

// safetyNet clears exposure no long-only strategy should ever carry:
// orphaned SELL orders whose position is gone, and short positions left by
// over-filled exits. Runs before anything else so a bad prior cycle cannot
// compound.
func (r *Runner) safetyNet(log zerolog.Logger) {
	if n, err := r.executor.CancelOrphanedSellOrders(); err != nil {
		log.Warn().Err(err).Msg("Orphaned order check failed")
	} else if n > 0 {
		log.Info().Int("cancelled", n).Msg("Cancelled orphaned SELL orders")
	}
	if n, err := r.executor.CloseShortPositions(); err != nil {
		log.Warn().Err(err).Msg("Short position check failed")
	} else if n > 0 {
		log.Warn().Int("closed", n).Msg("Closed short positions")
	}
}

// maybeReview runs the position and order review passes when the configured
// interval has elapsed. Positions go first so capital freed by an exit is
// visible to the order pass.
func (r *Runner) maybeReview(ctx context.Context, cfg config.Base, now time.Time) {
	interval := time.Duration(cfg.PositionManagement.ReviewIntervalSeconds) * time.Second
	if !r.lastReview.IsZero() && now.Sub(r.lastReview) < interval {
		return
	}
	r.lastReview = now

	rc := &review.ReviewContext{
		Now:           now,
		Config:        cfg,
		TopCandidates: reviewCandidates(r.topCandidates),
		MarketContext: r.marketContext,
	}
	r.review.ReviewPositions(ctx, rc)
	r.review.ReviewOrders(ctx, rc)
}

// augmentFromReddit adds the most-mentioned Reddit symbols to the scanner
// universe when the screener is configured to include them.
func (r *Runner) augmentFromReddit(log zerolog.Logger, cfg config.Base, cands []domain.Candidate, now time.Time) []domain.Candidate {
	if r.sentiment == nil || !cfg.Reddit.Enabled {
		return cands
	}
	if _, err := r.sentiment.RefreshIfDue(cfg.Reddit, now); err != nil {
		log.Warn().Err(err).Msg("Reddit refresh failed")
	}
	if !cfg.Trading.Screener.IncludeRedditSymbols {
		return cands
	}
	symbols, err := r.sentiment.TopSymbols(redditUniverseLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Reddit universe unavailable")
		return cands
	}
	if len(symbols) == 0 {
		return cands
	}
	return r.screener.Augment(cands, symbols, cfg.Trading)
}

// redditSignals scores any stale cached posts for the cycle's symbols, then
// returns the latest per-symbol sentiment keyed by upper-cased symbol.
func (r *Runner) redditSignals(ctx context.Context, log zerolog.Logger, cfg config.Base, cands []domain.Candidate, now time.Time) map[string]research.RedditSignal {
	if r.sentiment == nil || !cfg.Reddit.Enabled {
		return nil
	}
	symbols := make([]string, 0, len(cands))
	for _, c := range cands {
		symbols = append(symbols, c.Symbol)
	}
	if scored, err := r.sentiment.AnalyseIfDue(ctx, symbols, cfg.Reddit, now); err != nil {
		log.Warn().Err(err).Msg("Reddit analysis failed")
	} else if scored > 0 {
		log.Info().Int("scored", scored).Msg("Reddit sentiment refreshed")
	}
	rows, err := r.sentiment.Latest()
	if err != nil {
		log.Warn().Err(err).Msg("Reddit sentiment unavailable")
		return nil
	}
	signals := make(map[string]research.RedditSignal, len(rows))
	for _, row := range rows {
		signals[strings.ToUpper(row.Symbol)] = research.RedditSignal{
			Mentions:   row.Mentions,
			Sentiment:  row.Sentiment,
			Confidence: row.Confidence,
		}
	}
	return signals
}

// selectAndExecute asks the decision service which shortlisted candidates to
// buy and executes the picks in the returned order, one at a time, against
// the shared budgets. When position capacity is exhausted the selection call
// is skipped entirely; the shortlist keeps its ranks for the next cycle.
func (r *Runner) selectAndExecute(ctx context.Context, log zerolog.Logger, cycleID string, cfg config.Base, ranked []*domain.Candidate, budgets map[string]risk.Budget, remaining map[string]float64, mctx map[string]interface{}, held int, netLiq float64, haveEquity bool) (int, error) {
	if len(ranked) == 0 {
		log.Info().Msg("No shortlisted candidates this cycle")
		return 0, nil
	}

	maxNew := cfg.Trading.MaxNewPositionsPerCycle
	if capacity := cfg.Trading.MaxPositions - held; capacity < maxNew {
		maxNew = capacity
	}
	if maxNew <= 0 {
		log.Info().Int("held", held).Int("max_positions", cfg.Trading.MaxPositions).Msg("No capacity for new positions this cycle")
		return 0, nil
	}

	shortlist := make([]llm.ShortlistedCandidate, 0, len(ranked))
	bySymbol := make(map[string]*domain.Candidate, len(ranked))
	for _, c := range ranked {
		bySymbol[strings.ToUpper(c.Symbol)] = c
		shortlist = append(shortlist, llm.ShortlistedCandidate{
			Symbol:     c.Symbol,
			Currency:   c.Currency,
			Price:      c.Price,
			Score:      deref(c.Score),
			Confidence: deref(c.Confidence),
			Sentiment:  deref(c.Sentiment),
			Rationale:  c.Rationale,
			KeyFactors: c.KeyFactors,
			KeyRisks:   c.KeyRisks,
		})
	}

	selection, err := r.selector.SelectBuys(ctx, shortlist, maxNew, remaining, mctx)
	if err != nil {
		return 0, err
	}

	selected := make(map[string]bool, len(selection.SelectedSymbols))
	for _, s := range selection.SelectedSymbols {
		selected[strings.ToUpper(s)] = true
	}
	for _, c := range ranked {
		if !selected[strings.ToUpper(c.Symbol)] {
			r.updateDecision(log, c, domain.DecisionShortlisted, "Shortlisted; not selected this cycle")
		}
	}

	buys := 0
	for _, sym := range selection.SelectedSymbols {
		if buys >= maxNew {
			break
		}
		cand, ok := bySymbol[strings.ToUpper(sym)]
		if !ok {
			log.Warn().Str("symbol", sym).Msg("Selection named a symbol outside the shortlist")
			continue
		}
		if r.executeBuy(log, cycleID, cfg, cand, budgets, remaining, netLiq, haveEquity) {
			buys++
		}
	}
	return buys, nil
}

// executeBuy sizes and submits one bracket order. The budget is only
// committed after the broker accepts the order; any earlier exit leaves the
// stored budget untouched. Returns true when an order was placed.
func (r *Runner) executeBuy(log zerolog.Logger, cycleID string, cfg config.Base, cand *domain.Candidate, budgets map[string]risk.Budget, remaining map[string]float64, netLiq float64, haveEquity bool) bool {
	leave := func(reason string) {
		log.Warn().Str("symbol", cand.Symbol).Msg(reason)
		r.updateDecision(log, cand, domain.DecisionShortlisted, reason)
	}

	if cand.Signals.ATR14 == nil || *cand.Signals.ATR14 <= 0 {
		leave("Selected by AI but ATR missing; cannot set stop-loss")
		return false
	}
	stop, takeProfit, err := risk.ProtectiveLevels(cand.Price, *cand.Signals.ATR14, cfg.Intraday.StopATRMultiplier, cfg.Intraday.TakeProfitR)
	if err != nil {
		leave("Selected by AI but stop-loss would be <= 0; skipping")
		return false
	}
	if !haveEquity {
		leave("Selected by AI but net liquidation not available; cannot size position")
		return false
	}

	cur := strings.ToUpper(cand.Currency)
	budget := budgets[cur]
	qty, err := risk.PositionSize(netLiq, cfg.Trading.RiskPerTrade, cand.Price, stop, budget.Amount)
	if err != nil || qty <= 0 {
		leave(fmt.Sprintf("Selected by AI but insufficient %s budget for position sizing", cur))
		return false
	}
	if !budget.Spend(float64(qty) * cand.Price) {
		leave(fmt.Sprintf("Selected by AI but insufficient %s budget for position sizing", cur))
		return false
	}

	rank := 0
	if cand.Rank != nil {
		rank = *cand.Rank
	}
	r.step(cycleID, cand.Symbol, fmt.Sprintf("Placing order (rank %d)", rank))

	result, err := r.executor.ExecuteBuy(trading.BracketRequest{
		Contract: domain.Contract{
			ConID:    cand.ConID,
			Symbol:   cand.Symbol,
			Exchange: cand.Exchange,
			Currency: cand.Currency,
		},
		Quantity:   int(qty),
		StopLoss:   stop,
		TakeProfit: takeProfit,
	})
	if err != nil {
		leave("Selected by AI but order placement failed")
		return false
	}

	budgets[cur] = budget
	remaining[cur] = budget.Amount

	status := result.Status
	if status == "" {
		status = "Submitted"
	}
	trade := &trading.Trade{
		Symbol:         cand.Symbol,
		Action:         string(domain.SideBuy),
		Quantity:       float64(qty),
		Price:          cand.Price,
		StopLoss:       &result.StopLoss,
		TakeProfit:     &result.TakeProfit,
		SentimentScore: cand.Sentiment,
		Status:         status,
		Rationale:      cand.DecisionReason,
	}
	if _, err := r.trades.Insert(trade); err != nil {
		log.Error().Err(err).Str("symbol", cand.Symbol).Msg("Order placed but trade record failed")
	}
	if r.bus != nil {
		r.bus.Emit("cycle", &events.TradeExecutedData{
			Symbol:     cand.Symbol,
			Side:       string(domain.SideBuy),
			Quantity:   float64(qty),
			Price:      cand.Price,
			StopLoss:   &result.StopLoss,
			TakeProfit: &result.TakeProfit,
			OrderID:    strconv.FormatInt(result.ParentOrderID, 10),
		})
	}
	r.updateDecision(log, cand, domain.DecisionTrade, fmt.Sprintf("Order placed (%s)", status))
	log.Info().
		Str("symbol", cand.Symbol).
		Int64("quantity", qty).
		Float64("price", cand.Price).
		Float64("stop", result.StopLoss).
		Float64("take_profit", result.TakeProfit).
		Msg("Buy order placed")
	return true
}

// updateDecision persists a decision change and mirrors the reason onto the
// candidate so the cached shortlist carries the final outcome.
func (r *Runner) updateDecision(log zerolog.Logger, c *domain.Candidate, decision domain.CandidateDecision, reason string) {
	c.DecisionReason = reason
	if err := r.researchRepo.UpdateDecision(c.ResearchID, decision, reason, c.Rank); err != nil {
		log.Warn().Err(err).Str("symbol", c.Symbol).Msg("Failed to update research decision")
	}
}

// reviewCandidates converts the cached shortlist into the review engine's
// shape.
func reviewCandidates(top []research.TopCandidate) []review.TopCandidate {
	if len(top) == 0 {
		return nil
	}
	out := make([]review.TopCandidate, 0, len(top))
	for _, t := range top {
		out = append(out, review.TopCandidate{
			Symbol:    t.Symbol,
			Score:     t.Score,
			Rationale: t.Rationale,
			Sentiment: t.Sentiment,
		})
	}
	return out
}

func candidateCurrencies(cands []domain.Candidate) []string {
	seen := make(map[string]bool, 2)
	out := make([]string, 0, 2)
	for _, c := range cands {
		cur := strings.ToUpper(c.Currency)
		if cur == "" || seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
	}
	sort.Strings(out)
	return out
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
