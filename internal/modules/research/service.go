package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/clients/llm"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
)

// barCacheMaxAge bounds how stale a cached daily series may be before the
// service refetches from the broker.
const barCacheMaxAge = 12 * time.Hour

// News window for the decision payload
const (
	newsLookbackDays  = 7
	newsHeadlineLimit = 10
)

// Broker is the slice of the bridge the research pipeline calls per candidate
type Broker interface {
	SearchContract(symbol string) ([]domain.Contract, error)
	Quote(conID int64) (*domain.Quote, error)
	HistoricalBars(conID int64, period, barSize string, useRTH bool) ([]domain.Bar, error)
	NewsHeadlines(conID int64, lookbackDays, limit int) ([]string, error)
}

// DecisionClient is the shortlist call of the decision service
type DecisionClient interface {
	DecideCandidate(ctx context.Context, payload llm.CandidatePayload) (*llm.CandidateDecision, error)
}

// CycleContext is the per-cycle state the pipeline needs for hard gates and
// decision payloads. The cycle builds one and hands it to every Research
// call of that iteration.
type CycleContext struct {
	Now             time.Time
	Config          config.Base
	Holding         map[string]bool
	BudgetRemaining map[string]float64
	MarketContext   map[string]interface{}
	Reddit          map[string]RedditSignal
}

// Service runs the per-candidate research pipeline: bars, indicators,
// headlines, the shortlist decision, hard gates, and exactly one persisted
// research record per candidate no matter how the pipeline ends.
type Service struct {
	broker   Broker
	decider  DecisionClient
	analyser *Analyser
	repo     *Repository
	bars     *BarStore // optional daily-bar cache
	hours    *market_hours.Service
	bus      *events.Bus
	log      zerolog.Logger
}

// ServiceConfig holds research service construction options. BarStore and
// Bus may be nil.
type ServiceConfig struct {
	Broker   Broker
	Decider  DecisionClient
	Analyser *Analyser
	Repo     *Repository
	BarStore *BarStore
	Hours    *market_hours.Service
	Bus      *events.Bus
	Log      zerolog.Logger
}

// NewService creates the research service
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		broker:   cfg.Broker,
		decider:  cfg.Decider,
		analyser: cfg.Analyser,
		repo:     cfg.Repo,
		bars:     cfg.BarStore,
		hours:    cfg.Hours,
		bus:      cfg.Bus,
		log:      cfg.Log.With().Str("service", "research").Logger(),
	}
}

// Research runs the pipeline for one candidate and persists its research
// record. The heavy work runs on a worker goroutine; the caller waits at
// most the configured per-symbol timeout. A timed-out worker is abandoned
// (the buffered result channel means it never leaks) and its late completion
// is logged when it eventually finishes.
//
// Whatever happens, exactly one record is written: timeout, broker failure
// and decision-service failure all produce a REJECTED row whose reason names
// the failure.
func (s *Service) Research(ctx context.Context, cand domain.Candidate, cc *CycleContext) domain.Candidate {
	cand.Symbol = strings.ToUpper(strings.TrimSpace(cand.Symbol))
	cand.Decision = domain.DecisionRejected
	cand.DecisionReason = "Uninitialised"

	timeout := time.Duration(cc.Config.Intraday.ResearchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	workCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		cand domain.Candidate
		err  error
	}
	resultCh := make(chan outcome, 1)
	started := time.Now()

	go func() {
		c, err := s.analyse(workCtx, cand, cc)
		resultCh <- outcome{cand: c, err: err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			cand.Decision = domain.DecisionRejected
			cand.DecisionReason = failureReason(out.err)
			s.log.Error().Err(out.err).Str("symbol", cand.Symbol).Msg("Research failed")
		} else {
			cand = out.cand
		}
	case <-workCtx.Done():
		cand.Decision = domain.DecisionRejected
		cand.DecisionReason = fmt.Sprintf("Symbol processing timed out after %ds", int(timeout.Seconds()))
		s.log.Warn().Str("symbol", cand.Symbol).Dur("timeout", timeout).
			Msg("Symbol research timed out, abandoning worker")

		symbol := cand.Symbol
		go func() {
			out := <-resultCh
			s.log.Warn().Str("symbol", symbol).Dur("took", time.Since(started)).Err(out.err).
				Msg("Abandoned research worker finished late, result discarded")
		}()
	}

	s.persist(&cand, cc)
	return cand
}

// analyse is the worker-side pipeline. It returns the enriched candidate;
// rejections that are decisions (no data, SKIP verdict, hard gates) are not
// errors, only infrastructure failures are.
func (s *Service) analyse(ctx context.Context, cand domain.Candidate, cc *CycleContext) (domain.Candidate, error) {
	if cand.ConID == 0 {
		contracts, err := s.broker.SearchContract(cand.Symbol)
		if err != nil {
			return cand, fmt.Errorf("contract search failed: %w", err)
		}
		if len(contracts) == 0 {
			cand.DecisionReason = "No tradable contract found"
			return cand, nil
		}
		cand.ConID = contracts[0].ConID
	}

	bars, err := s.fetchBars(cand, cc.Config.Intraday)
	if err != nil {
		return cand, err
	}
	if len(bars) == 0 {
		cand.DecisionReason = "No market data"
		return cand, nil
	}

	set := s.analyser.Indicators(bars)
	momentum := s.analyser.Momentum(bars)
	cand.Signals = set.Signals()
	cand.Price = set.Close

	fundamentals := s.fundamentals(cand)

	headlines, err := s.broker.NewsHeadlines(cand.ConID, newsLookbackDays, newsHeadlineLimit)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", cand.Symbol).Msg("Broker headlines unavailable")
		headlines = nil
	}

	reddit, hasReddit := redditPayload(cc.Reddit, cand.Symbol)

	price := cand.Price
	payload := llm.CandidatePayload{
		Symbol:        cand.Symbol,
		Exchange:      cand.Exchange,
		Currency:      cand.Currency,
		Price:         &price,
		Indicators:    set.IndicatorPayload(),
		NewsHeadlines: headlines,
		Reddit:        reddit,
		Intraday:      intradayPayload(cc.Config.Intraday),
		Fundamentals:  fundamentals,
		BarMomentum:   momentum.Payload(),
		MarketContext: cc.MarketContext,
	}

	verdict, err := s.decider.DecideCandidate(ctx, payload)
	if err != nil {
		return cand, err
	}

	cand.Score = &verdict.Score
	cand.Sentiment = &verdict.Sentiment
	cand.Confidence = &verdict.Confidence
	cand.Rationale = verdict.Rationale
	cand.KeyFactors = verdict.KeyFactors
	cand.KeyRisks = verdict.KeyRisks

	label := aiLabel(headlines, hasReddit, fundamentals)
	if verdict.Decision == "SHORTLIST" {
		cand.Decision = domain.DecisionShortlisted
		cand.DecisionReason = fmt.Sprintf("%s: SHORTLIST (conf %.2f) - %s", label, verdict.Confidence, verdict.Rationale)
	} else {
		cand.Decision = domain.DecisionRejected
		cand.DecisionReason = fmt.Sprintf("%s: SKIP (conf %.2f) - %s", label, verdict.Confidence, verdict.Rationale)
	}

	s.applyGates(&cand, cc)
	return cand, nil
}

// applyGates rejects a shortlisted candidate that cannot be traded right
// now: closed or about-to-close market, an existing position, or a spent
// currency budget.
func (s *Service) applyGates(cand *domain.Candidate, cc *CycleContext) {
	if cand.Decision != domain.DecisionShortlisted {
		return
	}

	market := market_hours.MarketFor(cand.Exchange, cand.Currency)
	intraday := cc.Config.Intraday

	switch {
	case !s.hours.IsOpen(market, cc.Now):
		cand.Decision = domain.DecisionRejected
		cand.DecisionReason = "Market closed: " + cand.DecisionReason
	case intraday.Enabled && s.hours.IsNearClose(market, intraday.FlattenMinutesBeforeClose, cc.Now):
		cand.Decision = domain.DecisionRejected
		cand.DecisionReason = "Too close to market close (no new entries)"
	case cc.Holding[cand.Symbol]:
		cand.Decision = domain.DecisionRejected
		cand.DecisionReason = "Already holding a position"
	case cc.BudgetRemaining[cand.Currency] <= 0:
		cand.Decision = domain.DecisionRejected
		cand.DecisionReason = fmt.Sprintf("No available cash budget for %s", cand.Currency)
	}
}

// fetchBars returns the candidate's bar series. Intraday research always
// fetches fresh bars; daily research reads through the bar cache and
// refreshes it on a miss.
func (s *Service) fetchBars(cand domain.Candidate, intraday config.IntradayConfig) ([]domain.Bar, error) {
	if intraday.Enabled {
		return s.broker.HistoricalBars(cand.ConID, intraday.Duration, intraday.BarSize, intraday.UseRTH)
	}

	if s.bars != nil {
		cached, err := s.bars.GetDailyBars(cand.Symbol, barCacheMaxAge)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", cand.Symbol).Msg("Bar cache read failed")
		} else if len(cached) >= minIndicatorBars {
			return cached, nil
		}
	}

	bars, err := s.broker.HistoricalBars(cand.ConID, "1 Y", "1 day", true)
	if err != nil {
		return nil, err
	}
	if s.bars != nil && len(bars) > 0 {
		if err := s.bars.PutDailyBars(cand.Symbol, bars); err != nil {
			s.log.Warn().Err(err).Str("symbol", cand.Symbol).Msg("Bar cache write failed")
		}
	}
	return bars, nil
}

// fundamentals derives a best-effort liquidity snapshot from a live quote.
// Nil when no quote is available; the decision payload sends null.
func (s *Service) fundamentals(cand domain.Candidate) map[string]interface{} {
	quote, err := s.broker.Quote(cand.ConID)
	if err != nil || quote == nil {
		return nil
	}

	out := map[string]interface{}{}
	if quote.Last > 0 {
		out["last"] = quote.Last
	}
	if quote.Bid > 0 {
		out["bid"] = quote.Bid
	}
	if quote.Ask > 0 {
		out["ask"] = quote.Ask
	}
	if quote.Bid > 0 && quote.Ask > 0 {
		out["spread_pct"] = math.Round((quote.Ask-quote.Bid)/quote.Bid*100*1000) / 1000
	}
	if quote.Delayed {
		out["delayed"] = true
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// persist writes the candidate's research record and publishes the decision
func (s *Service) persist(cand *domain.Candidate, cc *CycleContext) {
	rec := &Record{
		Symbol:          cand.Symbol,
		Exchange:        cand.Exchange,
		Currency:        cand.Currency,
		Price:           positiveOrNil(cand.Price),
		RSI:             cand.Signals.RSI14,
		VolatilityRatio: cand.Signals.VolatilityRatio,
		SentimentScore:  cand.Sentiment,
		AIReasoning:     reasoningJSON(cand),
		Score:           cand.Score,
		Decision:        string(cand.Decision),
		Reason:          cand.DecisionReason,
	}
	if sig, ok := cc.Reddit[cand.Symbol]; ok {
		mentions := sig.Mentions
		sentiment := sig.Sentiment
		rec.RedditMentions = &mentions
		rec.RedditSentiment = &sentiment
	}

	id, err := s.repo.Insert(rec)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", cand.Symbol).Msg("Failed to persist research record")
	} else {
		cand.ResearchID = id
	}

	s.log.Info().Str("symbol", cand.Symbol).Str("decision", string(cand.Decision)).
		Str("reason", cand.DecisionReason).Msg("Research decision")
	if s.bus != nil {
		s.bus.Emit("research", &events.ResearchData{
			Symbol:   cand.Symbol,
			Decision: string(cand.Decision),
			Reason:   cand.DecisionReason,
			Score:    cand.Score,
		})
	}
}

// MarketContext fetches broad-market context (SPY and QQQ daily change) for
// decision payloads. Best-effort: a failed leg is simply absent, and a fully
// failed fetch returns nil.
func (s *Service) MarketContext() map[string]interface{} {
	spyPrice, spyChange := s.indexChange("SPY")
	qqqPrice, qqqChange := s.indexChange("QQQ")
	if spyPrice == nil && qqqPrice == nil {
		return nil
	}

	sentiment := "neutral"
	if spyChange != nil {
		if *spyChange > 0.3 {
			sentiment = "bullish"
		} else if *spyChange < -0.3 {
			sentiment = "bearish"
		}
	}

	return map[string]interface{}{
		"spy_price":        floatOrNil(spyPrice),
		"spy_change_pct":   floatOrNil(spyChange),
		"qqq_price":        floatOrNil(qqqPrice),
		"qqq_change_pct":   floatOrNil(qqqChange),
		"market_sentiment": sentiment,
	}
}

// indexChange returns an index ETF's last close and day-over-day change in
// percent, from its latest two daily bars.
func (s *Service) indexChange(symbol string) (*float64, *float64) {
	contracts, err := s.broker.SearchContract(symbol)
	if err != nil || len(contracts) == 0 {
		return nil, nil
	}
	bars, err := s.broker.HistoricalBars(contracts[0].ConID, "5 D", "1 day", true)
	if err != nil || len(bars) < 2 {
		return nil, nil
	}

	last := bars[len(bars)-1].Close
	prev := bars[len(bars)-2].Close
	if last <= 0 || prev <= 0 {
		return nil, nil
	}
	change := math.Round((last-prev)/prev*100*100) / 100
	return &last, &change
}

// failureReason renders an infrastructure failure the way the dashboard
// shows it, naming the failure class.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ibkr.ErrTimeout):
		return fmt.Sprintf("Timeout during analysis: %v", err)
	case errors.Is(err, ibkr.ErrNotConnected), errors.Is(err, ibkr.ErrClosed):
		return fmt.Sprintf("Connection error: %v", err)
	default:
		return fmt.Sprintf("Error during analysis: %v", err)
	}
}

// aiLabel names the data sources that informed a decision, e.g.
// "AI (News+Reddit+Technicals)".
func aiLabel(headlines []string, hasReddit bool, fundamentals map[string]interface{}) string {
	sources := make([]string, 0, 4)
	if len(headlines) > 0 {
		sources = append(sources, "News")
	}
	if hasReddit {
		sources = append(sources, "Reddit")
	}
	if len(fundamentals) > 0 {
		sources = append(sources, "Fundamentals")
	}
	sources = append(sources, "Technicals")
	return "AI (" + strings.Join(sources, "+") + ")"
}

func redditPayload(signals map[string]RedditSignal, symbol string) (map[string]interface{}, bool) {
	sig, ok := signals[symbol]
	if !ok {
		return nil, false
	}
	return map[string]interface{}{
		"mentions":   sig.Mentions,
		"sentiment":  sig.Sentiment,
		"confidence": sig.Confidence,
	}, true
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

// reasoningJSON serialises the decision-service output stored with the
// record. Empty when no verdict was reached.
func reasoningJSON(c *domain.Candidate) string {
	if c.Rationale == "" && c.Score == nil {
		return ""
	}
	raw, err := json.Marshal(map[string]interface{}{
		"rationale":   c.Rationale,
		"key_factors": c.KeyFactors,
		"key_risks":   c.KeyRisks,
		"score":       c.Score,
		"sentiment":   c.Sentiment,
		"confidence":  c.Confidence,
	})
	if err != nil {
		return ""
	}
	return string(raw)
}

func positiveOrNil(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
