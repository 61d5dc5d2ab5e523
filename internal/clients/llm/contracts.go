package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DecisionError marks a decision-service reply that failed contract
// validation. The offending field is always named.
type DecisionError struct {
	Call   string
	Field  string
	Detail string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("invalid %s decision: %s: %s", e.Call, e.Field, e.Detail)
}

func decisionErr(call, field, format string, args ...interface{}) error {
	return &DecisionError{Call: call, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// CandidatePayload is the research context handed to the shortlist call.
// Nested context blocks stay loosely typed; absent data is sent as null and
// the prompt tells the model to work with what is there.
type CandidatePayload struct {
	Symbol        string                 `json:"symbol"`
	Exchange      string                 `json:"exchange"`
	Currency      string                 `json:"currency"`
	Price         *float64               `json:"price"`
	Indicators    map[string]interface{} `json:"indicators"`
	NewsHeadlines []string               `json:"news_headlines"`
	Reddit        map[string]interface{} `json:"reddit"`
	Intraday      map[string]interface{} `json:"intraday"`
	Fundamentals  map[string]interface{} `json:"fundamentals"`
	BarMomentum   map[string]interface{} `json:"bar_momentum"`
	MarketContext map[string]interface{} `json:"market_context"`
}

// CandidateDecision is the validated shortlist verdict.
type CandidateDecision struct {
	Decision   string // SHORTLIST or SKIP
	Confidence float64
	Score      float64
	Sentiment  float64
	Rationale  string
	KeyFactors []string
	KeyRisks   []string
}

// DecideCandidate asks whether a scanned symbol deserves a shortlist slot.
func (c *Client) DecideCandidate(ctx context.Context, payload CandidatePayload) (*CandidateDecision, error) {
	const call = "shortlist"

	user, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidate payload: %w", err)
	}

	raw, err := c.complete(ctx, c.shortlistPrompt(), string(user), 700)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Decision   *string   `json:"decision"`
		Confidence *float64  `json:"confidence"`
		Score      *float64  `json:"score"`
		Sentiment  *float64  `json:"sentiment"`
		Rationale  *string   `json:"rationale"`
		KeyFactors *[]string `json:"key_factors"`
		KeyRisks   *[]string `json:"key_risks"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, decisionErr(call, "response", "not valid JSON: %s", truncate(raw, 200))
	}

	decision := strings.ToUpper(strings.TrimSpace(strValue(parsed.Decision)))
	if decision != "SHORTLIST" && decision != "SKIP" {
		return nil, decisionErr(call, "decision", "must be SHORTLIST or SKIP, got %q", decision)
	}
	if parsed.Confidence == nil || *parsed.Confidence < 0 || *parsed.Confidence > 1 {
		return nil, decisionErr(call, "confidence", "must be in [0, 1], got %v", floatValue(parsed.Confidence))
	}
	if parsed.Score == nil || *parsed.Score < 0 || *parsed.Score > 1 {
		return nil, decisionErr(call, "score", "must be in [0, 1], got %v", floatValue(parsed.Score))
	}
	if parsed.Sentiment == nil || *parsed.Sentiment < -1 || *parsed.Sentiment > 1 {
		return nil, decisionErr(call, "sentiment", "must be in [-1, 1], got %v", floatValue(parsed.Sentiment))
	}
	rationale := strings.TrimSpace(strValue(parsed.Rationale))
	if rationale == "" {
		return nil, decisionErr(call, "rationale", "must not be empty")
	}
	if parsed.KeyFactors == nil {
		return nil, decisionErr(call, "key_factors", "must be a list of strings")
	}
	if parsed.KeyRisks == nil {
		return nil, decisionErr(call, "key_risks", "must be a list of strings")
	}

	return &CandidateDecision{
		Decision:   decision,
		Confidence: *parsed.Confidence,
		Score:      *parsed.Score,
		Sentiment:  *parsed.Sentiment,
		Rationale:  rationale,
		KeyFactors: capStrings(*parsed.KeyFactors, 6),
		KeyRisks:   capStrings(*parsed.KeyRisks, 6),
	}, nil
}

// ShortlistedCandidate is one row of the buy-selection input.
type ShortlistedCandidate struct {
	Symbol     string   `json:"symbol"`
	Currency   string   `json:"currency"`
	Price      float64  `json:"price"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Sentiment  float64  `json:"sentiment"`
	Rationale  string   `json:"rationale"`
	KeyFactors []string `json:"key_factors,omitempty"`
	KeyRisks   []string `json:"key_risks,omitempty"`
}

// BuySelection is the validated stage-2 result: which shortlisted symbols to
// buy, in priority order.
type BuySelection struct {
	SelectedSymbols []string
	Rationale       string
}

// SelectBuys picks up to maxNew symbols out of the shortlist. Selected
// symbols are normalised, deduplicated and must all come from the shortlist;
// an unknown symbol fails the whole call.
func (c *Client) SelectBuys(ctx context.Context, candidates []ShortlistedCandidate, maxNew int, budgetRemaining map[string]float64, marketContext map[string]interface{}) (*BuySelection, error) {
	const call = "buy-selection"

	if maxNew < 0 {
		return nil, decisionErr(call, "max_new", "must be non-negative, got %d", maxNew)
	}
	if maxNew == 0 || len(candidates) == 0 {
		return &BuySelection{Rationale: "No capacity or no shortlisted candidates."}, nil
	}

	allowed := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		allowed[strings.ToUpper(cand.Symbol)] = true
	}

	payload := map[string]interface{}{
		"max_new":          maxNew,
		"budget_remaining": budgetRemaining,
		"candidates":       candidates,
		"market_context":   marketContext,
	}
	user, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal selection payload: %w", err)
	}

	raw, err := c.complete(ctx, c.buySelectionPrompt(), string(user), 700)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		SelectedSymbols *[]string `json:"selected_symbols"`
		Rationale       *string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, decisionErr(call, "response", "not valid JSON: %s", truncate(raw, 200))
	}
	if parsed.SelectedSymbols == nil {
		return nil, decisionErr(call, "selected_symbols", "must be a list of strings")
	}

	seen := make(map[string]bool)
	var selected []string
	for _, s := range *parsed.SelectedSymbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" || seen[sym] {
			continue
		}
		if !allowed[sym] {
			return nil, decisionErr(call, "selected_symbols", "unknown symbol %s", sym)
		}
		selected = append(selected, sym)
		seen[sym] = true
		if len(selected) >= maxNew {
			break
		}
	}

	rationale := strings.TrimSpace(strValue(parsed.Rationale))
	if rationale == "" {
		rationale = "Selected from shortlist."
	}
	if len(rationale) > 250 {
		rationale = rationale[:250]
	}
	return &BuySelection{SelectedSymbols: selected, Rationale: rationale}, nil
}

// PositionPayload describes an open position for review.
type PositionPayload struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`

	Position struct {
		EntryPrice          float64  `json:"entry_price"`
		CurrentPrice        float64  `json:"current_price"`
		Quantity            float64  `json:"quantity"`
		UnrealizedPnL       float64  `json:"unrealised_pnl"`
		PnLPct              float64  `json:"pnl_pct"`
		PeakPnLPct          *float64 `json:"peak_pnl_pct"`
		DrawdownFromPeakPct *float64 `json:"drawdown_from_peak_pct"`
		MinutesHeld         int      `json:"minutes_held"`
	} `json:"position"`

	Orders struct {
		CurrentStopLoss   *float64 `json:"current_stop_loss"`
		CurrentTakeProfit *float64 `json:"current_take_profit"`
		DistanceToStopPct *float64 `json:"distance_to_stop_pct"`
		DistanceToTPPct   *float64 `json:"distance_to_tp_pct"`
	} `json:"orders"`

	Indicators    map[string]interface{}   `json:"indicators"`
	BarMomentum   map[string]interface{}   `json:"bar_momentum"`
	Fundamentals  map[string]interface{}   `json:"fundamentals"`
	MarketContext map[string]interface{}   `json:"market_context"`
	NewsHeadlines []string                 `json:"news_headlines"`
	Reddit        map[string]interface{}   `json:"reddit"`
	TopCandidates []map[string]interface{} `json:"top_candidates"`
	Intraday      map[string]interface{}   `json:"intraday"`
}

// PositionReviewDecision is the validated outcome of a position review.
// NewStopLoss and NewTakeProfit are only set for their matching actions.
type PositionReviewDecision struct {
	Action        string // HOLD, SELL, ADJUST_STOP or ADJUST_TP
	NewStopLoss   *float64
	NewTakeProfit *float64
	Confidence    float64
	Urgency       float64
	Rationale     string
	KeyFactors    []string
}

// ReviewPosition asks what to do with an open position.
func (c *Client) ReviewPosition(ctx context.Context, payload PositionPayload) (*PositionReviewDecision, error) {
	const call = "position-review"

	user, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal position payload: %w", err)
	}

	raw, err := c.complete(ctx, c.positionReviewPrompt(), string(user), 600)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Action        *string   `json:"action"`
		NewStopLoss   *float64  `json:"new_stop_loss"`
		NewTakeProfit *float64  `json:"new_take_profit"`
		Confidence    *float64  `json:"confidence"`
		Urgency       *float64  `json:"urgency"`
		Rationale     *string   `json:"rationale"`
		KeyFactors    *[]string `json:"key_factors"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, decisionErr(call, "response", "not valid JSON: %s", truncate(raw, 200))
	}

	action := strings.ToUpper(strings.TrimSpace(strValue(parsed.Action)))
	switch action {
	case "HOLD", "SELL", "ADJUST_STOP", "ADJUST_TP":
	default:
		return nil, decisionErr(call, "action", "must be HOLD, SELL, ADJUST_STOP or ADJUST_TP, got %q", action)
	}
	if parsed.Confidence == nil || *parsed.Confidence < 0 || *parsed.Confidence > 1 {
		return nil, decisionErr(call, "confidence", "must be in [0, 1], got %v", floatValue(parsed.Confidence))
	}
	urgency := 0.5
	if parsed.Urgency != nil {
		urgency = *parsed.Urgency
	}
	if urgency < 0 || urgency > 1 {
		return nil, decisionErr(call, "urgency", "must be in [0, 1], got %v", urgency)
	}
	if action == "ADJUST_STOP" && parsed.NewStopLoss == nil {
		return nil, decisionErr(call, "new_stop_loss", "required for ADJUST_STOP")
	}
	if action == "ADJUST_TP" && parsed.NewTakeProfit == nil {
		return nil, decisionErr(call, "new_take_profit", "required for ADJUST_TP")
	}

	var factors []string
	if parsed.KeyFactors != nil {
		factors = capStrings(*parsed.KeyFactors, 5)
	}

	return &PositionReviewDecision{
		Action:        action,
		NewStopLoss:   parsed.NewStopLoss,
		NewTakeProfit: parsed.NewTakeProfit,
		Confidence:    *parsed.Confidence,
		Urgency:       urgency,
		Rationale:     strings.TrimSpace(strValue(parsed.Rationale)),
		KeyFactors:    factors,
	}, nil
}

// OrderPayload describes a pending order for review. Spread and distance
// percentages are derived here so the model never has to do arithmetic.
type OrderPayload struct {
	Symbol        string
	OrderID       int64
	Action        string // BUY or SELL
	OrderType     string // STP, LMT, MKT
	Quantity      float64
	OrderPrice    *float64
	CurrentPrice  *float64
	BidPrice      *float64
	AskPrice      *float64
	AgeMinutes    int
	Indicators    map[string]interface{}
	VolumeProfile map[string]interface{}
	MarketContext map[string]interface{}
}

// OrderReviewDecision is the validated outcome of an order review.
type OrderReviewDecision struct {
	Action     string // KEEP, CANCEL or ADJUST_PRICE
	NewPrice   *float64
	Confidence float64
	Rationale  string
}

// ReviewOrder asks what to do with an unfilled standalone order.
func (c *Client) ReviewOrder(ctx context.Context, payload OrderPayload) (*OrderReviewDecision, error) {
	const call = "order-review"

	var priceDistancePct *float64
	if payload.OrderPrice != nil && payload.CurrentPrice != nil && *payload.CurrentPrice > 0 {
		v := (*payload.OrderPrice - *payload.CurrentPrice) / *payload.CurrentPrice * 100
		priceDistancePct = &v
	}
	var spreadPct *float64
	if payload.BidPrice != nil && payload.AskPrice != nil && *payload.AskPrice > 0 {
		v := (*payload.AskPrice - *payload.BidPrice) / *payload.AskPrice * 100
		spreadPct = &v
	}

	body := map[string]interface{}{
		"symbol": payload.Symbol,
		"order": map[string]interface{}{
			"order_id":    payload.OrderID,
			"action":      payload.Action,
			"type":        payload.OrderType,
			"quantity":    payload.Quantity,
			"order_price": payload.OrderPrice,
			"age_minutes": payload.AgeMinutes,
		},
		"market": map[string]interface{}{
			"current_price":      payload.CurrentPrice,
			"bid":                payload.BidPrice,
			"ask":                payload.AskPrice,
			"spread_pct":         spreadPct,
			"price_distance_pct": priceDistancePct,
		},
		"indicators":     payload.Indicators,
		"volume_profile": payload.VolumeProfile,
		"market_context": payload.MarketContext,
	}
	user, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order payload: %w", err)
	}

	raw, err := c.complete(ctx, c.orderReviewPrompt(), string(user), 400)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Action     *string  `json:"action"`
		NewPrice   *float64 `json:"new_price"`
		Confidence *float64 `json:"confidence"`
		Rationale  *string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, decisionErr(call, "response", "not valid JSON: %s", truncate(raw, 200))
	}

	action := strings.ToUpper(strings.TrimSpace(strValue(parsed.Action)))
	switch action {
	case "KEEP", "CANCEL", "ADJUST_PRICE":
	default:
		return nil, decisionErr(call, "action", "must be KEEP, CANCEL or ADJUST_PRICE, got %q", action)
	}
	confidence := 0.5
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, decisionErr(call, "confidence", "must be in [0, 1], got %v", confidence)
	}
	if action == "ADJUST_PRICE" && parsed.NewPrice == nil {
		return nil, decisionErr(call, "new_price", "required for ADJUST_PRICE")
	}

	return &OrderReviewDecision{
		Action:     action,
		NewPrice:   parsed.NewPrice,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(strValue(parsed.Rationale)),
	}, nil
}

// SentimentScore is one symbol's crowd-sentiment estimate.
type SentimentScore struct {
	Sentiment  float64
	Confidence float64
	Rationale  string
}

// ScoreSentiment estimates crowd sentiment per symbol from short post
// excerpts. The reply may be a list of objects or a map keyed by symbol.
func (c *Client) ScoreSentiment(ctx context.Context, symbolPosts map[string][]string) (map[string]SentimentScore, error) {
	const call = "sentiment"

	if len(symbolPosts) == 0 {
		return nil, decisionErr(call, "posts", "no posts provided")
	}

	var b strings.Builder
	b.WriteString("You are analysing social media posts to estimate crowd sentiment towards stock symbols.\n")
	b.WriteString("For each symbol, return a JSON object with:\n")
	b.WriteString("- symbol (string)\n")
	b.WriteString("- sentiment (number from -1.0 bearish to +1.0 bullish)\n")
	b.WriteString("- confidence (number 0.0 to 1.0)\n")
	b.WriteString("- rationale (short string, <= 140 chars)\n\n")
	b.WriteString("Return ONLY valid JSON (no markdown).\n\nData:\n")
	for sym, posts := range symbolPosts {
		fmt.Fprintf(&b, "SYMBOL: %s\n", sym)
		for i, p := range posts {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		b.WriteString("\n")
	}

	raw, err := c.complete(ctx, "", b.String(), 500)
	if err != nil {
		return nil, err
	}

	type row struct {
		Symbol     string   `json:"symbol"`
		Sentiment  *float64 `json:"sentiment"`
		Confidence *float64 `json:"confidence"`
		Rationale  string   `json:"rationale"`
	}

	out := make(map[string]SentimentScore)
	add := func(sym string, r row) error {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			return nil
		}
		if r.Sentiment == nil || r.Confidence == nil {
			return decisionErr(call, sym, "sentiment and confidence are required")
		}
		out[sym] = SentimentScore{Sentiment: *r.Sentiment, Confidence: *r.Confidence, Rationale: r.Rationale}
		return nil
	}

	cleaned := extractJSON(raw)
	var asList []row
	if err := json.Unmarshal([]byte(cleaned), &asList); err == nil {
		for _, r := range asList {
			if err := add(r.Symbol, r); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	var asMap map[string]row
	if err := json.Unmarshal([]byte(cleaned), &asMap); err == nil {
		for sym, r := range asMap {
			if err := add(sym, r); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, decisionErr(call, "response", "not valid JSON: %s", truncate(raw, 200))
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatValue(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func capStrings(in []string, limit int) []string {
	if len(in) > limit {
		in = in[:limit]
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
