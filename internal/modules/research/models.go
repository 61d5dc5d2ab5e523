// Package research builds the candidate universe and turns each candidate
// into a recorded trading decision: scanner screening, technical analysis,
// the shortlist call to the decision service, and the research log that lets
// the dashboard explain every cycle.
package research

import (
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// Trading classes excluded from the universe. SCM is the LSE small-cap
// segment whose instruments trigger Rule 144 restrictions.
var excludedTradingClasses = map[string]bool{"SCM": true}

// DefaultScanCodes are used when trading.screener.scan_codes is not set.
var DefaultScanCodes = []string{"MOST_ACTIVE", "TOP_PERC_GAIN", "HOT_BY_VOLUME", "HIGH_VS_13W_HI"}

// ScanCodeLabels maps IBKR scan codes to friendly names for logging and the
// dashboard. Unknown codes fall back to the code itself.
var ScanCodeLabels = map[string]string{
	"MOST_ACTIVE":    "Most Active",
	"TOP_PERC_GAIN":  "Top Gainers",
	"HOT_BY_VOLUME":  "High Volume",
	"HIGH_VS_13W_HI": "Near 13-Week High",
}

// scanLocation describes how one configured market is scanned
type scanLocation struct {
	Location string
	Exchange string
	Currency string
}

var scanLocations = map[string]scanLocation{
	"US": {Location: "STK.US.MAJOR", Exchange: "SMART", Currency: "USD"},
	"UK": {Location: "STK.LSE", Exchange: "LSE", Currency: "GBP"},
}

// Record is one research_log row: the durable trace of a candidate's pass
// through a cycle. Pointer fields stay NULL when the pipeline never got far
// enough to compute them.
type Record struct {
	ID              int64     `json:"id"`
	Symbol          string    `json:"symbol"`
	Exchange        string    `json:"exchange"`
	Currency        string    `json:"currency"`
	Price           *float64  `json:"price"`
	RSI             *float64  `json:"rsi"`
	VolatilityRatio *float64  `json:"volatility_ratio"`
	SentimentScore  *float64  `json:"sentiment_score"`
	AIReasoning     string    `json:"ai_reasoning"`
	Score           *float64  `json:"score"`
	Rank            *int      `json:"rank"`
	RedditMentions  *int      `json:"reddit_mentions"`
	RedditSentiment *float64  `json:"reddit_sentiment"`
	Decision        string    `json:"decision"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}

// IndicatorSet is the technical bundle computed from one bar series.
// Nil members mean the series was too short for that indicator.
type IndicatorSet struct {
	Close           float64
	RSI14           *float64
	ATR14           *float64
	VolatilityRatio *float64 // ATR / close
	BBUpper         *float64
	BBMiddle        *float64
	BBLower         *float64
	AvgVolume       *float64
}

// BarMomentum summarises the last bars for the decision service: short-window
// price momentum, volume acceleration and bar direction.
type BarMomentum struct {
	Momentum5Pct       float64 `json:"momentum_5_bars_pct"`
	Momentum10Pct      float64 `json:"momentum_10_bars_pct"`
	VolumeAcceleration float64 `json:"volume_acceleration"`
	GreenBarsLast5     int     `json:"green_bars_last_5"`
	Trend              string  `json:"trend"` // bullish, bearish or neutral
}

// RedditSignal is the cached crowd-sentiment datum attached to a candidate
type RedditSignal struct {
	Mentions   int
	Sentiment  float64
	Confidence float64
}

// TopCandidate is the compact shortlist row kept across cycles so position
// reviews can compare a holding against the current best alternatives.
type TopCandidate struct {
	Symbol    string   `json:"symbol"`
	Score     *float64 `json:"score"`
	Rationale string   `json:"rationale"`
	Sentiment *float64 `json:"sentiment"`
}

// TopCandidates extracts the compact rows for up to limit ranked candidates
func TopCandidates(ranked []*domain.Candidate, limit int) []TopCandidate {
	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]TopCandidate, 0, limit)
	for _, c := range ranked[:limit] {
		out = append(out, TopCandidate{
			Symbol:    c.Symbol,
			Score:     c.Score,
			Rationale: c.DecisionReason,
			Sentiment: c.Sentiment,
		})
	}
	return out
}
