package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Base is the base trading configuration document (config.yaml). The runtime
// overlay patches a copy of this struct at the top of every cycle; nothing
// mutates the loaded Base itself.
type Base struct {
	Trading            TradingConfig            `yaml:"trading"`
	AI                 AIConfig                 `yaml:"ai"`
	Intraday           IntradayConfig           `yaml:"intraday"`
	PositionManagement PositionManagementConfig `yaml:"position_management"`
	Reddit             RedditConfig             `yaml:"reddit"`
}

// TradingConfig holds risk limits and screener settings
type TradingConfig struct {
	MaxCashUtilisation       float64            `yaml:"max_cash_utilisation"`
	RiskPerTrade             float64            `yaml:"risk_per_trade"`
	MaxPositions             int                `yaml:"max_positions"`
	MaxNewPositionsPerCycle  int                `yaml:"max_new_positions_per_cycle"`
	CashBudgetTag            string             `yaml:"cash_budget_tag"`
	Markets                  []string           `yaml:"markets"`
	MinCashReserveByCurrency map[string]float64 `yaml:"min_cash_reserve_by_currency"`
	MaxSharePrice            float64            `yaml:"max_share_price"`
	MinSharePrice            float64            `yaml:"min_share_price"`
	MinAvgVolume             int64              `yaml:"min_avg_volume"`
	ExcludeMicrocap          bool               `yaml:"exclude_microcap"`
	VolatilityThreshold      float64            `yaml:"volatility_threshold"`
	Screener                 ScreenerConfig     `yaml:"screener"`
}

// ScreenerConfig holds candidate-universe settings
type ScreenerConfig struct {
	MaxCandidates        int      `yaml:"max_candidates"`
	ScanCodes            []string `yaml:"scan_codes"`
	IncludeRedditSymbols bool     `yaml:"include_reddit_symbols"`
	IncludeSymbols       []string `yaml:"include_symbols"`
	ExcludeSymbols       []string `yaml:"exclude_symbols"`
}

// AIConfig holds decision-service prompt and model settings
type AIConfig struct {
	Model                      string  `yaml:"model"`
	SentimentThreshold         float64 `yaml:"sentiment_threshold"`
	ShortlistSystemPrompt      string  `yaml:"shortlist_system_prompt"`
	BuySelectionSystemPrompt   string  `yaml:"buy_selection_system_prompt"`
	PositionReviewSystemPrompt string  `yaml:"position_review_system_prompt"`
	OrderReviewSystemPrompt    string  `yaml:"order_review_system_prompt"`
}

// IntradayConfig holds cycle pacing and exit-level settings
type IntradayConfig struct {
	Enabled                    bool    `yaml:"enabled"`
	BarSize                    string  `yaml:"bar_size"`
	Duration                   string  `yaml:"duration"`
	UseRTH                     bool    `yaml:"use_rth"`
	CycleIntervalSeconds       int     `yaml:"cycle_interval_seconds"`
	CycleIntervalSecondsClosed int     `yaml:"cycle_interval_seconds_closed"`
	StopATRMultiplier          float64 `yaml:"stop_atr_multiplier"`
	TakeProfitR                float64 `yaml:"take_profit_r"`
	FlattenMinutesBeforeClose  int     `yaml:"flatten_minutes_before_close"`
	ResearchTimeoutSeconds     int     `yaml:"research_timeout_seconds"`
}

// PositionManagementConfig holds review-engine settings
type PositionManagementConfig struct {
	ReviewIntervalSeconds     int  `yaml:"review_interval_seconds"`
	MaxAdjustmentsPerPosition int  `yaml:"max_adjustments_per_position"`
	OpportunityRotation       bool `yaml:"opportunity_rotation_enabled"`
}

// RedditConfig holds sentiment-source settings
type RedditConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	FetchIntervalSeconds    int      `yaml:"fetch_interval_seconds"`
	AnalysisIntervalSeconds int      `yaml:"analysis_interval_seconds"`
	UserAgent               string   `yaml:"user_agent"`
	Subreddits              []string `yaml:"subreddits"`
	Listing                 string   `yaml:"listing"`
	LimitPerSubreddit       int      `yaml:"limit_per_subreddit"`
	MaxPostsPerSymbol       int      `yaml:"max_posts_per_symbol"`
	ScoreWeight             float64  `yaml:"score_weight"`
}

// DefaultBase returns the built-in defaults. Values present in config.yaml
// replace these on load.
func DefaultBase() Base {
	return Base{
		Trading: TradingConfig{
			MaxCashUtilisation:       0.5,
			RiskPerTrade:             0.01,
			MaxPositions:             5,
			MaxNewPositionsPerCycle:  2,
			CashBudgetTag:            "TotalCashValue",
			Markets:                  []string{"US"},
			MinCashReserveByCurrency: map[string]float64{},
			MaxSharePrice:            20,
			MinSharePrice:            2,
			MinAvgVolume:             500000,
			ExcludeMicrocap:          true,
			VolatilityThreshold:      0.04,
			Screener: ScreenerConfig{
				MaxCandidates: 250,
				ScanCodes:     []string{"MOST_ACTIVE", "TOP_PERC_GAIN", "HOT_BY_VOLUME", "HIGH_VS_13W_HI"},
			},
		},
		AI: AIConfig{
			SentimentThreshold: 0.5,
		},
		Intraday: IntradayConfig{
			BarSize:                    "5 mins",
			Duration:                   "2 D",
			UseRTH:                     true,
			CycleIntervalSeconds:       3600,
			CycleIntervalSecondsClosed: 1800,
			StopATRMultiplier:          2.0,
			TakeProfitR:                1.0,
			FlattenMinutesBeforeClose:  10,
			ResearchTimeoutSeconds:     45,
		},
		PositionManagement: PositionManagementConfig{
			ReviewIntervalSeconds:     60,
			MaxAdjustmentsPerPosition: 3,
			OpportunityRotation:       true,
		},
		Reddit: RedditConfig{
			FetchIntervalSeconds:    3600,
			AnalysisIntervalSeconds: 3600,
			UserAgent:               "helmsman/1.0",
			Listing:                 "new",
			LimitPerSubreddit:       50,
			MaxPostsPerSymbol:       8,
			ScoreWeight:             0.35,
		},
	}
}

// LoadBase reads and validates the base document from path. The file is
// required: trading without an explicit base configuration is not supported.
func LoadBase(path string) (Base, error) {
	base := DefaultBase()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Base{}, fmt.Errorf("failed to read base config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return Base{}, fmt.Errorf("failed to parse base config %s: %w", path, err)
	}

	if err := base.Validate(); err != nil {
		return Base{}, fmt.Errorf("invalid base config %s: %w", path, err)
	}
	return base, nil
}

// Validate checks structural requirements of the document. Overlay validation
// covers patched values separately; this guards the file itself.
func (b *Base) Validate() error {
	if len(b.Trading.Markets) == 0 {
		return fmt.Errorf("trading.markets must not be empty")
	}
	for _, m := range b.Trading.Markets {
		if m != "US" && m != "UK" {
			return fmt.Errorf("trading.markets contains unknown market %q", m)
		}
	}
	if b.Trading.RiskPerTrade <= 0 || b.Trading.RiskPerTrade > 1 {
		return fmt.Errorf("trading.risk_per_trade must be in (0, 1], got %v", b.Trading.RiskPerTrade)
	}
	if b.Trading.MaxCashUtilisation < 0 || b.Trading.MaxCashUtilisation > 1 {
		return fmt.Errorf("trading.max_cash_utilisation must be in [0, 1], got %v", b.Trading.MaxCashUtilisation)
	}
	if b.Trading.MaxPositions < 0 {
		return fmt.Errorf("trading.max_positions must not be negative, got %d", b.Trading.MaxPositions)
	}
	if b.Trading.CashBudgetTag == "" {
		return fmt.Errorf("trading.cash_budget_tag must not be empty")
	}
	if b.Intraday.CycleIntervalSeconds <= 0 {
		return fmt.Errorf("intraday.cycle_interval_seconds must be positive, got %d", b.Intraday.CycleIntervalSeconds)
	}
	if b.Intraday.ResearchTimeoutSeconds <= 0 {
		return fmt.Errorf("intraday.research_timeout_seconds must be positive, got %d", b.Intraday.ResearchTimeoutSeconds)
	}
	if b.PositionManagement.ReviewIntervalSeconds <= 0 {
		return fmt.Errorf("position_management.review_interval_seconds must be positive, got %d", b.PositionManagement.ReviewIntervalSeconds)
	}
	return nil
}

// Clone returns a deep copy. Apply operates on copies so the loaded base is
// never mutated by an overlay.
func (b Base) Clone() Base {
	out := b

	out.Trading.Markets = append([]string(nil), b.Trading.Markets...)
	out.Trading.Screener.ScanCodes = append([]string(nil), b.Trading.Screener.ScanCodes...)
	out.Trading.Screener.IncludeSymbols = append([]string(nil), b.Trading.Screener.IncludeSymbols...)
	out.Trading.Screener.ExcludeSymbols = append([]string(nil), b.Trading.Screener.ExcludeSymbols...)
	out.Reddit.Subreddits = append([]string(nil), b.Reddit.Subreddits...)

	out.Trading.MinCashReserveByCurrency = make(map[string]float64, len(b.Trading.MinCashReserveByCurrency))
	for k, v := range b.Trading.MinCashReserveByCurrency {
		out.Trading.MinCashReserveByCurrency[k] = v
	}
	return out
}
