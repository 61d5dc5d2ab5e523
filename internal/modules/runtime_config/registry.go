package runtime_config

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/helmsman/internal/config"
)

// fieldSpec ties one override path to its range check and its typed setter.
// validate always runs first; apply may assume a validated value. A nil
// apply marks a legacy path that Normalise migrates away (accepted so old
// documents keep validating, never applied).
type fieldSpec struct {
	validate func(v interface{}) error
	apply    func(cfg *config.Base, v interface{})
}

// overrideFields is the closed allow-list of patchable paths. A path absent
// from this map fails validation with "Unsupported override key".
var overrideFields = map[string]fieldSpec{
	// Trading / risk
	"trading.max_cash_utilisation": {
		validate: fraction01("trading.max_cash_utilisation"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.MaxCashUtilisation = mustNumber(v) },
	},
	"trading.risk_per_trade": {
		validate: fraction01("trading.risk_per_trade"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.RiskPerTrade = mustNumber(v) },
	},
	"trading.max_positions": {
		validate: nonNegativeInt("trading.max_positions"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.MaxPositions = int(mustNumber(v)) },
	},
	"trading.max_new_positions_per_cycle": {
		validate: nonNegativeInt("trading.max_new_positions_per_cycle"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.MaxNewPositionsPerCycle = int(mustNumber(v)) },
	},
	"trading.cash_budget_tag": {
		validate: nonEmptyString("trading.cash_budget_tag"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.CashBudgetTag = strings.TrimSpace(v.(string)) },
	},
	"trading.markets": {
		validate: validateMarkets,
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.Markets = mustMarketList(v) },
	},
	"trading.min_cash_reserve_by_currency": {
		validate: validateReserveMap,
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.MinCashReserveByCurrency = mustReserveMap(v) },
	},
	"trading.max_share_price": {
		validate: positiveNumber("trading.max_share_price"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.MaxSharePrice = mustNumber(v) },
	},
	"trading.min_share_price": {
		validate: positiveNumber("trading.min_share_price"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.MinSharePrice = mustNumber(v) },
	},
	"trading.min_avg_volume": {
		validate: nonNegativeInt("trading.min_avg_volume"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.MinAvgVolume = int64(mustNumber(v)) },
	},
	"trading.exclude_microcap": {
		validate: boolean("trading.exclude_microcap"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.ExcludeMicrocap = v.(bool) },
	},
	"trading.volatility_threshold": {
		validate: nonNegativeNumber("trading.volatility_threshold"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.VolatilityThreshold = mustNumber(v) },
	},

	// Screener / universe selection
	"trading.screener.max_candidates": {
		validate: positiveInt("trading.screener.max_candidates"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.Screener.MaxCandidates = int(mustNumber(v)) },
	},
	"trading.screener.scan_codes": {
		validate: stringList("trading.screener.scan_codes", 20),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.Screener.ScanCodes = mustStringList(v) },
	},
	"trading.screener.include_reddit_symbols": {
		validate: boolean("trading.screener.include_reddit_symbols"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.Screener.IncludeRedditSymbols = v.(bool) },
	},
	"trading.screener.include_symbols": {
		validate: stringList("trading.screener.include_symbols", 500),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.Screener.IncludeSymbols = mustStringList(v) },
	},
	"trading.screener.exclude_symbols": {
		validate: stringList("trading.screener.exclude_symbols", 500),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Trading.Screener.ExcludeSymbols = mustStringList(v) },
	},

	// AI
	"ai.model": {
		validate: nonEmptyString("ai.model"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.AI.Model = strings.TrimSpace(v.(string)) },
	},
	"ai.shortlist_system_prompt": {
		validate: promptOverride("ai.shortlist_system_prompt"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.AI.ShortlistSystemPrompt = v.(string) },
	},
	"ai.buy_selection_system_prompt": {
		validate: promptOverride("ai.buy_selection_system_prompt"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.AI.BuySelectionSystemPrompt = v.(string) },
	},
	"ai.position_review_system_prompt": {
		validate: promptOverride("ai.position_review_system_prompt"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.AI.PositionReviewSystemPrompt = v.(string) },
	},
	"ai.order_review_system_prompt": {
		validate: promptOverride("ai.order_review_system_prompt"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.AI.OrderReviewSystemPrompt = v.(string) },
	},

	// Legacy ai keys, migrated or dropped by Normalise. Accepted so stored
	// documents from older builds still validate.
	"ai.trade_decision_system_prompt":    {validate: promptOverride("ai.trade_decision_system_prompt")},
	"ai.trade_decision_prompt_addendum":  {validate: promptOverride("ai.trade_decision_prompt_addendum")},
	"ai.buy_selection_prompt_addendum":   {validate: promptOverride("ai.buy_selection_prompt_addendum")},
	"ai.position_review_prompt_addendum": {validate: promptOverride("ai.position_review_prompt_addendum")},
	"ai.order_review_prompt_addendum":    {validate: promptOverride("ai.order_review_prompt_addendum")},
	"ai.sentiment_threshold":             {validate: fraction01("ai.sentiment_threshold")},

	// Intraday pacing
	"intraday.enabled": {
		validate: boolean("intraday.enabled"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Intraday.Enabled = v.(bool) },
	},
	"intraday.cycle_interval_seconds": {
		validate: nonNegativeInt("intraday.cycle_interval_seconds"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Intraday.CycleIntervalSeconds = int(mustNumber(v)) },
	},
	"intraday.cycle_interval_seconds_closed": {
		validate: nonNegativeInt("intraday.cycle_interval_seconds_closed"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Intraday.CycleIntervalSecondsClosed = int(mustNumber(v)) },
	},
	"intraday.flatten_minutes_before_close": {
		validate: nonNegativeInt("intraday.flatten_minutes_before_close"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Intraday.FlattenMinutesBeforeClose = int(mustNumber(v)) },
	},

	// Features
	"reddit.enabled": {
		validate: boolean("reddit.enabled"),
		apply:    func(cfg *config.Base, v interface{}) { cfg.Reddit.Enabled = v.(bool) },
	},
}

// asNumber accepts the numeric shapes JSON decoding can produce. Booleans
// are not numbers.
func asNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func mustNumber(v interface{}) float64 {
	f, _ := asNumber(v)
	return f
}

func fraction01(name string) func(interface{}) error {
	return func(v interface{}) error {
		f, ok := asNumber(v)
		if !ok {
			return fmt.Errorf("%s must be a number", name)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
		return nil
	}
}

func positiveNumber(name string) func(interface{}) error {
	return func(v interface{}) error {
		f, ok := asNumber(v)
		if !ok {
			return fmt.Errorf("%s must be a number", name)
		}
		if f <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
		return nil
	}
}

func nonNegativeNumber(name string) func(interface{}) error {
	return func(v interface{}) error {
		f, ok := asNumber(v)
		if !ok {
			return fmt.Errorf("%s must be a number", name)
		}
		if f < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
		return nil
	}
}

func nonNegativeInt(name string) func(interface{}) error {
	return func(v interface{}) error {
		f, ok := asNumber(v)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("%s must be an integer", name)
		}
		if f < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
		return nil
	}
}

func positiveInt(name string) func(interface{}) error {
	return func(v interface{}) error {
		if err := nonNegativeInt(name)(v); err != nil {
			return err
		}
		if mustNumber(v) <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
		return nil
	}
}

func boolean(name string) func(interface{}) error {
	return func(v interface{}) error {
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s must be boolean", name)
		}
		return nil
	}
}

func nonEmptyString(name string) func(interface{}) error {
	return func(v interface{}) error {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s must be a non-empty string", name)
		}
		return nil
	}
}

func promptOverride(name string) func(interface{}) error {
	return func(v interface{}) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", name)
		}
		// Oversized prompts are expensive and can break the output contract
		if len(s) > 20000 {
			return fmt.Errorf("%s is too long (max 20000 characters)", name)
		}
		return nil
	}
}

func stringList(name string, maxItems int) func(interface{}) error {
	return func(v interface{}) error {
		items, ok := asInterfaceList(v)
		if !ok {
			return fmt.Errorf("%s must be an array", name)
		}
		if len(items) > maxItems {
			return fmt.Errorf("%s must have at most %d entries", name, maxItems)
		}
		for _, item := range items {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s entries must be non-empty strings", name)
			}
		}
		return nil
	}
}

func validateMarkets(v interface{}) error {
	items, ok := asInterfaceList(v)
	if !ok || len(items) == 0 {
		return fmt.Errorf("trading.markets must be a non-empty array")
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("trading.markets entries must be non-empty strings")
		}
		m := strings.ToUpper(strings.TrimSpace(s))
		if m != "US" && m != "UK" {
			return fmt.Errorf("Unsupported market: %s", m)
		}
	}
	return nil
}

func validateReserveMap(v interface{}) error {
	m, ok := asStringMap(v)
	if !ok {
		return fmt.Errorf("trading.min_cash_reserve_by_currency must be an object")
	}
	for currency, val := range m {
		if strings.TrimSpace(currency) == "" {
			return fmt.Errorf("Currency codes must be non-empty strings")
		}
		f, ok := asNumber(val)
		if !ok {
			return fmt.Errorf("Reserve for %s must be a number", currency)
		}
		if f < 0 {
			return fmt.Errorf("Reserve for %s must be >= 0", currency)
		}
	}
	return nil
}

// asInterfaceList accepts both decoded-JSON lists and test-constructed
// string slices.
func asInterfaceList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func asStringMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[string]float64:
		out := make(map[string]interface{}, len(t))
		for k, f := range t {
			out[k] = f
		}
		return out, true
	default:
		return nil, false
	}
}

func mustStringList(v interface{}) []string {
	items, _ := asInterfaceList(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func mustMarketList(v interface{}) []string {
	out := mustStringList(v)
	for i, s := range out {
		out[i] = strings.ToUpper(s)
	}
	return out
}

func mustReserveMap(v interface{}) map[string]float64 {
	m, _ := asStringMap(v)
	out := make(map[string]float64, len(m))
	for k, val := range m {
		out[k] = mustNumber(val)
	}
	return out
}
