// Package risk derives buying budgets and protective price levels from
// account state. Budgets are per currency; a currency the broker reported
// no cash for gets a zero budget rather than a guess.
package risk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
)

// Budget is the spendable amount for one currency in one cycle.
type Budget struct {
	Currency  string
	Available float64 // cash reported under the configured budget tag
	Reserve   float64 // configured floor that must stay in the account
	Amount    float64 // spendable after the utilisation cap and reserve
	Reason    string  // why Amount is zero, when it is
}

// Spend reduces the budget by cost. It refuses to go negative and reports
// whether the spend fit.
func (b *Budget) Spend(cost float64) bool {
	if cost <= 0 || cost > b.Amount {
		return false
	}
	b.Amount -= cost
	return true
}

// Allocator computes per-currency budgets from broker account values.
type Allocator struct {
	log zerolog.Logger
}

// NewAllocator creates a new budget allocator
func NewAllocator(log zerolog.Logger) *Allocator {
	return &Allocator{log: log.With().Str("module", "risk").Logger()}
}

// Budgets returns one Budget per requested currency. The spendable amount
// is max(0, min(available*utilisation, available-reserve)). A currency
// absent from the account summary budgets zero and the reason names the
// tag that was missing.
func (a *Allocator) Budgets(values []domain.AccountValue, currencies []string, cfg config.TradingConfig) map[string]Budget {
	cash := make(map[string]float64)
	reported := make(map[string]bool)
	for _, v := range values {
		if v.Tag != cfg.CashBudgetTag || v.Currency == "" || strings.EqualFold(v.Currency, "BASE") {
			continue
		}
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			a.log.Warn().
				Str("currency", v.Currency).
				Str("value", v.Value).
				Msg("Unparseable cash value in account summary")
			continue
		}
		cash[v.Currency] = f
		reported[v.Currency] = true
	}

	out := make(map[string]Budget, len(currencies))
	for _, currency := range currencies {
		b := Budget{Currency: currency, Reserve: cfg.MinCashReserveByCurrency[currency]}
		if !reported[currency] {
			b.Reason = fmt.Sprintf("no cash reported for %s (tag %s)", currency, cfg.CashBudgetTag)
			a.log.Error().
				Str("currency", currency).
				Str("tag", cfg.CashBudgetTag).
				Msg("No cash value reported; budget is zero")
			out[currency] = b
			continue
		}

		b.Available = cash[currency]
		amount := b.Available * cfg.MaxCashUtilisation
		if capped := b.Available - b.Reserve; capped < amount {
			amount = capped
		}
		if amount < 0 {
			amount = 0
		}
		b.Amount = amount
		if b.Amount == 0 {
			b.Reason = fmt.Sprintf("%s budget exhausted (available %.2f, reserve %.2f)", currency, b.Available, b.Reserve)
		}
		out[currency] = b
	}
	return out
}

// Equity returns the account's net liquidation value. The BASE bucket is
// preferred so the equity series stays in one currency over time; accounts
// that report no BASE line fall back to USD, then GBP, then the first
// parseable value.
func Equity(values []domain.AccountValue) (float64, error) {
	var matches []domain.AccountValue
	for _, v := range values {
		if v.Tag == "NetLiquidation" {
			matches = append(matches, v)
		}
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("no NetLiquidation value in account summary")
	}

	for _, currency := range []string{"BASE", "USD", "GBP"} {
		for _, v := range matches {
			if v.Currency != currency {
				continue
			}
			if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
				return f, nil
			}
		}
	}
	for _, v := range matches {
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("no parseable NetLiquidation value in account summary")
}
