package risk

import (
	"fmt"
	"math"
)

// ProtectiveLevels computes the stop and take-profit prices for a long
// entry. The stop sits stopMultiplier ATRs below the entry price; the
// take-profit is takeProfitR multiples of the stop distance above it.
func ProtectiveLevels(price, atr, stopMultiplier, takeProfitR float64) (stop, takeProfit float64, err error) {
	if price <= 0 {
		return 0, 0, fmt.Errorf("price must be positive, got %.4f", price)
	}
	if atr <= 0 {
		return 0, 0, fmt.Errorf("ATR must be positive, got %.4f", atr)
	}
	if stopMultiplier <= 0 || takeProfitR <= 0 {
		return 0, 0, fmt.Errorf("stop multiplier and take-profit R must be positive")
	}

	stop = price - atr*stopMultiplier
	if stop <= 0 {
		return 0, 0, fmt.Errorf("stop %.4f is not positive (price %.2f, ATR %.4f)", stop, price, atr)
	}
	takeProfit = price + takeProfitR*(price-stop)
	return stop, takeProfit, nil
}

// PositionSize returns the share count for a new entry: the equity at risk
// divided by the stop distance, capped by what the currency budget can buy.
// Zero means the budget cannot fund a single share.
func PositionSize(equity, riskPerTrade, price, stop, budget float64) (int64, error) {
	if equity <= 0 {
		return 0, fmt.Errorf("equity must be positive, got %.2f", equity)
	}
	if riskPerTrade <= 0 {
		return 0, fmt.Errorf("risk per trade must be positive, got %.4f", riskPerTrade)
	}
	if price <= 0 {
		return 0, fmt.Errorf("price must be positive, got %.4f", price)
	}
	distance := price - stop
	if distance <= 0 {
		return 0, fmt.Errorf("stop %.4f must be below price %.4f", stop, price)
	}

	byRisk := math.Floor(equity * riskPerTrade / distance)
	byBudget := math.Floor(budget / price)
	qty := byRisk
	if byBudget < qty {
		qty = byBudget
	}
	if qty < 0 {
		qty = 0
	}
	return int64(qty), nil
}
