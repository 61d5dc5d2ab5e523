package testing

import (
	"strconv"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// DailyBars returns n consecutive daily bars walking from start by step per
// bar. Volume alternates around one million shares so volume-derived
// indicators have something to chew on.
func DailyBars(n int, start, step float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	price := start
	for i := range bars {
		price += step
		volume := 900000.0
		if i%2 == 0 {
			volume = 1100000.0
		}
		bars[i] = domain.Bar{
			Time:   day.AddDate(0, 0, i),
			Open:   price - 0.4,
			High:   price + 0.8,
			Low:    price - 1.1,
			Close:  price,
			Volume: volume,
		}
	}
	return bars
}

// AccountValues returns a minimal account summary: NetLiquidation in the
// BASE bucket plus one cash line per currency under the default budget tag.
func AccountValues(account string, netLiq float64, cash map[string]float64) []domain.AccountValue {
	values := []domain.AccountValue{
		{Account: account, Tag: "NetLiquidation", Value: formatAmount(netLiq), Currency: "BASE"},
	}
	for currency, amount := range cash {
		values = append(values, domain.AccountValue{
			Account: account, Tag: "TotalCashValue", Value: formatAmount(amount), Currency: currency,
		})
	}
	return values
}

// LongPosition returns a held long with market value and P&L derived from
// the given prices.
func LongPosition(symbol string, conID int64, quantity, avgCost, marketPrice float64) domain.Position {
	return domain.Position{
		Account:       "DU000000",
		Symbol:        symbol,
		ConID:         conID,
		Exchange:      "NASDAQ",
		Currency:      "USD",
		Quantity:      quantity,
		AvgCost:       avgCost,
		MarketPrice:   marketPrice,
		MarketValue:   quantity * marketPrice,
		UnrealizedPnL: (marketPrice - avgCost) * quantity,
	}
}

// SnapshotQuote returns a live-looking quote two cents wide around last
func SnapshotQuote(symbol string, conID int64, last float64) *domain.Quote {
	return &domain.Quote{
		Symbol:    symbol,
		ConID:     conID,
		Last:      last,
		Bid:       last - 0.02,
		Ask:       last + 0.02,
		High:      last * 1.02,
		Low:       last * 0.97,
		Volume:    1200000,
		AvgVolume: 900000,
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
