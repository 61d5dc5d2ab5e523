package market_hours

import (
	"strings"
	"time"
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// markets holds every market the trader knows how to gate.
var markets = map[string]Market{
	"US": {
		Code:      "US",
		Name:      "United States (NYSE / Nasdaq)",
		Currency:  "USD",
		Exchanges: []string{"NYSE", "NASDAQ", "AMEX", "ARCA", "BATS", "ISLAND", "SMART"},
		Hours: TradingHours{
			OpenHour:    9,
			OpenMinute:  30,
			CloseHour:   16,
			CloseMinute: 0,
		},
		Timezone: mustLoadLocation("America/New_York"),
		EarlyCloses: []EarlyCloseRule{
			{
				Name:        "Day after Thanksgiving",
				CloseHour:   13,
				CloseMinute: 0,
				Matches: func(t time.Time) bool {
					thanksgiving := nthWeekday(t.Year(), 11, time.Thursday, 4)
					dayAfter := thanksgiving.AddDate(0, 0, 1)
					return t.Month() == dayAfter.Month() && t.Day() == dayAfter.Day()
				},
			},
			{
				Name:        "Christmas Eve",
				CloseHour:   13,
				CloseMinute: 0,
				Matches: func(t time.Time) bool {
					return t.Month() == 12 && t.Day() == 24
				},
			},
			{
				Name:        "Day before Independence Day",
				CloseHour:   13,
				CloseMinute: 0,
				Matches: func(t time.Time) bool {
					if t.Month() != 7 || t.Day() != 3 {
						return false
					}
					july4 := time.Date(t.Year(), 7, 4, 0, 0, 0, 0, t.Location())
					return july4.Weekday() != time.Saturday && july4.Weekday() != time.Sunday
				},
			},
		},
		Holidays: HolidayRules{
			FixedDate: []FixedDateHoliday{
				{Month: 1, Day: 1, ObserveOnWeekday: true},   // New Year's Day
				{Month: 6, Day: 19, ObserveOnWeekday: true},  // Juneteenth
				{Month: 7, Day: 4, ObserveOnWeekday: true},   // Independence Day
				{Month: 12, Day: 25, ObserveOnWeekday: true}, // Christmas
			},
			RuleBased: []RuleBasedHoliday{
				{Month: 1, Weekday: time.Monday, N: 3},    // Martin Luther King Jr. Day
				{Month: 2, Weekday: time.Monday, N: 3},    // Presidents Day
				{Month: 5, Weekday: time.Monday, N: -1},   // Memorial Day
				{Month: 9, Weekday: time.Monday, N: 1},    // Labor Day
				{Month: 11, Weekday: time.Thursday, N: 4}, // Thanksgiving
			},
			EasterBased: []EasterBasedHoliday{
				{DaysOffset: -2}, // Good Friday
			},
		},
	},
	"UK": {
		Code:      "UK",
		Name:      "United Kingdom (LSE)",
		Currency:  "GBP",
		Exchanges: []string{"LSE", "LSEETF"},
		Hours: TradingHours{
			OpenHour:    8,
			OpenMinute:  0,
			CloseHour:   16,
			CloseMinute: 30,
		},
		Timezone: mustLoadLocation("Europe/London"),
		EarlyCloses: []EarlyCloseRule{
			{
				Name:        "Christmas Eve",
				CloseHour:   12,
				CloseMinute: 30,
				Matches: func(t time.Time) bool {
					return t.Month() == 12 && t.Day() == 24
				},
			},
			{
				Name:        "New Year's Eve",
				CloseHour:   12,
				CloseMinute: 30,
				Matches: func(t time.Time) bool {
					return t.Month() == 12 && t.Day() == 31
				},
			},
		},
		Holidays: HolidayRules{
			FixedDate: []FixedDateHoliday{
				{Month: 1, Day: 1},   // New Year's Day
				{Month: 12, Day: 25}, // Christmas
				{Month: 12, Day: 26}, // Boxing Day
			},
			RuleBased: []RuleBasedHoliday{
				{Month: 5, Weekday: time.Monday, N: 1},  // Early May Bank Holiday
				{Month: 5, Weekday: time.Monday, N: -1}, // Spring Bank Holiday
				{Month: 8, Weekday: time.Monday, N: -1}, // Summer Bank Holiday
			},
			EasterBased: []EasterBasedHoliday{
				{DaysOffset: -2}, // Good Friday
				{DaysOffset: 1},  // Easter Monday
			},
		},
	},
}

// Get returns the market definition for a code, or nil when unknown.
func Get(code string) *Market {
	if m, ok := markets[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return &m
	}
	return nil
}

// CurrencyFor returns the settlement currency for a market code. Unknown
// markets budget in USD.
func CurrencyFor(code string) string {
	if m := Get(code); m != nil {
		return m.Currency
	}
	return "USD"
}

// MarketFor routes a listing to a market by its exchange and settlement
// currency. GBP listings and LSE listings trade in the UK; everything else
// defaults to the US.
func MarketFor(exchange, currency string) string {
	if strings.EqualFold(currency, "GBP") {
		return "UK"
	}
	normalized := strings.TrimSpace(exchange)
	for code, m := range markets {
		for _, ex := range m.Exchanges {
			if strings.EqualFold(normalized, ex) {
				return code
			}
		}
	}
	return "US"
}
