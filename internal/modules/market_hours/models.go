// Package market_hours answers whether a market is open, how long until it
// closes, and when it opens next. Calendars are rule based so holiday lists
// never need a yearly refresh.
package market_hours

import "time"

// TradingHours is the regular session for a market, in its local timezone.
type TradingHours struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// EarlyCloseRule shortens the session on days matching the pattern.
type EarlyCloseRule struct {
	Name        string
	CloseHour   int
	CloseMinute int
	Matches     func(t time.Time) bool
}

// FixedDateHoliday is a holiday on a fixed calendar date. When
// ObserveOnWeekday is set a weekend date moves to the nearest weekday
// (Saturday to Friday, Sunday to Monday).
type FixedDateHoliday struct {
	Month            int
	Day              int
	ObserveOnWeekday bool
}

// RuleBasedHoliday is the nth (or, with N == -1, the last) weekday of a
// month.
type RuleBasedHoliday struct {
	Month   int
	Weekday time.Weekday
	N       int
}

// EasterBasedHoliday is an offset in days from Easter Sunday.
type EasterBasedHoliday struct {
	DaysOffset int
}

// HolidayRules is the full-day closure calendar for one market.
type HolidayRules struct {
	FixedDate   []FixedDateHoliday
	RuleBased   []RuleBasedHoliday
	EasterBased []EasterBasedHoliday
}

// Market describes one tradable market and its session calendar.
type Market struct {
	Code        string // "US", "UK"
	Name        string
	Currency    string   // settlement currency used for budgeting
	Exchanges   []string // broker exchange names routed to this market
	Hours       TradingHours
	Timezone    *time.Location
	EarlyCloses []EarlyCloseRule
	Holidays    HolidayRules
}

// MarketStatus is the dashboard view of one market.
type MarketStatus struct {
	Market    string `json:"market"`
	Open      bool   `json:"open"`
	Timezone  string `json:"timezone"`
	ClosesAt  string `json:"closes_at,omitempty"`
	OpensAt   string `json:"opens_at,omitempty"`
	OpensDate string `json:"opens_date,omitempty"`
}
