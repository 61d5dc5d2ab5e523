// Package domain holds the shared types of the trading loop. The domain layer
// is pure: no infrastructure dependencies.
package domain

import "time"

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the broker order type
type OrderType string

const (
	OrderMarket OrderType = "MKT"
	OrderLimit  OrderType = "LMT"
	OrderStop   OrderType = "STP"
)

// Position represents a held instrument from the broker's portfolio snapshot.
// The system is long-only: Quantity < 0 is an invariant violation that the
// safety net flattens.
type Position struct {
	Account       string
	Symbol        string
	ConID         int64
	Exchange      string
	Currency      string
	Quantity      float64
	AvgCost       float64
	MarketPrice   float64
	MarketValue   float64
	UnrealizedPnL float64
	RealizedPnL   float64
}

// OpenOrder represents a working order at the broker
type OpenOrder struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	ConID         int64
	Side          OrderSide
	OrderType     OrderType
	Quantity      float64
	LimitPrice    float64
	StopPrice     float64
	Status        string
	ParentID      int64 // 0 = standalone order
	OCAGroup      string
	Currency      string
}

// IsChild reports whether the order is a bracket leg attached to a parent.
func (o OpenOrder) IsChild() bool { return o.ParentID != 0 }

// AccountValue is one tagged account figure (cash, equity, ...) in a currency
type AccountValue struct {
	Account  string
	Tag      string
	Value    string
	Currency string
}

// Contract identifies a qualified instrument
type Contract struct {
	ConID    int64
	Symbol   string
	Exchange string
	Currency string
	// MinTick is the instrument's price increment; 0 means unknown and
	// callers fall back to DefaultMinTick.
	MinTick float64
}

// DefaultMinTick is used when the broker does not report an increment.
const DefaultMinTick = 0.01

// Bar is one OHLCV bar
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Quote is a point-in-time price snapshot. Delayed marks data served without
// a live subscription. Day-range and volume fields are zero when the gateway
// does not supply them.
type Quote struct {
	Symbol    string
	ConID     int64
	Last      float64
	Bid       float64
	Ask       float64
	High      float64
	Low       float64
	Volume    float64
	AvgVolume float64
	Delayed   bool
}

// Price returns the best usable price from the quote: last, then mid, then
// whichever side exists. Zero when the quote is empty.
func (q Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Ask
}

// ScanRow is one instrument returned by a market scanner run
type ScanRow struct {
	Rank         int
	ConID        int64
	Symbol       string
	Exchange     string
	Currency     string
	ScanCode     string
	TradingClass string // empty when the gateway omits it
}
