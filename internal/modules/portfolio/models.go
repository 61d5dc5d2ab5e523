package portfolio

import "time"

// AccountEntry is the latest stored value for one account summary tag in
// one currency.
type AccountEntry struct {
	Account   string    `json:"account,omitempty"`
	Tag       string    `json:"tag"`
	Value     string    `json:"value"`
	Currency  string    `json:"currency,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionRow is one position from the latest portfolio snapshot
type PositionRow struct {
	Symbol        string    `json:"symbol"`
	ConID         int64     `json:"con_id,omitempty"`
	Exchange      string    `json:"exchange,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Quantity      float64   `json:"quantity"`
	AvgCost       float64   `json:"avg_cost"`
	MarketPrice   float64   `json:"market_price"`
	MarketValue   float64   `json:"market_value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OpenOrderRow is one working order from the latest snapshot
type OpenOrderRow struct {
	OrderID    int64     `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	OrderType  string    `json:"order_type"`
	Quantity   float64   `json:"quantity"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	StopPrice  float64   `json:"stop_price,omitempty"`
	Status     string    `json:"status,omitempty"`
	ParentID   int64     `json:"parent_id,omitempty"`
	OCAGroup   string    `json:"oca_group,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PerformancePoint is one equity observation in the performance series
type PerformancePoint struct {
	ID            int64     `json:"id"`
	Equity        float64   `json:"equity"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	CreatedAt     time.Time `json:"created_at"`
}

// PerformanceSummary compares the oldest and newest equity observations
type PerformanceSummary struct {
	BaselineAt     time.Time `json:"baseline_timestamp"`
	BaselineEquity float64   `json:"baseline_equity"`
	LatestAt       time.Time `json:"latest_timestamp"`
	LatestEquity   float64   `json:"latest_equity"`
	DeltaEquity    float64   `json:"delta_equity"`
	DeltaPct       *float64  `json:"delta_pct"`
}
