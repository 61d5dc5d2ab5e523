package trading

import "time"

// Trade statuses. EXECUTED covers entries and buy-to-cover corrections,
// SOLD covers exits, FAILED records an order the broker never accepted.
const (
	StatusExecuted = "EXECUTED"
	StatusSold     = "SOLD"
	StatusFailed   = "FAILED"
)

// Trade is one row of the audit trail in ledger.db. Protective levels are
// recorded as submitted (tick-rounded), not as originally computed.
type Trade struct {
	ID             int64     `json:"id"`
	Symbol         string    `json:"symbol"`
	Action         string    `json:"action"` // BUY or SELL
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`
	StopLoss       *float64  `json:"stop_loss,omitempty"`
	TakeProfit     *float64  `json:"take_profit,omitempty"`
	SentimentScore *float64  `json:"sentiment_score,omitempty"`
	Status         string    `json:"status"`
	Rationale      string    `json:"rationale,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
