package review

import "time"

// Position review actions
const (
	ActionHold       = "HOLD"
	ActionSell       = "SELL"
	ActionAdjustStop = "ADJUST_STOP"
	ActionAdjustTP   = "ADJUST_TP"
)

// Order review actions
const (
	ActionKeep        = "KEEP"
	ActionCancel      = "CANCEL"
	ActionAdjustPrice = "ADJUST_PRICE"
)

// PositionReview is one row of position_reviews in ledger.db: the decision
// context as seen at review time plus the verdict. Executed flips to true
// only after the broker confirms the resulting order action.
type PositionReview struct {
	ID                int64     `json:"id"`
	Symbol            string    `json:"symbol"`
	Exchange          string    `json:"exchange,omitempty"`
	Currency          string    `json:"currency,omitempty"`
	EntryPrice        float64   `json:"entry_price"`
	CurrentPrice      float64   `json:"current_price"`
	Quantity          float64   `json:"quantity"`
	UnrealisedPnL     float64   `json:"unrealised_pnl"`
	PnLPct            float64   `json:"pnl_pct"`
	MinutesHeld       int       `json:"minutes_held"`
	CurrentStopLoss   *float64  `json:"current_stop_loss,omitempty"`
	CurrentTakeProfit *float64  `json:"current_take_profit,omitempty"`
	Action            string    `json:"action"`
	NewStopLoss       *float64  `json:"new_stop_loss,omitempty"`
	NewTakeProfit     *float64  `json:"new_take_profit,omitempty"`
	Confidence        float64   `json:"confidence"`
	Urgency           float64   `json:"urgency"`
	Rationale         string    `json:"rationale,omitempty"`
	KeyFactors        []string  `json:"key_factors,omitempty"`
	Executed          bool      `json:"executed"`
	CreatedAt         time.Time `json:"created_at"`
}

// OrderReview is one row of order_reviews in ledger.db
type OrderReview struct {
	ID            int64     `json:"id"`
	OrderID       int64     `json:"order_id"`
	Symbol        string    `json:"symbol"`
	OrderSide     string    `json:"order_side,omitempty"` // BUY or SELL
	OrderType     string    `json:"order_type,omitempty"` // MKT, LMT, STP
	OrderQuantity float64   `json:"order_quantity,omitempty"`
	OrderPrice    *float64  `json:"order_price,omitempty"`
	CurrentPrice  *float64  `json:"current_price,omitempty"`
	AgeMinutes    int       `json:"age_minutes"`
	Action        string    `json:"action"`
	NewPrice      *float64  `json:"new_price,omitempty"`
	Confidence    float64   `json:"confidence"`
	Rationale     string    `json:"rationale,omitempty"`
	Executed      bool      `json:"executed"`
	CreatedAt     time.Time `json:"created_at"`
}

// PositionOutcome summarises what one position review did
type PositionOutcome struct {
	ReviewID   int64   `json:"review_id"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Executed   bool    `json:"executed"`
	Detail     string  `json:"detail,omitempty"`
}

// OrderOutcome summarises what one order review did
type OrderOutcome struct {
	ReviewID   int64   `json:"review_id"`
	OrderID    int64   `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Executed   bool    `json:"executed"`
	Detail     string  `json:"detail,omitempty"`
}

// TopCandidate is a shortlist entry carried over from the latest research
// cycle so the model can weigh the position against fresh opportunities.
type TopCandidate struct {
	Symbol    string   `json:"symbol"`
	Score     *float64 `json:"score"`
	Rationale string   `json:"rationale"`
	Sentiment *float64 `json:"sentiment,omitempty"`
}
