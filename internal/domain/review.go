package domain

// PositionAction is the decision service's verdict on a held position
type PositionAction string

const (
	ActionHold       PositionAction = "HOLD"
	ActionSell       PositionAction = "SELL"
	ActionAdjustStop PositionAction = "ADJUST_STOP"
	ActionAdjustTP   PositionAction = "ADJUST_TP"
)

// OrderAction is the decision service's verdict on a standalone open order
type OrderAction string

const (
	OrderKeep        OrderAction = "KEEP"
	OrderCancel      OrderAction = "CANCEL"
	OrderAdjustPrice OrderAction = "ADJUST_PRICE"
)

// TradeStatus marks the lifecycle state of a recorded trade
type TradeStatus string

const (
	TradeExecuted TradeStatus = "EXECUTED"
	TradeSold     TradeStatus = "SOLD"
	TradeFailed   TradeStatus = "FAILED"
)
