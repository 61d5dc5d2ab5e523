package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// CycleData contains data for cycle lifecycle events
type CycleData struct {
	CycleID    string  `json:"cycle_id"`
	Status     string  `json:"status"` // "started", "completed", "failed", "skipped"
	Candidates int     `json:"candidates,omitempty"`
	Buys       int     `json:"buys,omitempty"`
	Duration   float64 `json:"duration,omitempty"` // Seconds
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// EventType returns the event type for CycleData
func (d *CycleData) EventType() EventType {
	switch d.Status {
	case "completed":
		return CycleCompleted
	case "failed":
		return CycleFailed
	case "skipped":
		return CycleSkipped
	default:
		return CycleStarted
	}
}

// StepData contains data for StepChanged events
type StepData struct {
	CycleID string `json:"cycle_id,omitempty"`
	Step    string `json:"step"`
	Symbol  string `json:"symbol,omitempty"`
}

// EventType returns the event type for StepData
func (d *StepData) EventType() EventType {
	return StepChanged
}

// ResearchData contains data for CandidateResearched events
type ResearchData struct {
	Symbol   string   `json:"symbol"`
	Decision string   `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Rank     *int     `json:"rank,omitempty"`
}

// EventType returns the event type for ResearchData
func (d *ResearchData) EventType() EventType {
	return CandidateResearched
}

// TradeExecutedData contains data for TradeExecuted events
type TradeExecutedData struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Quantity   float64  `json:"quantity"`
	Price      float64  `json:"price"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	OrderID    string   `json:"order_id,omitempty"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType {
	return TradeExecuted
}

// OrderData contains data for OrderPlaced and OrderCancelled events
type OrderData struct {
	OrderID   int64   `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side,omitempty"`
	OrderType string  `json:"order_type,omitempty"`
	Quantity  float64 `json:"quantity,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Cancelled bool    `json:"cancelled,omitempty"`
}

// EventType returns the event type for OrderData
func (d *OrderData) EventType() EventType {
	if d.Cancelled {
		return OrderCancelled
	}
	return OrderPlaced
}

// PositionReviewData contains data for PositionReviewed events
type PositionReviewData struct {
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Confidence *float64 `json:"confidence,omitempty"`
	Urgency    *float64 `json:"urgency,omitempty"`
	Executed   bool     `json:"executed"`
	Reason     string   `json:"reason,omitempty"`
}

// EventType returns the event type for PositionReviewData
func (d *PositionReviewData) EventType() EventType {
	return PositionReviewed
}

// OrderReviewData contains data for OrderReviewed events
type OrderReviewData struct {
	OrderID  int64  `json:"order_id"`
	Symbol   string `json:"symbol"`
	Action   string `json:"action"`
	Executed bool   `json:"executed"`
}

// EventType returns the event type for OrderReviewData
func (d *OrderReviewData) EventType() EventType {
	return OrderReviewed
}

// AdjustmentData contains data for StopAdjusted and TakeProfitMoved events
type AdjustmentData struct {
	Symbol   string  `json:"symbol"`
	OrderID  int64   `json:"order_id,omitempty"`
	OldPrice float64 `json:"old_price,omitempty"`
	NewPrice float64 `json:"new_price"`
	Kind     string  `json:"kind"` // "stop" or "take_profit"
}

// EventType returns the event type for AdjustmentData
func (d *AdjustmentData) EventType() EventType {
	if d.Kind == "take_profit" {
		return TakeProfitMoved
	}
	return StopAdjusted
}

// ConfigChangedData contains data for ConfigChanged events
type ConfigChangedData struct {
	Keys     []string `json:"keys,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
}

// EventType returns the event type for ConfigChangedData
func (d *ConfigChangedData) EventType() EventType {
	return ConfigChanged
}

// PausedChangedData contains data for PausedChanged events
type PausedChangedData struct {
	Paused bool   `json:"paused"`
	Reason string `json:"reason,omitempty"`
}

// EventType returns the event type for PausedChangedData
func (d *PausedChangedData) EventType() EventType {
	return PausedChanged
}

// BridgeStatusData contains data for BridgeStatusChanged events
type BridgeStatusData struct {
	Connected bool   `json:"connected"`
	Detail    string `json:"detail,omitempty"`
}

// EventType returns the event type for BridgeStatusData
func (d *BridgeStatusData) EventType() EventType {
	return BridgeStatusChanged
}

// SentimentRefreshedData contains data for SentimentRefreshed events
type SentimentRefreshedData struct {
	Posts   int `json:"posts,omitempty"`
	Symbols int `json:"symbols,omitempty"`
}

// EventType returns the event type for SentimentRefreshedData
func (d *SentimentRefreshedData) EventType() EventType {
	return SentimentRefreshed
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobName   string    `json:"job_name"`
	Status    string    `json:"status"` // "started", "completed", "failed"
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType returns the event type for JobStatusData
// Note: The actual event type is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// MarshalJSON customizes JSON serialization for Event
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	// Marshal the data separately
	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for Event
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	// Unmarshal data based on event type
	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case CycleStarted, CycleCompleted, CycleFailed, CycleSkipped:
			eventData = &CycleData{}
		case StepChanged:
			eventData = &StepData{}
		case CandidateResearched:
			eventData = &ResearchData{}
		case TradeExecuted:
			eventData = &TradeExecutedData{}
		case OrderPlaced, OrderCancelled:
			eventData = &OrderData{}
		case PositionReviewed:
			eventData = &PositionReviewData{}
		case OrderReviewed:
			eventData = &OrderReviewData{}
		case StopAdjusted, TakeProfitMoved:
			eventData = &AdjustmentData{}
		case ConfigChanged:
			eventData = &ConfigChangedData{}
		case PausedChanged:
			eventData = &PausedChangedData{}
		case BridgeStatusChanged:
			eventData = &BridgeStatusData{}
		case SentimentRefreshed:
			eventData = &SentimentRefreshedData{}
		case JobStarted, JobCompleted, JobFailed:
			eventData = &JobStatusData{}
		case ErrorOccurred:
			eventData = &ErrorEventData{}
		default:
			// For unknown types, use raw map
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if eventData != nil {
			if _, ok := eventData.(*GenericEventData); !ok {
				if err := json.Unmarshal(aux.Data, eventData); err != nil {
					return err
				}
			}
			e.Data = eventData
		}
	}

	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
