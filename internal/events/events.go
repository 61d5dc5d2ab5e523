// Package events provides the in-process event system.
// Modules publish typed events to the Bus; subscribers, the journal recorder
// foremost, consume them without coupling publishers to consumers.
package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of event being published
type EventType string

const (
	// Cycle lifecycle
	CycleStarted   EventType = "cycle_started"
	CycleCompleted EventType = "cycle_completed"
	CycleFailed    EventType = "cycle_failed"
	CycleSkipped   EventType = "cycle_skipped"
	StepChanged    EventType = "step_changed"

	// Research and trading
	CandidateResearched EventType = "candidate_researched"
	TradeExecuted       EventType = "trade_executed"
	OrderPlaced         EventType = "order_placed"
	OrderCancelled      EventType = "order_cancelled"

	// Review engine
	PositionReviewed EventType = "position_reviewed"
	OrderReviewed    EventType = "order_reviewed"
	StopAdjusted     EventType = "stop_adjusted"
	TakeProfitMoved  EventType = "take_profit_moved"

	// Configuration and control
	ConfigChanged EventType = "config_changed"
	PausedChanged EventType = "paused_changed"

	// Broker connectivity
	BridgeStatusChanged EventType = "bridge_status_changed"

	// Sentiment
	SentimentRefreshed EventType = "sentiment_refreshed"

	// Scheduled jobs
	JobStarted   EventType = "job_started"
	JobCompleted EventType = "job_completed"
	JobFailed    EventType = "job_failed"

	// Errors
	ErrorOccurred EventType = "error_occurred"
)

// Event is the envelope published on the Bus
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}

// Handler receives published events. Handlers must not block; slow consumers
// should buffer internally.
type Handler func(Event)

// Bus is a simple fan-out publisher. Subscribers receive events on buffered
// channels; a subscriber that falls behind loses events rather than blocking
// the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
	}
}

// Publish delivers an event to all current subscribers. Never blocks: if a
// subscriber's buffer is full the event is dropped for that subscriber.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber buffer full, drop
		}
	}
}

// Emit is a convenience wrapper that builds the envelope from parts
func (b *Bus) Emit(module string, data EventData) {
	if data == nil {
		return
	}
	b.Publish(Event{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	})
}

// Subscribe registers a new subscriber with the given buffer size.
// Returns the receive channel and an unsubscribe function. The channel is
// closed on unsubscribe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
