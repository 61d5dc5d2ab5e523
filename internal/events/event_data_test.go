package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEventEnvelopeRoundTrip tests that the envelope restores typed payloads
func TestEventEnvelopeRoundTrip(t *testing.T) {
	evt := Event{
		Type:      TradeExecuted,
		Timestamp: time.Date(2025, 3, 14, 15, 30, 0, 0, time.UTC),
		Module:    "trading",
		Data: &TradeExecutedData{
			Symbol:   "AAPL",
			Side:     "BUY",
			Quantity: 500,
			Price:    50.0,
			OrderID:  "abc-123",
		},
	}

	jsonData, err := json.Marshal(&evt)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), "trade_executed")
	assert.Contains(t, string(jsonData), "AAPL")

	var decoded Event
	err = json.Unmarshal(jsonData, &decoded)
	require.NoError(t, err)
	assert.Equal(t, TradeExecuted, decoded.Type)

	trade, ok := decoded.Data.(*TradeExecutedData)
	require.True(t, ok, "expected TradeExecutedData, got %T", decoded.Data)
	assert.Equal(t, "AAPL", trade.Symbol)
	assert.Equal(t, 500.0, trade.Quantity)
	assert.Equal(t, "abc-123", trade.OrderID)
}

// TestEventEnvelopeUnknownType tests fallback to generic data
func TestEventEnvelopeUnknownType(t *testing.T) {
	raw := `{"type":"something_new","timestamp":"2025-03-14T15:30:00Z","module":"x","data":{"k":"v"}}`

	var decoded Event
	err := json.Unmarshal([]byte(raw), &decoded)
	require.NoError(t, err)

	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, EventType("something_new"), generic.EventType())
	assert.Equal(t, "v", generic.Data["k"])
}

// TestCycleDataEventType tests status-dependent event type resolution
func TestCycleDataEventType(t *testing.T) {
	assert.Equal(t, CycleStarted, (&CycleData{Status: "started"}).EventType())
	assert.Equal(t, CycleCompleted, (&CycleData{Status: "completed"}).EventType())
	assert.Equal(t, CycleFailed, (&CycleData{Status: "failed"}).EventType())
	assert.Equal(t, CycleSkipped, (&CycleData{Status: "skipped"}).EventType())
}

// TestAdjustmentDataEventType tests kind-dependent event type resolution
func TestAdjustmentDataEventType(t *testing.T) {
	assert.Equal(t, StopAdjusted, (&AdjustmentData{Kind: "stop"}).EventType())
	assert.Equal(t, TakeProfitMoved, (&AdjustmentData{Kind: "take_profit"}).EventType())
}

// TestBusPublishSubscribe tests basic fan-out delivery
func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()

	ch1, unsub1 := bus.Subscribe(8)
	ch2, unsub2 := bus.Subscribe(8)
	defer unsub1()
	defer unsub2()

	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Emit("cycle", &CycleData{CycleID: "c1", Status: "started"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, CycleStarted, evt.Type)
			assert.Equal(t, "cycle", evt.Module)
			assert.False(t, evt.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

// TestBusUnsubscribeClosesChannel tests that unsubscribe closes the channel
func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)

	unsub()
	// Idempotent
	unsub()

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, bus.SubscriberCount())
}

// TestBusDropsWhenSubscriberFull tests that a slow subscriber never blocks publish
func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit("test", &StepData{Step: "screen"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	// Exactly one event fits the buffer, the rest were dropped
	assert.Len(t, ch, 1)
}
