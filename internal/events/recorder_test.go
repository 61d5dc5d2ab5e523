package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/helmsman/internal/testing"
)

func newTestRecorder(t *testing.T) (*Bus, *Recorder, *Repository, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	repo := NewRepository(db, zerolog.Nop())
	rec := NewRecorder(repo, zerolog.Nop())
	bus := NewBus()
	rec.Start(bus)
	return bus, rec, repo, cleanup
}

func stopPtr(v float64) *float64 { return &v }

func TestRecorderPersistsBusEvents(t *testing.T) {
	bus, rec, repo, cleanup := newTestRecorder(t)
	defer cleanup()

	bus.Emit("trading", &TradeExecutedData{
		Symbol: "AAPL", Side: "BUY", Quantity: 100, Price: 55.25,
		StopLoss: stopPtr(52.1), TakeProfit: stopPtr(61.55),
	})
	bus.Emit("research", &ResearchData{Symbol: "TSLA", Decision: "SKIP", Reason: "volatility too low"})
	bus.Emit("cycle", &CycleData{Status: "failed", Error: "broker not connected"})
	rec.Stop()

	rows, err := repo.RecentEvents(0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Newest first: cycle, research, trade.
	assert.Equal(t, "ERROR", rows[0].Level)
	assert.Equal(t, "Cycle", rows[0].Step)
	assert.Equal(t, "Cycle failed: broker not connected", rows[0].Message)

	assert.Equal(t, "TSLA", rows[1].Symbol)
	assert.Equal(t, "Research", rows[1].Step)
	assert.Equal(t, "SKIP: volatility too low", rows[1].Message)

	assert.Equal(t, "AAPL", rows[2].Symbol)
	assert.Equal(t, "Trade", rows[2].Step)
	assert.Equal(t, "BUY 100 @ 55.25, stop 52.10, take-profit 61.55", rows[2].Message)
}

func TestRecorderRoutesStepChangesToLiveStatus(t *testing.T) {
	bus, rec, repo, cleanup := newTestRecorder(t)
	defer cleanup()

	bus.Emit("cycle", &StepData{Step: "Research", Symbol: "AAPL"})
	bus.Emit("cycle", &StepData{Step: "Sleeping"})
	rec.Stop()

	rows, err := repo.RecentEvents(0)
	require.NoError(t, err)
	assert.Empty(t, rows) // step changes never hit the stream

	status, err := repo.GetLiveStatus()
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Empty(t, status.Symbol)
	assert.Equal(t, "Sleeping", status.Step)
}

func TestRecorderSkipsJobStarts(t *testing.T) {
	bus, rec, repo, cleanup := newTestRecorder(t)
	defer cleanup()

	bus.Emit("scheduler", &JobStatusData{JobName: "portfolio_snapshot", Status: "started"})
	bus.Emit("scheduler", &JobStatusData{JobName: "portfolio_snapshot", Status: "completed", Duration: 1.25})
	bus.Emit("scheduler", &JobStatusData{JobName: "s3_backup", Status: "failed", Error: "bucket unreachable"})
	rec.Stop()

	rows, err := repo.RecentEvents(0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ERROR", rows[0].Level)
	assert.Equal(t, "Job s3_backup failed: bucket unreachable", rows[0].Message)
	assert.Equal(t, "Job portfolio_snapshot completed (1.2s)", rows[1].Message)
}

func TestDescribeConnectivityAndPause(t *testing.T) {
	level, symbol, step, msg, ok := describe(Event{Data: &BridgeStatusData{Connected: false, Detail: "session expired"}})
	require.True(t, ok)
	assert.Equal(t, "WARNING", level)
	assert.Equal(t, "IBKR", symbol)
	assert.Equal(t, "Connection", step)
	assert.Equal(t, "Gateway disconnected: session expired", msg)

	level, _, step, msg, ok = describe(Event{Data: &PausedChangedData{Paused: true, Reason: "manual pause"}})
	require.True(t, ok)
	assert.Equal(t, "WARNING", level)
	assert.Equal(t, "Config", step)
	assert.Equal(t, "Trading paused: manual pause", msg)

	level, _, _, msg, ok = describe(Event{Data: &PausedChangedData{Paused: false}})
	require.True(t, ok)
	assert.Equal(t, "INFO", level)
	assert.Equal(t, "Trading resumed", msg)

	_, _, _, _, ok = describe(Event{Data: &GenericEventData{Type: "custom"}})
	assert.False(t, ok)
}

func TestDescribeOrderAndAdjustment(t *testing.T) {
	level, symbol, step, msg, ok := describe(Event{Data: &OrderData{
		OrderID: 41, Symbol: "TSLA", Side: "BUY", OrderType: "LMT", Quantity: 25, Price: 240.5,
	}})
	require.True(t, ok)
	assert.Equal(t, "INFO", level)
	assert.Equal(t, "TSLA", symbol)
	assert.Equal(t, "Orders", step)
	assert.Equal(t, "Order 41 placed: BUY LMT 25 @ 240.50", msg)

	_, _, _, msg, ok = describe(Event{Data: &OrderData{OrderID: 41, Symbol: "TSLA", Cancelled: true}})
	require.True(t, ok)
	assert.Equal(t, "Order 41 cancelled", msg)

	_, symbol, step, msg, ok = describe(Event{Data: &AdjustmentData{
		Symbol: "AAPL", NewPrice: 52.75, Kind: "take_profit",
	}})
	require.True(t, ok)
	assert.Equal(t, "AAPL", symbol)
	assert.Equal(t, "Review", step)
	assert.Equal(t, "Take-profit moved to 52.75", msg)
}
