package review

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/helmsman/internal/testing"
)

func newTestReviewRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	return NewRepository(db, zerolog.Nop()), cleanup
}

func fp(v float64) *float64 { return &v }

func TestInsertPositionReviewRoundTrip(t *testing.T) {
	repo, cleanup := newTestReviewRepo(t)
	defer cleanup()

	id, err := repo.InsertPositionReview(&PositionReview{
		Symbol:            "AAPL",
		Exchange:          "NASDAQ",
		Currency:          "USD",
		EntryPrice:        50,
		CurrentPrice:      55,
		Quantity:          100,
		UnrealisedPnL:     500,
		PnLPct:            10,
		MinutesHeld:       95,
		CurrentStopLoss:   fp(48),
		CurrentTakeProfit: fp(60),
		Action:            ActionAdjustStop,
		NewStopLoss:       fp(52),
		Confidence:        0.85,
		Urgency:           0.4,
		Rationale:         "Lock in gains behind the morning breakout",
		KeyFactors:        []string{"rsi cooling", "peak drawdown 1.2%"},
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	reviews, err := repo.RecentPositionReviews(10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	rev := reviews[0]
	assert.Equal(t, id, rev.ID)
	assert.Equal(t, "AAPL", rev.Symbol)
	assert.Equal(t, "NASDAQ", rev.Exchange)
	assert.Equal(t, 55.0, rev.CurrentPrice)
	assert.Equal(t, 95, rev.MinutesHeld)
	require.NotNil(t, rev.CurrentStopLoss)
	assert.Equal(t, 48.0, *rev.CurrentStopLoss)
	assert.Equal(t, ActionAdjustStop, rev.Action)
	require.NotNil(t, rev.NewStopLoss)
	assert.Equal(t, 52.0, *rev.NewStopLoss)
	assert.Nil(t, rev.NewTakeProfit)
	assert.Equal(t, 0.85, rev.Confidence)
	assert.Equal(t, []string{"rsi cooling", "peak drawdown 1.2%"}, rev.KeyFactors)
	assert.False(t, rev.Executed)
	assert.False(t, rev.CreatedAt.IsZero())
}

func TestMarkPositionExecuted(t *testing.T) {
	repo, cleanup := newTestReviewRepo(t)
	defer cleanup()

	id, err := repo.InsertPositionReview(&PositionReview{Symbol: "AAPL", Action: ActionSell})
	require.NoError(t, err)

	require.NoError(t, repo.MarkPositionExecuted(id))

	reviews, err := repo.RecentPositionReviews(1)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.True(t, reviews[0].Executed)
}

func TestPositionReviewsBySymbol(t *testing.T) {
	repo, cleanup := newTestReviewRepo(t)
	defer cleanup()

	for _, symbol := range []string{"AAPL", "MSFT", "AAPL"} {
		_, err := repo.InsertPositionReview(&PositionReview{Symbol: symbol, Action: ActionHold})
		require.NoError(t, err)
	}

	reviews, err := repo.PositionReviewsBySymbol("AAPL", 10)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	// Newest first
	assert.Greater(t, reviews[0].ID, reviews[1].ID)
}

func TestInsertOrderReviewRoundTrip(t *testing.T) {
	repo, cleanup := newTestReviewRepo(t)
	defer cleanup()

	id, err := repo.InsertOrderReview(&OrderReview{
		OrderID:       4711,
		Symbol:        "TSLA",
		OrderSide:     "BUY",
		OrderType:     "LMT",
		OrderQuantity: 25,
		OrderPrice:    fp(240.5),
		CurrentPrice:  fp(244.1),
		AgeMinutes:    42,
		Action:        ActionAdjustPrice,
		NewPrice:      fp(243),
		Confidence:    0.7,
		Rationale:     "Price moved away, chase within reason",
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	reviews, err := repo.RecentOrderReviews(10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	rev := reviews[0]
	assert.Equal(t, int64(4711), rev.OrderID)
	assert.Equal(t, "TSLA", rev.Symbol)
	assert.Equal(t, "BUY", rev.OrderSide)
	assert.Equal(t, "LMT", rev.OrderType)
	assert.Equal(t, 25.0, rev.OrderQuantity)
	require.NotNil(t, rev.OrderPrice)
	assert.Equal(t, 240.5, *rev.OrderPrice)
	assert.Equal(t, 42, rev.AgeMinutes)
	require.NotNil(t, rev.NewPrice)
	assert.Equal(t, 243.0, *rev.NewPrice)
	assert.False(t, rev.Executed)
}

func TestMarkOrderExecuted(t *testing.T) {
	repo, cleanup := newTestReviewRepo(t)
	defer cleanup()

	id, err := repo.InsertOrderReview(&OrderReview{OrderID: 1, Symbol: "TSLA", Action: ActionCancel})
	require.NoError(t, err)

	require.NoError(t, repo.MarkOrderExecuted(id))

	reviews, err := repo.RecentOrderReviews(1)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.True(t, reviews[0].Executed)
}

func TestOrderReviewsBySymbol(t *testing.T) {
	repo, cleanup := newTestReviewRepo(t)
	defer cleanup()

	_, err := repo.InsertOrderReview(&OrderReview{OrderID: 1, Symbol: "TSLA", Action: ActionKeep})
	require.NoError(t, err)
	_, err = repo.InsertOrderReview(&OrderReview{OrderID: 2, Symbol: "NVDA", Action: ActionKeep})
	require.NoError(t, err)

	reviews, err := repo.OrderReviewsBySymbol("NVDA", 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, int64(2), reviews[0].OrderID)
}
