package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer serves canned assistant replies, one per request, in order
func chatServer(t *testing.T, replies ...string) (*Client, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		idx := int(n) - 1
		if idx >= len(replies) {
			idx = len(replies) - 1
		}
		writeChatReply(w, replies[idx])
	}))
	t.Cleanup(server.Close)

	client := New(Config{
		Endpoint: server.URL,
		Model:    "test-model",
		APIKey:   "key",
		Log:      zerolog.Nop(),
	})
	return client, &calls
}

func writeChatReply(w http.ResponseWriter, content string) {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func candidatePayload() CandidatePayload {
	price := 50.0
	return CandidatePayload{Symbol: "AAPL", Exchange: "NASDAQ", Currency: "USD", Price: &price}
}

func TestDecideCandidateParsesValidReply(t *testing.T) {
	client, _ := chatServer(t, `{
		"decision": "shortlist",
		"confidence": 0.8,
		"score": 0.7,
		"sentiment": 0.3,
		"rationale": "Momentum with cooling RSI",
		"key_factors": ["volume surge", "support bounce"],
		"key_risks": ["thin float"]
	}`)

	decision, err := client.DecideCandidate(context.Background(), candidatePayload())
	require.NoError(t, err)
	assert.Equal(t, "SHORTLIST", decision.Decision)
	assert.Equal(t, 0.8, decision.Confidence)
	assert.Equal(t, 0.7, decision.Score)
	assert.Equal(t, []string{"volume surge", "support bounce"}, decision.KeyFactors)
}

func TestDecideCandidateStripsMarkdownFence(t *testing.T) {
	client, _ := chatServer(t, "```json\n{\"decision\":\"SKIP\",\"confidence\":0.9,\"score\":0.1,\"sentiment\":-0.5,\"rationale\":\"Breakdown\",\"key_factors\":[],\"key_risks\":[]}\n```")

	decision, err := client.DecideCandidate(context.Background(), candidatePayload())
	require.NoError(t, err)
	assert.Equal(t, "SKIP", decision.Decision)
}

func TestDecideCandidateRejectsOutOfRangeScore(t *testing.T) {
	client, _ := chatServer(t, `{"decision":"SHORTLIST","confidence":0.8,"score":1.4,"sentiment":0,"rationale":"x","key_factors":[],"key_risks":[]}`)

	_, err := client.DecideCandidate(context.Background(), candidatePayload())
	require.Error(t, err)

	var derr *DecisionError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "score", derr.Field)
}

func TestDecideCandidateRejectsMissingConfidence(t *testing.T) {
	client, _ := chatServer(t, `{"decision":"SKIP","score":0.2,"sentiment":0,"rationale":"x","key_factors":[],"key_risks":[]}`)

	_, err := client.DecideCandidate(context.Background(), candidatePayload())
	var derr *DecisionError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "confidence", derr.Field)
}

func TestDecideCandidateRejectsInvalidDecision(t *testing.T) {
	client, _ := chatServer(t, `{"decision":"BUY","confidence":0.8,"score":0.5,"sentiment":0,"rationale":"x","key_factors":[],"key_risks":[]}`)

	_, err := client.DecideCandidate(context.Background(), candidatePayload())
	var derr *DecisionError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "decision", derr.Field)
}

func TestSelectBuysValidatesMembership(t *testing.T) {
	client, _ := chatServer(t, `{"selected_symbols":["TSLA"],"rationale":"Strong setup"}`)

	_, err := client.SelectBuys(context.Background(), []ShortlistedCandidate{{Symbol: "AAPL"}}, 2, nil, nil)
	var derr *DecisionError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "selected_symbols", derr.Field)
	assert.Contains(t, derr.Detail, "TSLA")
}

func TestSelectBuysDedupesAndCaps(t *testing.T) {
	client, _ := chatServer(t, `{"selected_symbols":["aapl","AAPL","MSFT","NVDA"],"rationale":"Top picks"}`)

	candidates := []ShortlistedCandidate{{Symbol: "AAPL"}, {Symbol: "MSFT"}, {Symbol: "NVDA"}}
	sel, err := client.SelectBuys(context.Background(), candidates, 2, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, sel.SelectedSymbols)
}

func TestSelectBuysZeroCapacitySkipsCall(t *testing.T) {
	client, calls := chatServer(t, `{}`)

	sel, err := client.SelectBuys(context.Background(), []ShortlistedCandidate{{Symbol: "AAPL"}}, 0, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, sel.SelectedSymbols)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls), "no capacity means no service call")
}

func TestReviewPositionRequiresLevelForAdjust(t *testing.T) {
	client, _ := chatServer(t, `{"action":"ADJUST_STOP","confidence":0.7,"urgency":0.4,"rationale":"tighten"}`)

	_, err := client.ReviewPosition(context.Background(), PositionPayload{Symbol: "AAPL"})
	var derr *DecisionError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "new_stop_loss", derr.Field)
}

func TestReviewPositionDefaultsUrgency(t *testing.T) {
	client, _ := chatServer(t, `{"action":"HOLD","confidence":0.6,"rationale":"still working"}`)

	decision, err := client.ReviewPosition(context.Background(), PositionPayload{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "HOLD", decision.Action)
	assert.Equal(t, 0.5, decision.Urgency)
}

func TestReviewOrderParsesAdjustPrice(t *testing.T) {
	client, _ := chatServer(t, `{"action":"ADJUST_PRICE","new_price":49.5,"confidence":0.8,"rationale":"move closer"}`)

	price := 48.0
	current := 49.6
	decision, err := client.ReviewOrder(context.Background(), OrderPayload{
		Symbol: "AAPL", OrderID: 101, Action: "BUY", OrderType: "LMT",
		Quantity: 100, OrderPrice: &price, CurrentPrice: &current,
	})
	require.NoError(t, err)
	assert.Equal(t, "ADJUST_PRICE", decision.Action)
	require.NotNil(t, decision.NewPrice)
	assert.Equal(t, 49.5, *decision.NewPrice)
}

func TestReviewOrderRejectsAdjustWithoutPrice(t *testing.T) {
	client, _ := chatServer(t, `{"action":"ADJUST_PRICE","confidence":0.8,"rationale":"move"}`)

	_, err := client.ReviewOrder(context.Background(), OrderPayload{Symbol: "AAPL"})
	var derr *DecisionError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "new_price", derr.Field)
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	old := retryDelay
	retryDelay = 10 * time.Millisecond
	t.Cleanup(func() { retryDelay = old })

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeChatReply(w, "ok")
	}))
	t.Cleanup(server.Close)

	client := New(Config{Endpoint: server.URL, Model: "m", Log: zerolog.Nop()})
	content, err := client.complete(context.Background(), "", "hello", 10)
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	client := New(Config{Endpoint: server.URL, Model: "m", Log: zerolog.Nop()})
	_, err := client.complete(context.Background(), "", "hello", 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScoreSentimentAcceptsListShape(t *testing.T) {
	client, _ := chatServer(t, `[{"symbol":"gme","sentiment":0.6,"confidence":0.7,"rationale":"bullish chatter"}]`)

	scores, err := client.ScoreSentiment(context.Background(), map[string][]string{"GME": {"to the moon"}})
	require.NoError(t, err)
	require.Contains(t, scores, "GME")
	assert.Equal(t, 0.6, scores["GME"].Sentiment)
}

func TestScoreSentimentAcceptsMapShape(t *testing.T) {
	client, _ := chatServer(t, `{"AMC":{"sentiment":-0.2,"confidence":0.5,"rationale":"mixed"}}`)

	scores, err := client.ScoreSentiment(context.Background(), map[string][]string{"AMC": {"meh"}})
	require.NoError(t, err)
	assert.Equal(t, -0.2, scores["AMC"].Sentiment)
}

func TestPromptOverridesReplaceBase(t *testing.T) {
	client := New(Config{Endpoint: "http://unused", Log: zerolog.Nop()})
	client.SetPromptOverrides(PromptOverrides{Shortlist: "Custom analyst instructions."})

	prompt := client.shortlistPrompt()
	assert.Contains(t, prompt, "Custom analyst instructions.")
	assert.Contains(t, prompt, "=== OUTPUT ===", "output schema is always appended")
	assert.NotContains(t, prompt, "YOUR TRADING STYLE")
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON(`{"a":1}`))
}
