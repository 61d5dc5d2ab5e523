package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/events"
	testingpkg "github.com/aristath/helmsman/internal/testing"
)

func newStreamFixture(t *testing.T) (*EventsStreamHandler, *events.Repository) {
	t.Helper()
	cacheDB, cleanup := testingpkg.NewTestDB(t, "cache")
	t.Cleanup(cleanup)
	journal := events.NewRepository(cacheDB, zerolog.Nop())
	return NewEventsStreamHandler(journal, zerolog.Nop()), journal
}

// serveStream runs the handler until the request context expires and returns
// the recorded response. The poll interval is longer than the deadline, so
// only the initial backlog push contributes rows.
func serveStream(t *testing.T, h *EventsStreamHandler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStreamPushesBacklog(t *testing.T) {
	h, journal := newStreamFixture(t)

	first, err := journal.InsertEvent("INFO", "", "Cycle", "cycle started")
	require.NoError(t, err)
	second, err := journal.InsertEvent("INFO", "AAPL", "Order", "order placed")
	require.NoError(t, err)

	rec := serveStream(t, h, "/api/events/stream?after_id=0", nil)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `data: {"type":"connected"}`)
	assert.Contains(t, body, fmt.Sprintf("id: %d\n", first))
	assert.Contains(t, body, fmt.Sprintf("id: %d\n", second))
	assert.Contains(t, body, "cycle started")
	assert.Contains(t, body, "order placed")
}

func TestStreamResumesFromLastEventID(t *testing.T) {
	h, journal := newStreamFixture(t)

	first, err := journal.InsertEvent("INFO", "", "Cycle", "cycle started")
	require.NoError(t, err)
	second, err := journal.InsertEvent("ERROR", "AAPL", "Order", "order rejected")
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Last-Event-ID", fmt.Sprintf("%d", first))
	rec := serveStream(t, h, "/api/events/stream", header)

	body := rec.Body.String()
	assert.Contains(t, body, fmt.Sprintf("id: %d\n", second))
	assert.NotContains(t, body, fmt.Sprintf("id: %d\n", first))
}

func TestStreamWithoutCursorSkipsHistory(t *testing.T) {
	h, journal := newStreamFixture(t)

	_, err := journal.InsertEvent("INFO", "", "Cycle", "old news")
	require.NoError(t, err)

	rec := serveStream(t, h, "/api/events/stream", nil)

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"type":"connected"}`)
	assert.NotContains(t, body, "id: ")
	assert.NotContains(t, body, "old news")
}

func TestStreamRejectsBadCursor(t *testing.T) {
	h, _ := newStreamFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events/stream?after_id=abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
