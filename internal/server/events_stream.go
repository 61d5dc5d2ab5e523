package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/events"
)

const (
	streamPollInterval = 2 * time.Second
	streamHeartbeat    = 30 * time.Second
	streamBatchLimit   = 100
)

// EventsStreamHandler streams journal rows over Server-Sent Events. Every
// message carries the row's id, so a reconnecting client resumes from its
// Last-Event-ID (or an explicit after_id) without gaps or duplicates.
type EventsStreamHandler struct {
	journal *events.Repository
	log     zerolog.Logger
}

// NewEventsStreamHandler creates the SSE handler.
func NewEventsStreamHandler(journal *events.Repository, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		journal: journal,
		log:     log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	cursor, err := h.cursor(r)
	if err != nil {
		http.Error(w, "Invalid after_id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.log.Info().Int64("cursor", cursor).Msg("Client connected to event stream")

	fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	// Backlog first, then poll.
	cursor = h.push(w, flusher, cursor)

	poll := time.NewTicker(streamPollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	done := r.Context().Done()

	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case <-poll.C:
			cursor = h.push(w, flusher, cursor)

		case <-heartbeat.C:
			fmt.Fprint(w, "data: {\"type\":\"heartbeat\"}\n\n")
			flusher.Flush()
		}
	}
}

// cursor resolves the starting row id. Reconnects send Last-Event-ID; an
// explicit after_id wins on first connect; with neither, only rows created
// after connect are streamed.
func (h *EventsStreamHandler) cursor(r *http.Request) (int64, error) {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		return strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("after_id"); v != "" {
		return strconv.ParseInt(v, 10, 64)
	}

	latest, err := h.journal.LatestEventID()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read latest event id")
		return 0, nil
	}
	return latest, nil
}

func (h *EventsStreamHandler) push(w http.ResponseWriter, flusher http.Flusher, cursor int64) int64 {
	rows, err := h.journal.EventsAfter(cursor, streamBatchLimit)
	if err != nil {
		h.log.Warn().Err(err).Msg("Event stream query failed")
		return cursor
	}
	if len(rows) == 0 {
		return cursor
	}

	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			h.log.Error().Err(err).Int64("id", row.ID).Msg("Failed to encode event row")
			continue
		}
		fmt.Fprintf(w, "id: %d\ndata: %s\n\n", row.ID, data)
		cursor = row.ID
	}
	flusher.Flush()
	return cursor
}
