package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/runtime_config"
	"github.com/aristath/helmsman/internal/modules/trading"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "helmsman",
		"version": "1.0.0",
	})
}

// statusResponse is the dashboard's top bar: loop state, broker
// connectivity and the configured markets.
type statusResponse struct {
	Paused         bool                         `json:"paused"`
	IBKRConnected  bool                         `json:"ibkr_connected"`
	ActiveStrategy string                       `json:"active_strategy,omitempty"`
	ConfigError    string                       `json:"config_error,omitempty"`
	Markets        []*market_hours.MarketStatus `json:"markets"`
	Live           *events.LiveStatus           `json:"live,omitempty"`
	UptimeSeconds  float64                      `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		IBKRConnected: s.cfg.Bridge != nil && s.cfg.Bridge.IsConnected(),
		Markets:       []*market_hours.MarketStatus{},
		UptimeSeconds: time.Since(s.started).Seconds(),
	}

	paused, err := s.cfg.Overlay.Paused()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read paused flag")
		s.writeError(w, http.StatusInternalServerError, "Failed to read paused flag")
		return
	}
	resp.Paused = paused

	if doc, err := s.cfg.Overlay.Document(); err == nil {
		resp.ActiveStrategy = doc.ActiveStrategy
	}

	// An invalid overlay pauses trading but must not blank the status
	// page; the operator fixes it from here.
	cfg, err := s.cfg.Overlay.Effective()
	if err != nil {
		resp.ConfigError = err.Error()
	} else {
		now := time.Now()
		for _, code := range cfg.Trading.Markets {
			if st, err := s.cfg.Hours.Status(code, now); err == nil {
				resp.Markets = append(resp.Markets, st)
			}
		}
	}

	if live, err := s.cfg.Journal.GetLiveStatus(); err == nil && live != nil {
		resp.Live = live
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCycleTrigger(w http.ResponseWriter, r *http.Request) {
	s.cfg.Runner.Trigger()
	s.log.Info().Msg("Manual cycle trigger requested")
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Cycle triggered",
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "Paused via dashboard"
	}

	if err := s.cfg.Overlay.Pause(body.Reason); err != nil {
		s.log.Error().Err(err).Msg("Failed to pause trading")
		s.writeError(w, http.StatusInternalServerError, "Failed to pause trading")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Overlay.Resume(); err != nil {
		s.log.Error().Err(err).Msg("Failed to resume trading")
		s.writeError(w, http.StatusInternalServerError, "Failed to resume trading")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleGetRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := s.cfg.Overlay.Document()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load runtime config")
		s.writeError(w, http.StatusInternalServerError, "Failed to load runtime config")
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePutRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	var doc runtime_config.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	// Validation failures name the offending key; pass them through.
	updated, err := s.cfg.Overlay.Update(&doc)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	symbol := r.URL.Query().Get("symbol")

	var (
		rows []trading.Trade
		err  error
	)
	if symbol != "" {
		rows, err = s.cfg.Trades.BySymbol(symbol, limit)
	} else {
		rows, err = s.cfg.Trades.Recent(limit)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load trades")
		s.writeError(w, http.StatusInternalServerError, "Failed to load trades")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	symbol := r.URL.Query().Get("symbol")

	var (
		rows []research.Record
		err  error
	)
	if symbol != "" {
		rows, err = s.cfg.Research.BySymbol(symbol, limit)
	} else {
		rows, err = s.cfg.Research.Recent(limit)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load research log")
		s.writeError(w, http.StatusInternalServerError, "Failed to load research log")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 500)

	history, err := s.cfg.Portfolio.PerformanceHistory(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load performance history")
		s.writeError(w, http.StatusInternalServerError, "Failed to load performance history")
		return
	}
	summary, err := s.cfg.Portfolio.PerformanceSummary()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load performance summary")
		s.writeError(w, http.StatusInternalServerError, "Failed to load performance summary")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"summary": summary,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 200)

	var (
		rows []events.EventRow
		err  error
	)
	if after := r.URL.Query().Get("after_id"); after != "" {
		afterID, perr := strconv.ParseInt(after, 10, 64)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid after_id")
			return
		}
		rows, err = s.cfg.Journal.EventsAfter(afterID, limit)
	} else {
		rows, err = s.cfg.Journal.RecentEvents(limit)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load events")
		s.writeError(w, http.StatusInternalServerError, "Failed to load events")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	live, err := s.cfg.Journal.GetLiveStatus()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load live status")
		s.writeError(w, http.StatusInternalServerError, "Failed to load live status")
		return
	}
	if live == nil {
		live = &events.LiveStatus{}
	}
	s.writeJSON(w, http.StatusOK, live)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.cfg.Portfolio.Positions()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load positions")
		s.writeError(w, http.StatusInternalServerError, "Failed to load positions")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	rows, err := s.cfg.Portfolio.OpenOrders()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load open orders")
		s.writeError(w, http.StatusInternalServerError, "Failed to load open orders")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := s.cfg.Portfolio.AccountSummary()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load account summary")
		s.writeError(w, http.StatusInternalServerError, "Failed to load account summary")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePositionReviews(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	symbol := r.URL.Query().Get("symbol")

	var (
		rows []review.PositionReview
		err  error
	)
	if symbol != "" {
		rows, err = s.cfg.Reviews.PositionReviewsBySymbol(symbol, limit)
	} else {
		rows, err = s.cfg.Reviews.RecentPositionReviews(limit)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load position reviews")
		s.writeError(w, http.StatusInternalServerError, "Failed to load position reviews")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleOrderReviews(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	symbol := r.URL.Query().Get("symbol")

	var (
		rows []review.OrderReview
		err  error
	)
	if symbol != "" {
		rows, err = s.cfg.Reviews.OrderReviewsBySymbol(symbol, limit)
	} else {
		rows, err = s.cfg.Reviews.RecentOrderReviews(limit)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load order reviews")
		s.writeError(w, http.StatusInternalServerError, "Failed to load order reviews")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// queryLimit parses ?limit=N, clamped to a sane ceiling.
func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > 1000 {
		return 1000
	}
	return n
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
