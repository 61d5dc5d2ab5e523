// Package server is the dashboard HTTP API: loop and system status, the
// journal and live-status feeds, portfolio snapshots, and the runtime
// config editor.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/runtime_config"
	"github.com/aristath/helmsman/internal/modules/trading"
)

// CycleTrigger kicks the analysis loop outside its schedule.
type CycleTrigger interface {
	Trigger()
}

// Connectivity reports broker session health.
type Connectivity interface {
	IsConnected() bool
}

// Config holds everything the server serves from.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool
	DataDir string

	Overlay   *runtime_config.Service
	Runner    CycleTrigger
	Bridge    Connectivity
	Hours     *market_hours.Service
	Journal   *events.Repository
	Trades    *trading.Repository
	Research  *research.Repository
	Portfolio *portfolio.Repository
	Reviews   *review.Repository
}

// Server is the dashboard HTTP server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     Config
	started time.Time
}

// New creates the HTTP server and mounts all routes.
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		started: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	// WriteTimeout stays off so the SSE stream is not cut; API routes get
	// their own timeout middleware instead.
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// SSE connections are long-lived; the timeout middleware would
		// sever them.
		stream := NewEventsStreamHandler(s.cfg.Journal, s.log)
		r.Get("/events/stream", stream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/status", s.handleStatus)
			r.Get("/system/status", s.handleSystemStatus)

			r.Post("/cycle/trigger", s.handleCycleTrigger)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Get("/runtime-config", s.handleGetRuntimeConfig)
			r.Put("/runtime-config", s.handlePutRuntimeConfig)

			r.Get("/trades", s.handleTrades)
			r.Get("/research", s.handleResearch)
			r.Get("/performance", s.handlePerformance)
			r.Get("/events", s.handleEvents)
			r.Get("/live-status", s.handleLiveStatus)
			r.Get("/positions", s.handlePositions)
			r.Get("/open-orders", s.handleOpenOrders)
			r.Get("/account-summary", s.handleAccountSummary)
			r.Get("/position-reviews", s.handlePositionReviews)
			r.Get("/order-reviews", s.handleOrderReviews)
		})
	})
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs every request with its status and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
