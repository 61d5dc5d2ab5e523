// Package cycle drives the trading loop. One iteration loads the runtime
// configuration, runs the safety net and the review passes, builds the
// candidate universe, researches and ranks every candidate, asks the
// decision service which shortlisted ones to buy, and executes the picks
// sequentially against the per-currency budgets. The Runner owns the pacing
// between iterations; everything it calls is injected so the loop itself
// stays free of broker and database specifics.
package cycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/llm"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/risk"
	"github.com/aristath/helmsman/internal/modules/sentiment"
	"github.com/aristath/helmsman/internal/modules/trading"
)

const (
	// pausedRetryInterval paces iterations while trading is paused or the
	// runtime config is unusable. Short, so a fix takes effect quickly.
	pausedRetryInterval = 60 * time.Second

	// redditUniverseLimit caps how many most-mentioned symbols can augment
	// the scanner universe in one iteration.
	redditUniverseLimit = 50

	// topCandidateKeep is how many ranked candidates are cached for the
	// review passes and the dashboard.
	topCandidateKeep = 10
)

// ConfigSource yields the effective runtime configuration and the manual
// pause flag. Both reads can fail; a failed read must stop trading for the
// iteration, never default it.
type ConfigSource interface {
	Effective() (config.Base, error)
	Paused() (bool, error)
}

// Broker is the account surface the loop reads directly. Order placement
// goes through the OrderExecutor instead.
type Broker interface {
	AccountValues() ([]domain.AccountValue, error)
	Positions() ([]domain.Position, error)
}

// Screener produces the candidate universe for one iteration.
type Screener interface {
	Candidates(cfg config.TradingConfig) []domain.Candidate
	Augment(existing []domain.Candidate, symbols []string, cfg config.TradingConfig) []domain.Candidate
}

// Researcher scores a single candidate and reports the index market context.
type Researcher interface {
	Research(ctx context.Context, cand domain.Candidate, cc *research.CycleContext) domain.Candidate
	MarketContext() map[string]interface{}
}

// Reviewer runs the position and order review passes.
type Reviewer interface {
	ReviewPositions(ctx context.Context, rc *review.ReviewContext) []review.PositionOutcome
	ReviewOrders(ctx context.Context, rc *review.ReviewContext) []review.OrderOutcome
}

// SentimentSource feeds Reddit-derived signals into the universe and the
// research context. The Runner treats it as optional.
type SentimentSource interface {
	RefreshIfDue(cfg config.RedditConfig, now time.Time) (bool, error)
	AnalyseIfDue(ctx context.Context, symbols []string, cfg config.RedditConfig, now time.Time) (int, error)
	Latest() ([]sentiment.SymbolSentiment, error)
	TopSymbols(limit int) ([]string, error)
}

// PortfolioRecorder persists equity history and portfolio snapshots once per
// iteration. Optional; recording failures never block trading.
type PortfolioRecorder interface {
	RecordPerformance() error
	SnapshotPortfolio() error
}

// OrderExecutor is the trading surface: the safety nets, the near-close
// flatten, and bracket submission.
type OrderExecutor interface {
	CancelOrphanedSellOrders() (int, error)
	CloseShortPositions() (int, error)
	FlattenNearClose(minutesBefore int, now time.Time) int
	ExecuteBuy(req trading.BracketRequest) (*trading.BracketResult, error)
}

// BuySelector picks which shortlisted candidates to buy this iteration.
type BuySelector interface {
	SelectBuys(ctx context.Context, candidates []llm.ShortlistedCandidate, maxNew int, budgetRemaining map[string]float64, marketContext map[string]interface{}) (*llm.BuySelection, error)
}

// DecisionTuner receives the effective AI settings each iteration, so
// overlay edits to the model or the system prompts apply without a restart.
type DecisionTuner interface {
	SetModel(model string)
	SetPromptOverrides(o llm.PromptOverrides)
}

// RunnerConfig wires the Runner's collaborators.
type RunnerConfig struct {
	Overlay      ConfigSource
	Broker       Broker
	Screener     Screener
	Research     Researcher
	Review       Reviewer
	Sentiment    SentimentSource   // nil disables Reddit sourcing
	Portfolio    PortfolioRecorder // nil disables snapshots
	Executor     OrderExecutor
	Selector     BuySelector
	Tuner        DecisionTuner // nil leaves the decision client's defaults
	Risk         *risk.Allocator
	ResearchRepo *research.Repository
	Trades       *trading.Repository
	Hours        *market_hours.Service
	Bus          *events.Bus
	Log          zerolog.Logger
}

// Runner is the cycle loop. Start launches it, Stop tears it down, Trigger
// wakes it early. All iteration state lives on the run goroutine.
type Runner struct {
	overlay      ConfigSource
	broker       Broker
	screener     Screener
	research     Researcher
	review       Reviewer
	sentiment    SentimentSource
	portfolio    PortfolioRecorder
	executor     OrderExecutor
	selector     BuySelector
	tuner        DecisionTuner
	risk         *risk.Allocator
	researchRepo *research.Repository
	trades       *trading.Repository
	hours        *market_hours.Service
	bus          *events.Bus
	log          zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	trigger chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	// Touched only from the run goroutine.
	lastReview    time.Time
	topCandidates []research.TopCandidate
	marketContext map[string]interface{}
}

// NewRunner builds a Runner. Call Start to begin iterating.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		overlay:      cfg.Overlay,
		broker:       cfg.Broker,
		screener:     cfg.Screener,
		research:     cfg.Research,
		review:       cfg.Review,
		sentiment:    cfg.Sentiment,
		portfolio:    cfg.Portfolio,
		executor:     cfg.Executor,
		selector:     cfg.Selector,
		tuner:        cfg.Tuner,
		risk:         cfg.Risk,
		researchRepo: cfg.ResearchRepo,
		trades:       cfg.Trades,
		hours:        cfg.Hours,
		bus:          cfg.Bus,
		log:          cfg.Log.With().Str("module", "cycle").Logger(),
		trigger:      make(chan struct{}, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Start launches the loop. The first iteration begins immediately.
func (r *Runner) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	go r.run()
	r.log.Info().Msg("Cycle runner started")
}

// Stop cancels in-flight work and waits for the loop to exit.
func (r *Runner) Stop() {
	r.cancel()
	close(r.stop)
	<-r.stopped
	r.log.Info().Msg("Cycle runner stopped")
}

// Trigger requests an immediate iteration. It never doubles one up: when the
// loop is mid-iteration the request only cuts the following sleep short.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Runner) run() {
	defer close(r.stopped)
	for {
		delay := r.iterate(r.ctx, time.Now())
		if !r.pause(delay) {
			return
		}
	}
}

// pause sleeps between iterations. It returns false when the runner is
// stopping, true when the next iteration should start.
func (r *Runner) pause(delay time.Duration) bool {
	if delay <= 0 {
		select {
		case <-r.stop:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-r.stop:
		return false
	case <-r.trigger:
		r.log.Info().Msg("Cycle triggered manually")
		return true
	case <-timer.C:
		return true
	}
}

// stopping reports whether Stop has been called, without blocking.
func (r *Runner) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// step publishes a live-status update. The event recorder turns these into
// the dashboard's "what is it doing right now" line.
func (r *Runner) step(cycleID, symbol, detail string) {
	if r.bus == nil {
		return
	}
	r.bus.Emit("cycle", &events.StepData{CycleID: cycleID, Step: detail, Symbol: symbol})
}

func (r *Runner) emitCycle(data *events.CycleData) {
	if r.bus == nil {
		return
	}
	r.bus.Emit("cycle", data)
}
