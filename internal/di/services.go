package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/backup"
	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/clients/ibkr/gateway"
	"github.com/aristath/helmsman/internal/clients/llm"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/cycle"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/risk"
	"github.com/aristath/helmsman/internal/modules/runtime_config"
	"github.com/aristath/helmsman/internal/modules/sentiment"
	"github.com/aristath/helmsman/internal/modules/trading"
)

// InitializeServices creates all services using the repositories in the
// container. Must be called after InitializeRepositories.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container is nil, call InitializeDatabases first")
	}

	base, err := config.LoadBase(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load base config: %w", err)
	}

	container.Bus = events.NewBus()
	container.Recorder = events.NewRecorder(container.Journal, log)

	container.Overlay = runtime_config.NewService(container.OverlayRepo, base, container.Bus, log)
	container.Hours = market_hours.NewService()

	session := gateway.New(gateway.Config{
		BaseURL:  cfg.Gateway.BaseURL,
		Account:  cfg.Gateway.Account,
		Insecure: cfg.Gateway.Insecure,
		Log:      log,
	})
	container.Bridge = ibkr.New(ibkr.Config{
		Session: session,
		Log:     log,
		Bus:     container.Bus,
	})
	container.ConnMgr = ibkr.NewConnectionManager(container.Bridge, log)

	// The base config's model wins at construction; overlay edits to
	// ai.model reach the client later through the cycle's tuner hook.
	model := cfg.LLM.Model
	if base.AI.Model != "" {
		model = base.AI.Model
	}
	container.Decider = llm.New(llm.Config{
		Endpoint: cfg.LLM.Endpoint,
		Model:    model,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  time.Duration(cfg.LLM.TimeoutS) * time.Second,
		Log:      log,
	})

	analyser := research.NewAnalyser(log)
	container.Screener = research.NewScreener(container.Bridge, log)
	container.Research = research.NewService(research.ServiceConfig{
		Broker:   container.Bridge,
		Decider:  container.Decider,
		Analyser: analyser,
		Repo:     container.ResearchRepo,
		BarStore: container.Bars,
		Hours:    container.Hours,
		Bus:      container.Bus,
		Log:      log,
	})

	container.Risk = risk.NewAllocator(log)

	redditClient := sentiment.NewClient(base.Reddit.UserAgent, log)
	container.Sentiment = sentiment.NewService(redditClient, container.Decider, container.SentimentRepo, container.Bus, log)

	container.Portfolio = portfolio.NewService(container.Bridge, container.PortfolioRepo, log)

	container.Executor = trading.NewExecutor(trading.ExecutorConfig{
		Broker: container.Bridge,
		Hours:  container.Hours,
		Repo:   container.TradeRepo,
		Bus:    container.Bus,
		Log:    log,
	})

	container.Review = review.NewService(review.ServiceConfig{
		Broker:    container.Bridge,
		Executor:  container.Executor,
		Decider:   container.Decider,
		Analyser:  analyser,
		Meta:      container.ReviewMeta,
		Repo:      container.ReviewRepo,
		Trades:    container.TradeRepo,
		Sentiment: container.SentimentRepo,
		Bus:       container.Bus,
		Log:       log,
	})

	container.Runner = cycle.NewRunner(cycle.RunnerConfig{
		Overlay:      container.Overlay,
		Broker:       container.Bridge,
		Screener:     container.Screener,
		Research:     container.Research,
		Review:       container.Review,
		Sentiment:    container.Sentiment,
		Portfolio:    container.Portfolio,
		Executor:     container.Executor,
		Selector:     container.Decider,
		Tuner:        container.Decider,
		Risk:         container.Risk,
		ResearchRepo: container.ResearchRepo,
		Trades:       container.TradeRepo,
		Hours:        container.Hours,
		Bus:          container.Bus,
		Log:          log,
	})

	container.Backup, err = backup.New(context.Background(), cfg.Backup, cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("failed to initialize backup service: %w", err)
	}

	log.Info().Msg("Services initialized")
	return nil
}
