package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/runtime_config"
	"github.com/aristath/helmsman/internal/modules/sentiment"
	"github.com/aristath/helmsman/internal/modules/trading"
)

// InitializeRepositories creates all repositories using the databases in the
// container. Must be called after InitializeDatabases.
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container is nil, call InitializeDatabases first")
	}

	container.Journal = events.NewRepository(container.CacheDB, log)

	container.OverlayRepo = runtime_config.NewRepository(container.ConfigDB, log)
	if err := container.OverlayRepo.EnsureDefault(); err != nil {
		return fmt.Errorf("failed to seed runtime config: %w", err)
	}

	container.TradeRepo = trading.NewRepository(container.LedgerDB, log)
	container.ResearchRepo = research.NewRepository(container.LedgerDB, log)
	container.ReviewRepo = review.NewRepository(container.LedgerDB, log)

	container.ReviewMeta = review.NewMetaStore(container.CacheDB, log)
	container.PortfolioRepo = portfolio.NewRepository(container.CacheDB, log)
	container.SentimentRepo = sentiment.NewRepository(container.CacheDB, log)

	log.Info().Msg("Repositories initialized")
	return nil
}
