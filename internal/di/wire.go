package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
)

// Wire builds the full dependency container: databases, repositories,
// services, and scheduled jobs, in that order. Nothing is started; main
// owns the lifecycle of the pieces that run.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := InitializeRepositories(container, log); err != nil {
		container.CloseDatabases()
		return nil, err
	}

	if err := InitializeServices(container, cfg, log); err != nil {
		container.CloseDatabases()
		return nil, err
	}

	if err := RegisterJobs(container, log); err != nil {
		container.CloseDatabases()
		return nil, err
	}

	log.Info().Msg("Dependency wiring completed")
	return container, nil
}
