package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/modules/research"
)

// InitializeDatabases opens all database connections and runs migrations.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	configDB, err := openDatabase(cfg.DataDir+"/config.db", database.ProfileStandard, "config")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config database: %w", err)
	}
	container.ConfigDB = configDB

	ledgerDB, err := openDatabase(cfg.DataDir+"/ledger.db", database.ProfileLedger, "ledger")
	if err != nil {
		container.CloseDatabases()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	cacheDB, err := openDatabase(cfg.DataDir+"/cache.db", database.ProfileCache, "cache")
	if err != nil {
		container.CloseDatabases()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	bars, err := research.OpenBarStore(cfg.DataDir+"/bars.db", log)
	if err != nil {
		container.CloseDatabases()
		return nil, fmt.Errorf("failed to initialize bar cache: %w", err)
	}
	container.Bars = bars

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}

func openDatabase(path string, profile database.Profile, name string) (*database.DB, error) {
	db, err := database.New(database.Config{Path: path, Profile: profile, Name: name})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}
