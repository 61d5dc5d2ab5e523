// Package di wires the application together: databases, repositories,
// services, the cycle runner, and the maintenance scheduler. The Container
// is the single source of truth for all instances; Wire builds it, main
// starts and stops the pieces that run.
package di

import (
	"github.com/aristath/helmsman/internal/backup"
	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/clients/llm"
	"github.com/aristath/helmsman/internal/cycle"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/risk"
	"github.com/aristath/helmsman/internal/modules/runtime_config"
	"github.com/aristath/helmsman/internal/modules/sentiment"
	"github.com/aristath/helmsman/internal/modules/trading"
	"github.com/aristath/helmsman/internal/scheduler"
)

// Container holds all application dependencies.
//
// Databases are split by write pattern: config.db (runtime overlay and app
// state), ledger.db (append-only trade and review history), cache.db
// (rebuildable broker snapshots and the event journal), plus the bar cache
// as its own file so a corrupt cache never threatens the ledger.
type Container struct {
	// Databases
	ConfigDB *database.DB
	LedgerDB *database.DB
	CacheDB  *database.DB
	Bars     *research.BarStore

	// Event plumbing
	Bus      *events.Bus
	Journal  *events.Repository
	Recorder *events.Recorder

	// Broker connectivity
	Bridge  *ibkr.Bridge
	ConnMgr *ibkr.ConnectionManager

	// Decision service
	Decider *llm.Client

	// Repositories
	OverlayRepo   *runtime_config.Repository
	TradeRepo     *trading.Repository
	ResearchRepo  *research.Repository
	ReviewRepo    *review.Repository
	ReviewMeta    *review.MetaStore
	PortfolioRepo *portfolio.Repository
	SentimentRepo *sentiment.Repository

	// Services
	Overlay   *runtime_config.Service
	Hours     *market_hours.Service
	Screener  *research.Screener
	Research  *research.Service
	Risk      *risk.Allocator
	Sentiment *sentiment.Service
	Portfolio *portfolio.Service
	Executor  *trading.Executor
	Review    *review.Service
	Runner    *cycle.Runner
	Backup    *backup.Service
	Scheduler *scheduler.Scheduler
}

// CloseDatabases closes every database handle, bar cache included. Safe to
// call on a partially initialized container.
func (c *Container) CloseDatabases() {
	if c.Bars != nil {
		_ = c.Bars.Close()
	}
	if c.CacheDB != nil {
		_ = c.CacheDB.Close()
	}
	if c.LedgerDB != nil {
		_ = c.LedgerDB.Close()
	}
	if c.ConfigDB != nil {
		_ = c.ConfigDB.Close()
	}
}
