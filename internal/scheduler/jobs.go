package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
)

// Retention windows for stored data. Bars keep enough history for the
// longest indicator lookbacks; events and mentions are operational noise.
const (
	barRetentionDays       = 400
	eventRetentionDays     = 30
	sentimentRetentionDays = 14

	backupTimeout = 10 * time.Minute
)

// ConfigSource yields the effective runtime configuration.
type ConfigSource interface {
	Effective() (config.Base, error)
}

// PortfolioSnapshotter persists the current holdings.
type PortfolioSnapshotter interface {
	SnapshotPortfolio() error
}

// PerformanceRecorder appends an equity datapoint to the performance series.
type PerformanceRecorder interface {
	RecordPerformance() error
}

// SentimentRefresher pulls fresh Reddit mentions when the interval allows.
type SentimentRefresher interface {
	RefreshIfDue(cfg config.RedditConfig, now time.Time) (bool, error)
}

// BarPruner maintains the daily-bar cache.
type BarPruner interface {
	Prune(olderThan time.Time) (int64, error)
	Vacuum() error
}

// EventPruner drops journal rows past the retention window.
type EventPruner interface {
	PruneEvents(maxAgeDays int) (int64, error)
}

// SentimentPruner drops mention rows past the retention window.
type SentimentPruner interface {
	Prune(retention time.Duration, now time.Time) error
}

// Database is the maintenance surface of one SQLite database.
type Database interface {
	Name() string
	WALCheckpoint(mode string) error
	HealthCheck(ctx context.Context) error
}

// BackupRunner uploads the databases to object storage.
type BackupRunner interface {
	Run(ctx context.Context) error
}

// PortfolioSnapshotJob persists the current holdings snapshot.
type PortfolioSnapshotJob struct {
	portfolio PortfolioSnapshotter
}

func NewPortfolioSnapshotJob(portfolio PortfolioSnapshotter) *PortfolioSnapshotJob {
	return &PortfolioSnapshotJob{portfolio: portfolio}
}

func (j *PortfolioSnapshotJob) Name() string { return "portfolio_snapshot" }

func (j *PortfolioSnapshotJob) Run() error {
	return j.portfolio.SnapshotPortfolio()
}

// PerformanceJob records an equity and P&L datapoint for the charts.
type PerformanceJob struct {
	portfolio PerformanceRecorder
}

func NewPerformanceJob(portfolio PerformanceRecorder) *PerformanceJob {
	return &PerformanceJob{portfolio: portfolio}
}

func (j *PerformanceJob) Name() string { return "performance_record" }

func (j *PerformanceJob) Run() error {
	return j.portfolio.RecordPerformance()
}

// SentimentRefreshJob refreshes Reddit mentions between analysis cycles so
// the next cycle starts with recent data. The sentiment service enforces the
// refresh interval itself.
type SentimentRefreshJob struct {
	overlay   ConfigSource
	sentiment SentimentRefresher
}

func NewSentimentRefreshJob(overlay ConfigSource, sentiment SentimentRefresher) *SentimentRefreshJob {
	return &SentimentRefreshJob{overlay: overlay, sentiment: sentiment}
}

func (j *SentimentRefreshJob) Name() string { return "sentiment_refresh" }

func (j *SentimentRefreshJob) Run() error {
	cfg, err := j.overlay.Effective()
	if err != nil {
		return fmt.Errorf("failed to load runtime config: %w", err)
	}
	if !cfg.Reddit.Enabled {
		return nil
	}

	_, err = j.sentiment.RefreshIfDue(cfg.Reddit, time.Now())
	return err
}

// BarVacuumJob prunes stale rows from the daily-bar cache and compacts the
// file afterwards.
type BarVacuumJob struct {
	bars BarPruner
	log  zerolog.Logger
}

func NewBarVacuumJob(bars BarPruner, log zerolog.Logger) *BarVacuumJob {
	return &BarVacuumJob{bars: bars, log: log.With().Str("job", "bars_vacuum").Logger()}
}

func (j *BarVacuumJob) Name() string { return "bars_vacuum" }

func (j *BarVacuumJob) Run() error {
	olderThan := time.Now().AddDate(0, 0, -barRetentionDays)
	pruned, err := j.bars.Prune(olderThan)
	if err != nil {
		return fmt.Errorf("failed to prune bar cache: %w", err)
	}
	if pruned > 0 {
		j.log.Info().Int64("rows", pruned).Msg("Pruned stale daily bars")
	}

	return j.bars.Vacuum()
}

// HousekeepingJob trims the event journal and sentiment mentions, then
// checkpoints and integrity-checks each database. Checkpoint and prune
// failures are logged and skipped; corruption is the one error that
// surfaces, since nothing downstream can recover from it.
type HousekeepingJob struct {
	events    EventPruner
	sentiment SentimentPruner
	databases []Database
	log       zerolog.Logger
}

func NewHousekeepingJob(events EventPruner, sentiment SentimentPruner, databases []Database, log zerolog.Logger) *HousekeepingJob {
	return &HousekeepingJob{
		events:    events,
		sentiment: sentiment,
		databases: databases,
		log:       log.With().Str("job", "housekeeping").Logger(),
	}
}

func (j *HousekeepingJob) Name() string { return "housekeeping" }

func (j *HousekeepingJob) Run() error {
	if pruned, err := j.events.PruneEvents(eventRetentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Failed to prune event journal")
	} else if pruned > 0 {
		j.log.Info().Int64("rows", pruned).Msg("Pruned old events")
	}

	if j.sentiment != nil {
		retention := time.Duration(sentimentRetentionDays) * 24 * time.Hour
		if err := j.sentiment.Prune(retention, time.Now()); err != nil {
			j.log.Warn().Err(err).Msg("Failed to prune sentiment mentions")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database integrity check failed")
			return fmt.Errorf("database %s failed integrity check: %w", db.Name(), err)
		}
		j.log.Debug().Str("database", db.Name()).Msg("Database integrity OK")
	}

	return nil
}

// BackupJob uploads the databases to object storage.
type BackupJob struct {
	backup BackupRunner
}

func NewBackupJob(backup BackupRunner) *BackupJob {
	return &BackupJob{backup: backup}
}

func (j *BackupJob) Name() string { return "s3_backup" }

func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()
	return j.backup.Run(ctx)
}
