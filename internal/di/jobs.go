package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/scheduler"
)

// Job schedules, cron format with seconds.
const (
	snapshotSchedule     = "0 */5 * * * *"  // every 5 minutes
	performanceSchedule  = "0 1 * * * *"    // hourly at hh:01
	sentimentSchedule    = "0 */10 * * * *" // every 10 minutes
	housekeepingSchedule = "0 0 2 * * *"    // daily at 02:00
	barVacuumSchedule    = "0 30 2 * * *"   // daily at 02:30, after housekeeping prunes
	backupSchedule       = "0 0 3 * * *"    // daily at 03:00
)

// RegisterJobs creates the scheduler and registers all periodic jobs.
// Must be called after InitializeServices.
func RegisterJobs(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container is nil, call InitializeDatabases first")
	}

	sched := scheduler.New(container.Bus, log)

	if err := sched.AddJob(snapshotSchedule, scheduler.NewPortfolioSnapshotJob(container.Portfolio)); err != nil {
		return fmt.Errorf("failed to register portfolio snapshot job: %w", err)
	}
	if err := sched.AddJob(performanceSchedule, scheduler.NewPerformanceJob(container.Portfolio)); err != nil {
		return fmt.Errorf("failed to register performance job: %w", err)
	}
	if err := sched.AddJob(sentimentSchedule, scheduler.NewSentimentRefreshJob(container.Overlay, container.Sentiment)); err != nil {
		return fmt.Errorf("failed to register sentiment refresh job: %w", err)
	}
	if err := sched.AddJob(housekeepingSchedule, scheduler.NewHousekeepingJob(
		container.Journal,
		container.Sentiment,
		[]scheduler.Database{container.ConfigDB, container.LedgerDB, container.CacheDB},
		log,
	)); err != nil {
		return fmt.Errorf("failed to register housekeeping job: %w", err)
	}
	if err := sched.AddJob(barVacuumSchedule, scheduler.NewBarVacuumJob(container.Bars, log)); err != nil {
		return fmt.Errorf("failed to register bar vacuum job: %w", err)
	}
	if container.Backup.Enabled() {
		if err := sched.AddJob(backupSchedule, scheduler.NewBackupJob(container.Backup)); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
	} else {
		log.Info().Msg("Object-storage backups disabled (no bucket configured)")
	}

	container.Scheduler = sched
	log.Info().Msg("Scheduled jobs registered")
	return nil
}
