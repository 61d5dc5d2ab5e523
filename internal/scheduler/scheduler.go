// Package scheduler runs recurring maintenance jobs on cron schedules and
// reports every outcome on the event bus.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/events"
)

// Job is a unit of recurring work.
type Job interface {
	Name() string
	Run() error
}

// Scheduler wraps a seconds-resolution cron runner.
type Scheduler struct {
	cron *cron.Cron
	bus  *events.Bus
	log  zerolog.Logger
}

// New creates a scheduler. Schedules use the six-field cron syntax with a
// leading seconds field.
func New(bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		bus:  bus,
		log:  log.With().Str("module", "scheduler").Logger(),
	}
}

// AddJob registers a job on the given schedule.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.execute(job)
	})
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
	}

	s.log.Info().
		Str("job", job.Name()).
		Str("schedule", schedule).
		Msg("Job registered")
	return nil
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) {
	go s.execute(job)
}

func (s *Scheduler) execute(job Job) {
	started := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("Running job")
	s.bus.Emit("scheduler", &events.JobStatusData{
		JobName:   job.Name(),
		Status:    "started",
		Timestamp: started.UTC(),
	})

	if err := job.Run(); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		s.bus.Emit("scheduler", &events.JobStatusData{
			JobName:   job.Name(),
			Status:    "failed",
			Error:     err.Error(),
			Duration:  time.Since(started).Seconds(),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	s.log.Debug().
		Str("job", job.Name()).
		Dur("duration", time.Since(started)).
		Msg("Job completed")
	s.bus.Emit("scheduler", &events.JobStatusData{
		JobName:   job.Name(),
		Status:    "completed",
		Duration:  time.Since(started).Seconds(),
		Timestamp: time.Now().UTC(),
	})
}
