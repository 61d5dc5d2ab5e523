package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/config"
)

type fakePortfolio struct {
	snapshots    int
	performances int
	err          error
}

func (f *fakePortfolio) SnapshotPortfolio() error { f.snapshots++; return f.err }
func (f *fakePortfolio) RecordPerformance() error { f.performances++; return f.err }

type fakeOverlay struct {
	cfg config.Base
	err error
}

func (f *fakeOverlay) Effective() (config.Base, error) { return f.cfg, f.err }

type fakeRefresher struct {
	calls int
	cfg   config.RedditConfig
}

func (f *fakeRefresher) RefreshIfDue(cfg config.RedditConfig, _ time.Time) (bool, error) {
	f.calls++
	f.cfg = cfg
	return true, nil
}

type fakeBars struct {
	prunedBefore time.Time
	pruneErr     error
	vacuums      int
}

func (f *fakeBars) Prune(olderThan time.Time) (int64, error) {
	f.prunedBefore = olderThan
	return 3, f.pruneErr
}

func (f *fakeBars) Vacuum() error { f.vacuums++; return nil }

type fakeJournal struct {
	gotDays int
	err     error
}

func (f *fakeJournal) PruneEvents(maxAgeDays int) (int64, error) {
	f.gotDays = maxAgeDays
	return 10, f.err
}

type fakeMentions struct {
	retention time.Duration
}

func (f *fakeMentions) Prune(retention time.Duration, _ time.Time) error {
	f.retention = retention
	return nil
}

type fakeDB struct {
	name          string
	checkpointErr error
	healthErr     error
	checkpoints   []string
	healthChecks  int
}

func (f *fakeDB) Name() string { return f.name }

func (f *fakeDB) WALCheckpoint(mode string) error {
	f.checkpoints = append(f.checkpoints, mode)
	return f.checkpointErr
}

func (f *fakeDB) HealthCheck(context.Context) error {
	f.healthChecks++
	return f.healthErr
}

type fakeBackup struct {
	runs        int
	err         error
	deadlineSet bool
}

func (f *fakeBackup) Run(ctx context.Context) error {
	f.runs++
	_, f.deadlineSet = ctx.Deadline()
	return f.err
}

func TestPortfolioJobsDelegate(t *testing.T) {
	p := &fakePortfolio{}

	require.NoError(t, NewPortfolioSnapshotJob(p).Run())
	require.NoError(t, NewPerformanceJob(p).Run())
	assert.Equal(t, 1, p.snapshots)
	assert.Equal(t, 1, p.performances)
}

func TestSentimentRefreshSkipsWhenDisabled(t *testing.T) {
	refresher := &fakeRefresher{}
	job := NewSentimentRefreshJob(&fakeOverlay{cfg: config.DefaultBase()}, refresher)

	require.NoError(t, job.Run())
	assert.Zero(t, refresher.calls)
}

func TestSentimentRefreshUsesRuntimeConfig(t *testing.T) {
	cfg := config.DefaultBase()
	cfg.Reddit.Enabled = true
	cfg.Reddit.Subreddits = []string{"stocks"}

	refresher := &fakeRefresher{}
	job := NewSentimentRefreshJob(&fakeOverlay{cfg: cfg}, refresher)

	require.NoError(t, job.Run())
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, []string{"stocks"}, refresher.cfg.Subreddits)
}

func TestSentimentRefreshPropagatesConfigError(t *testing.T) {
	job := NewSentimentRefreshJob(&fakeOverlay{err: errors.New("config unavailable")}, &fakeRefresher{})
	require.Error(t, job.Run())
}

func TestBarVacuumPrunesThenCompacts(t *testing.T) {
	bars := &fakeBars{}
	job := NewBarVacuumJob(bars, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, bars.vacuums)

	wantCutoff := time.Now().AddDate(0, 0, -barRetentionDays)
	assert.WithinDuration(t, wantCutoff, bars.prunedBefore, time.Minute)
}

func TestBarVacuumStopsOnPruneFailure(t *testing.T) {
	bars := &fakeBars{pruneErr: errors.New("database locked")}
	job := NewBarVacuumJob(bars, zerolog.Nop())

	require.Error(t, job.Run())
	assert.Zero(t, bars.vacuums)
}

func TestHousekeepingChecksEveryDatabase(t *testing.T) {
	journal := &fakeJournal{}
	mentions := &fakeMentions{}
	dbs := []*fakeDB{{name: "config"}, {name: "ledger"}, {name: "cache"}}
	job := NewHousekeepingJob(journal, mentions, []Database{dbs[0], dbs[1], dbs[2]}, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, eventRetentionDays, journal.gotDays)
	assert.Equal(t, time.Duration(sentimentRetentionDays)*24*time.Hour, mentions.retention)
	for _, db := range dbs {
		assert.Equal(t, []string{"TRUNCATE"}, db.checkpoints)
		assert.Equal(t, 1, db.healthChecks)
	}
}

func TestHousekeepingToleratesPruneAndCheckpointFailures(t *testing.T) {
	journal := &fakeJournal{err: errors.New("database locked")}
	db := &fakeDB{name: "cache", checkpointErr: errors.New("busy")}
	job := NewHousekeepingJob(journal, nil, []Database{db}, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, db.healthChecks)
}

func TestHousekeepingSurfacesCorruption(t *testing.T) {
	healthy := &fakeDB{name: "config"}
	corrupt := &fakeDB{name: "ledger", healthErr: errors.New("database disk image is malformed")}
	job := NewHousekeepingJob(&fakeJournal{}, nil, []Database{healthy, corrupt}, zerolog.Nop())

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger")
}

func TestBackupJobBoundsRuntime(t *testing.T) {
	backup := &fakeBackup{}
	job := NewBackupJob(backup)

	require.NoError(t, job.Run())
	assert.Equal(t, 1, backup.runs)
	assert.True(t, backup.deadlineSet)
}
