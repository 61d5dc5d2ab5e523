package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/database"
	testingpkg "github.com/aristath/helmsman/internal/testing"
)

func newTestEventRepo(t *testing.T) (*Repository, *database.DB, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	return NewRepository(db, zerolog.Nop()), db, cleanup
}

func TestInsertAndRecentEvents(t *testing.T) {
	repo, _, cleanup := newTestEventRepo(t)
	defer cleanup()

	id1, err := repo.InsertEvent("INFO", "AAPL", "Research", "BUY: momentum intact")
	require.NoError(t, err)
	id2, err := repo.InsertEvent("ERROR", "", "Cycle", "Cycle failed: no candidates")
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	rows, err := repo.RecentEvents(0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Newest first.
	assert.Equal(t, id2, rows[0].ID)
	assert.Equal(t, "ERROR", rows[0].Level)
	assert.Empty(t, rows[0].Symbol)
	assert.Equal(t, "Cycle", rows[0].Step)
	assert.Equal(t, "Cycle failed: no candidates", rows[0].Message)
	assert.False(t, rows[0].CreatedAt.IsZero())

	assert.Equal(t, "AAPL", rows[1].Symbol)
	assert.Equal(t, "Research", rows[1].Step)
}

func TestEventsAfterCursor(t *testing.T) {
	repo, _, cleanup := newTestEventRepo(t)
	defer cleanup()

	id1, err := repo.InsertEvent("INFO", "", "Cycle", "Cycle started")
	require.NoError(t, err)
	id2, err := repo.InsertEvent("INFO", "AAPL", "Trade", "BUY 100 @ 55.25")
	require.NoError(t, err)
	id3, err := repo.InsertEvent("INFO", "", "Cycle", "Cycle completed: 12 candidates, 1 buys (40.2s)")
	require.NoError(t, err)

	rows, err := repo.EventsAfter(id1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, id2, rows[0].ID) // ascending beyond the cursor
	assert.Equal(t, id3, rows[1].ID)

	rows, err = repo.EventsAfter(id3, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	latest, err := repo.LatestEventID()
	require.NoError(t, err)
	assert.Equal(t, id3, latest)
}

func TestLatestEventIDEmptyStream(t *testing.T) {
	repo, _, cleanup := newTestEventRepo(t)
	defer cleanup()

	latest, err := repo.LatestEventID()
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)
}

func TestLiveStatusUpsert(t *testing.T) {
	repo, _, cleanup := newTestEventRepo(t)
	defer cleanup()

	status, err := repo.GetLiveStatus()
	require.NoError(t, err)
	assert.Nil(t, status)

	require.NoError(t, repo.UpdateLiveStatus("AAPL", "Research"))
	status, err = repo.GetLiveStatus()
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "AAPL", status.Symbol)
	assert.Equal(t, "Research", status.Step)
	assert.False(t, status.UpdatedAt.IsZero())

	require.NoError(t, repo.UpdateLiveStatus("", "Sleeping"))
	status, err = repo.GetLiveStatus()
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Empty(t, status.Symbol)
	assert.Equal(t, "Sleeping", status.Step)
}

func TestPruneEventsByAge(t *testing.T) {
	repo, db, cleanup := newTestEventRepo(t)
	defer cleanup()

	_, err := repo.InsertEvent("INFO", "", "Cycle", "fresh")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO event_stream (level, message, created_at)
		VALUES ('INFO', 'stale', datetime('now', '-40 days'))`)
	require.NoError(t, err)

	pruned, err := repo.PruneEvents(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	rows, err := repo.RecentEvents(0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "fresh", rows[0].Message)

	pruned, err = repo.PruneEvents(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pruned)
}
