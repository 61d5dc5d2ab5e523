package runtime_config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/helmsman/internal/testing"
)

func TestRepositoryLoadMissingRow(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "config")
	defer cleanup()

	repo := NewRepository(db, zerolog.Nop())

	_, err := repo.Load()
	require.Error(t, err)
	assert.Equal(t, "runtime_config row (id=1) not found", err.Error())
}

func TestRepositoryLoadRejectsCorruptJSON(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "config")
	defer cleanup()

	_, err := db.Conn().Exec(`INSERT INTO runtime_config (id, config_json) VALUES (1, 'not json')`)
	require.NoError(t, err)

	repo := NewRepository(db, zerolog.Nop())

	_, err = repo.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestRepositoryEnsureDefaultSeedsOnce(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "config")
	defer cleanup()

	repo := NewRepository(db, zerolog.Nop())

	require.NoError(t, repo.EnsureDefault())

	doc, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultStrategyName, doc.ActiveStrategy)

	// Seeding again must not clobber a stored document
	doc.ActiveStrategy = "Custom"
	doc.Strategies = append(doc.Strategies, Strategy{Name: "Custom", Overrides: map[string]interface{}{}})
	require.NoError(t, repo.Save(doc))
	require.NoError(t, repo.EnsureDefault())

	reloaded, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, "Custom", reloaded.ActiveStrategy)
}

func TestRepositorySaveLoadRoundTrip(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "config")
	defer cleanup()

	repo := NewRepository(db, zerolog.Nop())

	doc := DefaultDocument()
	doc.Overrides = map[string]interface{}{
		"trading": map[string]interface{}{"max_positions": 4.0},
	}
	require.NoError(t, repo.Save(doc))

	got, err := repo.Load()
	require.NoError(t, err)

	trading := got.Overrides["trading"].(map[string]interface{})
	assert.Equal(t, 4.0, trading["max_positions"])
	require.Len(t, got.Strategies, 1)
	assert.Equal(t, DefaultStrategyName, got.Strategies[0].Name)
}

func TestRepositoryPausedFlag(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "config")
	defer cleanup()

	repo := NewRepository(db, zerolog.Nop())

	paused, err := repo.Paused()
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, repo.SetPaused(true))
	paused, err = repo.Paused()
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, repo.SetPaused(false))
	paused, err = repo.Paused()
	require.NoError(t, err)
	assert.False(t, paused)
}
