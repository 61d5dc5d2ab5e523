package runtime_config

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
)

// pausedKey is the app_state row holding the manual trading kill switch.
const pausedKey = "trading_paused"

// Repository persists the runtime config document and the app-state flags
// in config.db. Loads raise on any problem: a broken overlay must pause
// trading, never silently fall back.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a runtime config repository on config.db.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "runtime_config").Logger(),
	}
}

// Load reads the singleton document. Missing row, null JSON and parse
// failures are all errors.
func (r *Repository) Load() (*Document, error) {
	var raw string
	err := r.db.QueryRow("SELECT config_json FROM runtime_config WHERE id = 1").Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("runtime_config row (id=1) not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime config: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("runtime_config.config_json is not valid JSON: %w", err)
	}
	return &doc, nil
}

// Save replaces the singleton document.
func (r *Repository) Save(doc *Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal runtime config: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO runtime_config (id, config_json, updated_at)
		VALUES (1, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save runtime config: %w", err)
	}
	return nil
}

// EnsureDefault seeds the default document on first boot. Existing rows are
// left alone.
func (r *Repository) EnsureDefault() error {
	raw, err := json.Marshal(DefaultDocument())
	if err != nil {
		return fmt.Errorf("failed to marshal default runtime config: %w", err)
	}

	result, err := r.db.Exec(`
		INSERT INTO runtime_config (id, config_json) VALUES (1, ?)
		ON CONFLICT(id) DO NOTHING
	`, string(raw))
	if err != nil {
		return fmt.Errorf("failed to seed runtime config: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		r.log.Info().Msg("Seeded default runtime config document")
	}
	return nil
}

// SetPaused flips the manual trading kill switch.
func (r *Repository) SetPaused(paused bool) error {
	value := "0"
	if paused {
		value = "1"
	}
	_, err := r.db.Exec(`
		INSERT INTO app_state (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, pausedKey, value)
	if err != nil {
		return fmt.Errorf("failed to set paused flag: %w", err)
	}
	return nil
}

// Paused reads the kill switch; an absent row means not paused.
func (r *Repository) Paused() (bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM app_state WHERE key = ?", pausedKey).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read paused flag: %w", err)
	}
	return value == "1", nil
}
