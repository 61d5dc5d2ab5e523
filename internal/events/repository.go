package events

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
)

// EventRow is one persisted entry of the dashboard event stream
type EventRow struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Symbol    string    `json:"symbol,omitempty"`
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// LiveStatus is the singleton "what is the loop doing right now" row
type LiveStatus struct {
	Symbol    string    `json:"current_symbol,omitempty"`
	Step      string    `json:"current_step,omitempty"`
	UpdatedAt time.Time `json:"last_update"`
}

// Repository persists the event stream and the live status row in
// cache.db. Event ids are the AUTOINCREMENT primary key, so they are the
// cursor for both polling and the SSE stream.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates an event stream repository on cache.db
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "events").Logger(),
	}
}

// InsertEvent appends one event row and returns its id
func (r *Repository) InsertEvent(level, symbol, step, message string) (int64, error) {
	res, err := r.db.Exec(`INSERT INTO event_stream (level, symbol, step, message)
		VALUES (?, ?, ?, ?)`,
		level, nullable(symbol), nullable(step), message)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}
	return id, nil
}

// RecentEvents returns the newest events, newest first
func (r *Repository) RecentEvents(limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(`
		SELECT id, level, symbol, step, message, created_at
		FROM event_stream ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// EventsAfter returns events with id greater than afterID in ascending
// order, capped at limit. This is the cursor read behind ?after_id= and
// the SSE stream.
func (r *Repository) EventsAfter(afterID int64, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(`
		SELECT id, level, symbol, step, message, created_at
		FROM event_stream WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events after %d: %w", afterID, err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// LatestEventID returns the id of the newest event, 0 when the stream is
// empty
func (r *Repository) LatestEventID() (int64, error) {
	var id sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(id) FROM event_stream`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest event id: %w", err)
	}
	return id.Int64, nil
}

// PruneEvents deletes events older than the given number of days and
// returns how many rows went
func (r *Repository) PruneEvents(maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		return 0, nil
	}
	res, err := r.db.Exec(`DELETE FROM event_stream WHERE created_at < datetime('now', ?)`,
		fmt.Sprintf("-%d days", maxAgeDays))
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	return n, nil
}

// UpdateLiveStatus sets the singleton status row
func (r *Repository) UpdateLiveStatus(symbol, step string) error {
	_, err := r.db.Exec(`INSERT INTO live_status (id, current_symbol, current_step, last_update)
		VALUES (1, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			current_symbol = excluded.current_symbol,
			current_step = excluded.current_step,
			last_update = excluded.last_update`,
		nullable(symbol), nullable(step))
	if err != nil {
		return fmt.Errorf("failed to update live status: %w", err)
	}
	return nil
}

// GetLiveStatus returns the current status row, nil when never written
func (r *Repository) GetLiveStatus() (*LiveStatus, error) {
	var symbol, step sql.NullString
	var updated string
	err := r.db.QueryRow(`SELECT current_symbol, current_step, last_update
		FROM live_status WHERE id = 1`).Scan(&symbol, &step, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read live status: %w", err)
	}
	status := &LiveStatus{Symbol: symbol.String, Step: step.String}
	status.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updated)
	return status, nil
}

func scanEventRows(rows *sql.Rows) ([]EventRow, error) {
	var out []EventRow
	for rows.Next() {
		var e EventRow
		var symbol, step sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.Level, &symbol, &step, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Symbol = symbol.String
		e.Step = step.String
		e.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
