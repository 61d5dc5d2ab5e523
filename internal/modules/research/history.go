package research

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // bars.db uses its own cgo driver
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

const barDateFormat = "2006-01-02"

// BarStore caches daily OHLCV history in its own database file (bars.db).
// Research re-reads the same series many times per day; serving it locally
// keeps scanner cycles off the broker's pacing limits. The store is a cache:
// losing it costs one refetch.
type BarStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenBarStore opens (creating if needed) the bar cache at path
func OpenBarStore(path string, log zerolog.Logger) (*BarStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open bar store %s: %w", path, err)
	}

	schema := `CREATE TABLE IF NOT EXISTS daily_bars (
		symbol TEXT NOT NULL,
		bar_date TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		fetched_at TEXT NOT NULL,
		PRIMARY KEY (symbol, bar_date)
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create daily_bars schema: %w", err)
	}

	return &BarStore{db: db, log: log.With().Str("module", "bar_store").Logger()}, nil
}

// Close closes the underlying database
func (s *BarStore) Close() error {
	return s.db.Close()
}

// PutDailyBars upserts a bar series for a symbol, stamping every row with
// the same fetch time.
func (s *BarStore) PutDailyBars(symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin bar upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO daily_bars
		(symbol, bar_date, open, high, low, close, volume, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, bar_date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			fetched_at = excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	for _, b := range bars {
		_, err := stmt.Exec(symbol, b.Time.UTC().Format(barDateFormat),
			b.Open, b.High, b.Low, b.Close, b.Volume, fetchedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert bar for %s: %w", symbol, err)
		}
	}
	return tx.Commit()
}

// GetDailyBars returns the cached series for a symbol ordered by date, or
// nil when the cache is empty or older than maxAge (the caller then fetches
// fresh bars from the broker).
func (s *BarStore) GetDailyBars(symbol string, maxAge time.Duration) ([]domain.Bar, error) {
	var newest sql.NullString
	err := s.db.QueryRow(
		`SELECT MAX(fetched_at) FROM daily_bars WHERE symbol = ?`, symbol,
	).Scan(&newest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read bar cache age for %s: %w", symbol, err)
	}
	if !newest.Valid || newest.String == "" {
		return nil, nil
	}

	fetchedAt, err := time.Parse(time.RFC3339, newest.String)
	if err != nil || time.Since(fetchedAt) > maxAge {
		return nil, nil
	}

	rows, err := s.db.Query(
		`SELECT bar_date, open, high, low, close, volume
		 FROM daily_bars WHERE symbol = ? ORDER BY bar_date`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var dateStr string
		var b domain.Bar
		if err := rows.Scan(&dateStr, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan cached bar for %s: %w", symbol, err)
		}
		b.Time, _ = time.Parse(barDateFormat, dateStr)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Vacuum reclaims space after pruning, called by the maintenance scheduler
func (s *BarStore) Vacuum() error {
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("bar store vacuum failed: %w", err)
	}
	return nil
}

// Prune deletes bars older than the retention horizon
func (s *BarStore) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM daily_bars WHERE bar_date < ?`,
		olderThan.UTC().Format(barDateFormat))
	if err != nil {
		return 0, fmt.Errorf("bar store prune failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
