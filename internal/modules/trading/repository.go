package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
)

// Repository persists executed trades in ledger.db
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a trade repository on ledger.db
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "trading").Logger(),
	}
}

// Insert writes a trade record and returns its id
func (r *Repository) Insert(t *Trade) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO trades
			(symbol, action, quantity, price, stop_loss, take_profit,
			 sentiment_score, status, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Symbol, t.Action, t.Quantity, t.Price, t.StopLoss, t.TakeProfit,
		t.SentimentScore, t.Status, t.Rationale)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for %s: %w", t.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id for %s: %w", t.Symbol, err)
	}
	return id, nil
}

const tradeColumns = `id, symbol, action, quantity, price, stop_loss,
	take_profit, sentiment_score, status, rationale, created_at`

// Recent returns the latest trades, newest first
func (r *Repository) Recent(limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(
		`SELECT `+tradeColumns+` FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	return scanTrades(rows)
}

// BySymbol returns a symbol's trades, newest first
func (r *Repository) BySymbol(symbol string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT `+tradeColumns+` FROM trades WHERE symbol = ? ORDER BY id DESC LIMIT ?`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s: %w", symbol, err)
	}
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]Trade, error) {
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var rationale sql.NullString
		var createdAt string
		err := rows.Scan(&t.ID, &t.Symbol, &t.Action, &t.Quantity, &t.Price,
			&t.StopLoss, &t.TakeProfit, &t.SentimentScore, &t.Status,
			&rationale, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Rationale = rationale.String
		t.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
