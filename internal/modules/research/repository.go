package research

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
)

// Repository persists research records in ledger.db. Every candidate of
// every cycle gets exactly one row; ranking and trade execution update that
// row rather than inserting new ones.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a research repository on ledger.db
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "research").Logger(),
	}
}

// Insert writes a research record and returns its id
func (r *Repository) Insert(rec *Record) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO research_log
			(symbol, exchange, currency, price, rsi, volatility_ratio,
			 sentiment_score, ai_reasoning, score, rank,
			 reddit_mentions, reddit_sentiment, decision, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Symbol, rec.Exchange, rec.Currency, rec.Price, rec.RSI,
		rec.VolatilityRatio, rec.SentimentScore, rec.AIReasoning, rec.Score,
		rec.Rank, rec.RedditMentions, rec.RedditSentiment, rec.Decision, rec.Reason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert research record for %s: %w", rec.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read research record id for %s: %w", rec.Symbol, err)
	}
	return id, nil
}

// UpdateDecision rewrites a record's decision, reason and rank after the
// ranking or execution stage. A nil rank leaves the stored rank untouched.
func (r *Repository) UpdateDecision(id int64, decision domain.CandidateDecision, reason string, rank *int) error {
	var err error
	if rank != nil {
		_, err = r.db.Exec(
			`UPDATE research_log SET decision = ?, reason = ?, rank = ? WHERE id = ?`,
			string(decision), reason, *rank, id)
	} else {
		_, err = r.db.Exec(
			`UPDATE research_log SET decision = ?, reason = ? WHERE id = ?`,
			string(decision), reason, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update research record %d: %w", id, err)
	}
	return nil
}

const recordColumns = `id, symbol, exchange, currency, price, rsi,
	volatility_ratio, sentiment_score, ai_reasoning, score, rank,
	reddit_mentions, reddit_sentiment, decision, reason, created_at`

// Recent returns the latest research records, newest first
func (r *Repository) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(
		`SELECT `+recordColumns+` FROM research_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query research records: %w", err)
	}
	return scanRecords(rows)
}

// BySymbol returns a symbol's research history, newest first
func (r *Repository) BySymbol(symbol string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(
		`SELECT `+recordColumns+` FROM research_log WHERE symbol = ? ORDER BY id DESC LIMIT ?`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query research records for %s: %w", symbol, err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var exchange, currency, reasoning, reason sql.NullString
		var createdAt string
		err := rows.Scan(&rec.ID, &rec.Symbol, &exchange, &currency, &rec.Price,
			&rec.RSI, &rec.VolatilityRatio, &rec.SentimentScore, &reasoning,
			&rec.Score, &rec.Rank, &rec.RedditMentions, &rec.RedditSentiment,
			&rec.Decision, &reason, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan research record: %w", err)
		}
		rec.Exchange = exchange.String
		rec.Currency = currency.String
		rec.AIReasoning = reasoning.String
		rec.Reason = reason.String
		rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
