package review

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
)

// Repository persists review records in ledger.db. A row is written before
// any resulting order action goes out; MarkExecuted flips it afterwards, so
// an unexecuted row is itself the audit trail of a refused or failed action.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a review repository on ledger.db
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "review").Logger(),
	}
}

// InsertPositionReview writes a position review row and returns its id
func (r *Repository) InsertPositionReview(rev *PositionReview) (int64, error) {
	var factors interface{}
	if len(rev.KeyFactors) > 0 {
		encoded, err := json.Marshal(rev.KeyFactors)
		if err == nil {
			factors = string(encoded)
		}
	}

	result, err := r.db.Exec(`
		INSERT INTO position_reviews
			(symbol, exchange, currency, entry_price, current_price, quantity,
			 unrealised_pnl, pnl_pct, minutes_held, current_stop_loss,
			 current_take_profit, action, new_stop_loss, new_take_profit,
			 confidence, urgency, rationale, key_factors, executed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, rev.Symbol, rev.Exchange, rev.Currency, rev.EntryPrice, rev.CurrentPrice,
		rev.Quantity, rev.UnrealisedPnL, rev.PnLPct, rev.MinutesHeld,
		rev.CurrentStopLoss, rev.CurrentTakeProfit, rev.Action, rev.NewStopLoss,
		rev.NewTakeProfit, rev.Confidence, rev.Urgency, rev.Rationale, factors)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position review for %s: %w", rev.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read position review id for %s: %w", rev.Symbol, err)
	}
	return id, nil
}

// MarkPositionExecuted flags a position review as carried out
func (r *Repository) MarkPositionExecuted(id int64) error {
	_, err := r.db.Exec(`UPDATE position_reviews SET executed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark position review %d executed: %w", id, err)
	}
	return nil
}

const positionReviewColumns = `id, symbol, exchange, currency, entry_price,
	current_price, quantity, unrealised_pnl, pnl_pct, minutes_held,
	current_stop_loss, current_take_profit, action, new_stop_loss,
	new_take_profit, confidence, urgency, rationale, key_factors, executed,
	created_at`

// RecentPositionReviews returns the latest position reviews, newest first
func (r *Repository) RecentPositionReviews(limit int) ([]PositionReview, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT `+positionReviewColumns+` FROM position_reviews ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query position reviews: %w", err)
	}
	return scanPositionReviews(rows)
}

// PositionReviewsBySymbol returns a symbol's review history, newest first
func (r *Repository) PositionReviewsBySymbol(symbol string, limit int) ([]PositionReview, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(
		`SELECT `+positionReviewColumns+` FROM position_reviews WHERE symbol = ? ORDER BY id DESC LIMIT ?`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query position reviews for %s: %w", symbol, err)
	}
	return scanPositionReviews(rows)
}

func scanPositionReviews(rows *sql.Rows) ([]PositionReview, error) {
	defer rows.Close()

	var reviews []PositionReview
	for rows.Next() {
		var rev PositionReview
		var exchange, currency, rationale, factors sql.NullString
		var executed int
		var createdAt string
		err := rows.Scan(&rev.ID, &rev.Symbol, &exchange, &currency,
			&rev.EntryPrice, &rev.CurrentPrice, &rev.Quantity, &rev.UnrealisedPnL,
			&rev.PnLPct, &rev.MinutesHeld, &rev.CurrentStopLoss,
			&rev.CurrentTakeProfit, &rev.Action, &rev.NewStopLoss,
			&rev.NewTakeProfit, &rev.Confidence, &rev.Urgency, &rationale,
			&factors, &executed, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position review: %w", err)
		}
		rev.Exchange = exchange.String
		rev.Currency = currency.String
		rev.Rationale = rationale.String
		if factors.Valid && factors.String != "" {
			_ = json.Unmarshal([]byte(factors.String), &rev.KeyFactors)
		}
		rev.Executed = executed != 0
		rev.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}

// InsertOrderReview writes an order review row and returns its id
func (r *Repository) InsertOrderReview(rev *OrderReview) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO order_reviews
			(order_id, symbol, order_side, order_type, order_quantity,
			 order_price, current_price, age_minutes, action, new_price,
			 confidence, rationale, executed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, rev.OrderID, rev.Symbol, rev.OrderSide, rev.OrderType, rev.OrderQuantity,
		rev.OrderPrice, rev.CurrentPrice, rev.AgeMinutes, rev.Action,
		rev.NewPrice, rev.Confidence, rev.Rationale)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order review for %s: %w", rev.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read order review id for %s: %w", rev.Symbol, err)
	}
	return id, nil
}

// MarkOrderExecuted flags an order review as carried out
func (r *Repository) MarkOrderExecuted(id int64) error {
	_, err := r.db.Exec(`UPDATE order_reviews SET executed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark order review %d executed: %w", id, err)
	}
	return nil
}

const orderReviewColumns = `id, order_id, symbol, order_side, order_type,
	order_quantity, order_price, current_price, age_minutes, action,
	new_price, confidence, rationale, executed, created_at`

// RecentOrderReviews returns the latest order reviews, newest first
func (r *Repository) RecentOrderReviews(limit int) ([]OrderReview, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT `+orderReviewColumns+` FROM order_reviews ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order reviews: %w", err)
	}
	return scanOrderReviews(rows)
}

// OrderReviewsBySymbol returns a symbol's order review history, newest first
func (r *Repository) OrderReviewsBySymbol(symbol string, limit int) ([]OrderReview, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(
		`SELECT `+orderReviewColumns+` FROM order_reviews WHERE symbol = ? ORDER BY id DESC LIMIT ?`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order reviews for %s: %w", symbol, err)
	}
	return scanOrderReviews(rows)
}

func scanOrderReviews(rows *sql.Rows) ([]OrderReview, error) {
	defer rows.Close()

	var reviews []OrderReview
	for rows.Next() {
		var rev OrderReview
		var side, orderType, rationale sql.NullString
		var quantity sql.NullFloat64
		var executed int
		var createdAt string
		err := rows.Scan(&rev.ID, &rev.OrderID, &rev.Symbol, &side, &orderType,
			&quantity, &rev.OrderPrice, &rev.CurrentPrice, &rev.AgeMinutes,
			&rev.Action, &rev.NewPrice, &rev.Confidence, &rationale,
			&executed, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order review: %w", err)
		}
		rev.OrderSide = side.String
		rev.OrderType = orderType.String
		rev.OrderQuantity = quantity.Float64
		rev.Rationale = rationale.String
		rev.Executed = executed != 0
		rev.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}
