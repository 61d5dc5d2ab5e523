package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
)

// Repository persists the dashboard's view of the account in cache.db:
// the latest account summary values, position and open-order snapshots,
// and the equity series. Snapshot tables hold only the latest state;
// the performance table is append-only.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a portfolio repository on cache.db
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "portfolio").Logger(),
	}
}

// UpsertAccountValues stores the latest value for each tag/currency pair
func (r *Repository) UpsertAccountValues(values []domain.AccountValue) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin account summary update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO account_summary (account, tag, value, currency, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(account, tag, currency) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare account summary update: %w", err)
	}
	defer stmt.Close()

	for _, v := range values {
		if _, err := stmt.Exec(v.Account, v.Tag, v.Value, v.Currency); err != nil {
			return fmt.Errorf("failed to upsert account value %s/%s: %w", v.Tag, v.Currency, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account summary update: %w", err)
	}
	return nil
}

// AccountSummary returns the latest stored value per tag and currency
func (r *Repository) AccountSummary() ([]AccountEntry, error) {
	rows, err := r.db.Query(`
		SELECT account, tag, value, currency, updated_at
		FROM account_summary ORDER BY tag, currency`)
	if err != nil {
		return nil, fmt.Errorf("failed to query account summary: %w", err)
	}
	defer rows.Close()

	var entries []AccountEntry
	for rows.Next() {
		var e AccountEntry
		var updated string
		if err := rows.Scan(&e.Account, &e.Tag, &e.Value, &e.Currency, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan account value: %w", err)
		}
		e.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplacePositions swaps the stored position snapshot for the given rows.
// Delete and insert run in one transaction so readers never see a
// half-written snapshot.
func (r *Repository) ReplacePositions(positions []domain.Position) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin position snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM positions_snapshot`); err != nil {
		return fmt.Errorf("failed to clear position snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO positions_snapshot
		(symbol, con_id, exchange, currency, quantity, avg_cost, market_price,
		 market_value, unrealized_pnl, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`)
	if err != nil {
		return fmt.Errorf("failed to prepare position snapshot: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		if _, err := stmt.Exec(p.Symbol, p.ConID, p.Exchange, p.Currency,
			p.Quantity, p.AvgCost, p.MarketPrice, p.MarketValue,
			p.UnrealizedPnL, p.RealizedPnL); err != nil {
			return fmt.Errorf("failed to insert position snapshot for %s: %w", p.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit position snapshot: %w", err)
	}
	return nil
}

// Positions returns the latest stored position snapshot
func (r *Repository) Positions() ([]PositionRow, error) {
	rows, err := r.db.Query(`
		SELECT symbol, con_id, exchange, currency, quantity, avg_cost,
		       market_price, market_value, unrealized_pnl, realized_pnl, updated_at
		FROM positions_snapshot ORDER BY market_value DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query position snapshot: %w", err)
	}
	defer rows.Close()

	var positions []PositionRow
	for rows.Next() {
		var p PositionRow
		var conID sql.NullInt64
		var exchange, currency sql.NullString
		var avgCost, marketPrice, marketValue, unrealized, realized sql.NullFloat64
		var updated string
		if err := rows.Scan(&p.Symbol, &conID, &exchange, &currency, &p.Quantity,
			&avgCost, &marketPrice, &marketValue, &unrealized, &realized, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan position snapshot: %w", err)
		}
		p.ConID = conID.Int64
		p.Exchange = exchange.String
		p.Currency = currency.String
		p.AvgCost = avgCost.Float64
		p.MarketPrice = marketPrice.Float64
		p.MarketValue = marketValue.Float64
		p.UnrealizedPnL = unrealized.Float64
		p.RealizedPnL = realized.Float64
		p.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updated)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ReplaceOpenOrders swaps the stored open-order snapshot for the given rows
func (r *Repository) ReplaceOpenOrders(orders []domain.OpenOrder) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin order snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM open_orders_snapshot`); err != nil {
		return fmt.Errorf("failed to clear order snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO open_orders_snapshot
		(order_id, symbol, side, order_type, quantity, limit_price, stop_price,
		 status, parent_id, oca_group, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`)
	if err != nil {
		return fmt.Errorf("failed to prepare order snapshot: %w", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		if _, err := stmt.Exec(o.OrderID, o.Symbol, string(o.Side), string(o.OrderType),
			o.Quantity, o.LimitPrice, o.StopPrice, o.Status, o.ParentID,
			o.OCAGroup, o.Currency); err != nil {
			return fmt.Errorf("failed to insert order snapshot %d: %w", o.OrderID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order snapshot: %w", err)
	}
	return nil
}

// OpenOrders returns the latest stored open-order snapshot
func (r *Repository) OpenOrders() ([]OpenOrderRow, error) {
	rows, err := r.db.Query(`
		SELECT order_id, symbol, side, order_type, quantity, limit_price,
		       stop_price, status, parent_id, oca_group, currency, updated_at
		FROM open_orders_snapshot ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query order snapshot: %w", err)
	}
	defer rows.Close()

	var orders []OpenOrderRow
	for rows.Next() {
		var o OpenOrderRow
		var limitPrice, stopPrice sql.NullFloat64
		var status, ocaGroup, currency sql.NullString
		var parentID sql.NullInt64
		var updated string
		if err := rows.Scan(&o.OrderID, &o.Symbol, &o.Side, &o.OrderType, &o.Quantity,
			&limitPrice, &stopPrice, &status, &parentID, &ocaGroup, &currency, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan order snapshot: %w", err)
		}
		o.LimitPrice = limitPrice.Float64
		o.StopPrice = stopPrice.Float64
		o.Status = status.String
		o.ParentID = parentID.Int64
		o.OCAGroup = ocaGroup.String
		o.Currency = currency.String
		o.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updated)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// InsertPerformance appends one equity observation
func (r *Repository) InsertPerformance(equity, unrealized, realized float64) error {
	_, err := r.db.Exec(`INSERT INTO performance (equity, unrealized_pnl, realized_pnl)
		VALUES (?, ?, ?)`, equity, unrealized, realized)
	if err != nil {
		return fmt.Errorf("failed to insert performance row: %w", err)
	}
	return nil
}

// PerformanceHistory returns the newest observations in chronological
// order, capped at limit
func (r *Repository) PerformanceHistory(limit int) ([]PerformancePoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(`
		SELECT id, equity, unrealized_pnl, realized_pnl, created_at FROM (
			SELECT id, equity, unrealized_pnl, realized_pnl, created_at
			FROM performance ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance history: %w", err)
	}
	defer rows.Close()

	var points []PerformancePoint
	for rows.Next() {
		p, err := scanPerformance(rows.Scan)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// PerformanceSummary derives account progress from the oldest and newest
// equity observations. Returns nil when the series is empty.
func (r *Repository) PerformanceSummary() (*PerformanceSummary, error) {
	first, ok, err := r.performanceEndpoint("ASC")
	if err != nil || !ok {
		return nil, err
	}
	last, _, err := r.performanceEndpoint("DESC")
	if err != nil {
		return nil, err
	}

	summary := &PerformanceSummary{
		BaselineAt:     first.CreatedAt,
		BaselineEquity: first.Equity,
		LatestAt:       last.CreatedAt,
		LatestEquity:   last.Equity,
		DeltaEquity:    last.Equity - first.Equity,
	}
	if first.Equity != 0 {
		pct := (last.Equity - first.Equity) / first.Equity * 100
		summary.DeltaPct = &pct
	}
	return summary, nil
}

func (r *Repository) performanceEndpoint(order string) (PerformancePoint, bool, error) {
	row := r.db.QueryRow(`SELECT id, equity, unrealized_pnl, realized_pnl, created_at
		FROM performance ORDER BY id ` + order + ` LIMIT 1`)
	p, err := scanPerformance(row.Scan)
	if err == sql.ErrNoRows {
		return PerformancePoint{}, false, nil
	}
	if err != nil {
		return PerformancePoint{}, false, err
	}
	return p, true, nil
}

func scanPerformance(scan func(...interface{}) error) (PerformancePoint, error) {
	var p PerformancePoint
	var unrealized, realized sql.NullFloat64
	var created string
	if err := scan(&p.ID, &p.Equity, &unrealized, &realized, &created); err != nil {
		if err == sql.ErrNoRows {
			return p, err
		}
		return p, fmt.Errorf("failed to scan performance row: %w", err)
	}
	p.UnrealizedPnL = unrealized.Float64
	p.RealizedPnL = realized.Float64
	p.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created)
	return p, nil
}
