package database

// schemas maps database names to their schema statements.
// All statements are idempotent so they can run on every startup.
//
// Database layout:
//   config.db (standard) - runtime configuration document and app state flags
//   ledger.db (ledger)   - audit trail: trades, research log, review records
//   cache.db  (cache)    - ephemeral broker snapshots, events, sentiment data
var schemas = map[string][]string{
	"config": {
		`CREATE TABLE IF NOT EXISTS runtime_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			config_json TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},

	"ledger": {
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			stop_loss REAL,
			take_profit REAL,
			sentiment_score REAL,
			status TEXT NOT NULL,
			rationale TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at)`,

		`CREATE TABLE IF NOT EXISTS research_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			exchange TEXT,
			currency TEXT,
			price REAL,
			rsi REAL,
			volatility_ratio REAL,
			sentiment_score REAL,
			ai_reasoning TEXT,
			score REAL,
			rank INTEGER,
			reddit_mentions INTEGER,
			reddit_sentiment REAL,
			decision TEXT NOT NULL,
			reason TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_research_symbol ON research_log(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_research_created ON research_log(created_at)`,

		`CREATE TABLE IF NOT EXISTS position_reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			exchange TEXT,
			currency TEXT,
			entry_price REAL,
			current_price REAL,
			quantity REAL,
			unrealised_pnl REAL,
			pnl_pct REAL,
			minutes_held INTEGER,
			current_stop_loss REAL,
			current_take_profit REAL,
			action TEXT NOT NULL,
			new_stop_loss REAL,
			new_take_profit REAL,
			confidence REAL,
			urgency REAL,
			rationale TEXT,
			key_factors TEXT,
			executed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_position_reviews_symbol ON position_reviews(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_position_reviews_created ON position_reviews(created_at)`,

		`CREATE TABLE IF NOT EXISTS order_reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			order_side TEXT,
			order_type TEXT,
			order_quantity REAL,
			order_price REAL,
			current_price REAL,
			age_minutes INTEGER,
			action TEXT NOT NULL,
			new_price REAL,
			confidence REAL,
			rationale TEXT,
			executed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_reviews_symbol ON order_reviews(symbol)`,
	},

	"cache": {
		`CREATE TABLE IF NOT EXISTS event_stream (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			symbol TEXT,
			step TEXT,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_stream_created ON event_stream(created_at)`,

		`CREATE TABLE IF NOT EXISTS live_status (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			current_symbol TEXT,
			current_step TEXT,
			last_update TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS account_summary (
			account TEXT NOT NULL,
			tag TEXT NOT NULL,
			value TEXT NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (account, tag, currency)
		)`,

		`CREATE TABLE IF NOT EXISTS positions_snapshot (
			symbol TEXT PRIMARY KEY,
			con_id INTEGER,
			exchange TEXT,
			currency TEXT,
			quantity REAL NOT NULL,
			avg_cost REAL,
			market_price REAL,
			market_value REAL,
			unrealized_pnl REAL,
			realized_pnl REAL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS open_orders_snapshot (
			order_id INTEGER PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			quantity REAL NOT NULL,
			limit_price REAL,
			stop_price REAL,
			status TEXT,
			parent_id INTEGER,
			oca_group TEXT,
			currency TEXT,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS performance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			equity REAL NOT NULL,
			unrealized_pnl REAL,
			realized_pnl REAL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_performance_created ON performance(created_at)`,

		`CREATE TABLE IF NOT EXISTS reddit_posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			post_id TEXT NOT NULL UNIQUE,
			subreddit TEXT NOT NULL,
			title TEXT NOT NULL,
			selftext TEXT NOT NULL DEFAULT '',
			url TEXT,
			score INTEGER,
			num_comments INTEGER,
			created_utc INTEGER,
			fetched_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reddit_posts_sub ON reddit_posts(subreddit)`,
		`CREATE INDEX IF NOT EXISTS idx_reddit_posts_created ON reddit_posts(created_utc)`,

		`CREATE TABLE IF NOT EXISTS reddit_sentiment (
			symbol TEXT PRIMARY KEY,
			sentiment REAL NOT NULL,
			mentions INTEGER NOT NULL DEFAULT 0,
			confidence REAL,
			rationale TEXT,
			source_fetch_utc INTEGER,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS reddit_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS kv_blobs (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	},
}
