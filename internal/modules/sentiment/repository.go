package sentiment

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
)

// Repository persists the Reddit post cache and per-symbol sentiment in
// cache.db. Posts are append-only (deduplicated on post_id); sentiment is
// one row per symbol holding the latest estimate.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a sentiment repository on cache.db
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "sentiment").Logger(),
	}
}

// InsertPosts caches fetched posts, skipping ones already present. Returns
// the number of newly cached posts.
func (r *Repository) InsertPosts(posts []Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin post insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO reddit_posts
		(post_id, subreddit, title, selftext, url, score, num_comments, created_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare post insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range posts {
		res, err := stmt.Exec(p.PostID, p.Subreddit, p.Title, p.Selftext,
			p.URL, p.Score, p.NumComments, p.CreatedUTC)
		if err != nil {
			return 0, fmt.Errorf("failed to insert post %s: %w", p.PostID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit post insert: %w", err)
	}
	return inserted, nil
}

// RecentPosts returns cached posts, newest first
func (r *Repository) RecentPosts(limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(`
		SELECT id, post_id, subreddit, title, selftext, url, score, num_comments, created_utc
		FROM reddit_posts ORDER BY created_utc DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		var selftext, url sql.NullString
		var score, comments, created sql.NullInt64
		if err := rows.Scan(&p.ID, &p.PostID, &p.Subreddit, &p.Title,
			&selftext, &url, &score, &comments, &created); err != nil {
			return nil, fmt.Errorf("failed to scan cached post: %w", err)
		}
		p.Selftext = selftext.String
		p.URL = url.String
		p.Score = int(score.Int64)
		p.NumComments = int(comments.Int64)
		p.CreatedUTC = created.Int64
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// PrunePosts deletes cached posts created before the cutoff
func (r *Repository) PrunePosts(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM reddit_posts WHERE created_utc < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cached posts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// State reads a reddit_state timestamp, zero when unset
func (r *Repository) State(key string) (int64, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM reddit_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read reddit state %s: %w", key, err)
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return ts, nil
}

// SetState writes a reddit_state timestamp
func (r *Repository) SetState(key string, ts int64) error {
	_, err := r.db.Exec(`
		INSERT INTO reddit_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, strconv.FormatInt(ts, 10))
	if err != nil {
		return fmt.Errorf("failed to write reddit state %s: %w", key, err)
	}
	return nil
}

// UpsertSentiments replaces each symbol's sentiment estimate with the
// freshly computed one.
func (r *Repository) UpsertSentiments(rows []SymbolSentiment) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin sentiment upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO reddit_sentiment
		(symbol, sentiment, mentions, confidence, rationale, source_fetch_utc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(symbol) DO UPDATE SET
			sentiment = excluded.sentiment,
			mentions = excluded.mentions,
			confidence = excluded.confidence,
			rationale = excluded.rationale,
			source_fetch_utc = excluded.source_fetch_utc,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare sentiment upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.Exec(row.Symbol, row.Sentiment, row.Mentions,
			row.Confidence, row.Rationale, row.SourceFetchUTC)
		if err != nil {
			return fmt.Errorf("failed to upsert sentiment for %s: %w", row.Symbol, err)
		}
	}
	return tx.Commit()
}

// SentimentFor returns one symbol's latest estimate, nil when the symbol has
// never been scored.
func (r *Repository) SentimentFor(symbol string) (*SymbolSentiment, error) {
	row := r.db.QueryRow(`
		SELECT symbol, sentiment, mentions, confidence, rationale, source_fetch_utc, updated_at
		FROM reddit_sentiment WHERE symbol = ?`, symbol)

	var s SymbolSentiment
	var confidence sql.NullFloat64
	var rationale sql.NullString
	var fetchUTC sql.NullInt64
	var updatedAt string
	err := row.Scan(&s.Symbol, &s.Sentiment, &s.Mentions,
		&confidence, &rationale, &fetchUTC, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment for %s: %w", symbol, err)
	}
	s.Confidence = confidence.Float64
	s.Rationale = rationale.String
	s.SourceFetchUTC = fetchUTC.Int64
	s.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &s, nil
}

// LatestSentiments returns every symbol's latest estimate, most mentioned
// first.
func (r *Repository) LatestSentiments() ([]SymbolSentiment, error) {
	rows, err := r.db.Query(`
		SELECT symbol, sentiment, mentions, confidence, rationale, source_fetch_utc, updated_at
		FROM reddit_sentiment ORDER BY mentions DESC, symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment: %w", err)
	}
	defer rows.Close()

	var out []SymbolSentiment
	for rows.Next() {
		var s SymbolSentiment
		var confidence sql.NullFloat64
		var rationale sql.NullString
		var fetchUTC sql.NullInt64
		var updatedAt string
		if err := rows.Scan(&s.Symbol, &s.Sentiment, &s.Mentions,
			&confidence, &rationale, &fetchUTC, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment row: %w", err)
		}
		s.Confidence = confidence.Float64
		s.Rationale = rationale.String
		s.SourceFetchUTC = fetchUTC.Int64
		s.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}
