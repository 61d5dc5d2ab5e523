package sentiment

import "time"

// Post is one cached Reddit submission. Posts are fetched from the public
// listing endpoints at most once per configured interval and analysed from
// the cache, never live.
type Post struct {
	ID          int64  `json:"id"`
	PostID      string `json:"post_id"`
	Subreddit   string `json:"subreddit"`
	Title       string `json:"title"`
	Selftext    string `json:"selftext,omitempty"`
	URL         string `json:"url,omitempty"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
	CreatedUTC  int64  `json:"created_utc"`
}

// SymbolSentiment is the latest crowd-sentiment estimate for one symbol.
// SourceFetchUTC records which post batch the estimate was computed from.
type SymbolSentiment struct {
	Symbol         string    `json:"symbol"`
	Sentiment      float64   `json:"sentiment"`
	Mentions       int       `json:"mentions"`
	Confidence     float64   `json:"confidence"`
	Rationale      string    `json:"rationale,omitempty"`
	SourceFetchUTC int64     `json:"source_fetch_utc"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// State keys in reddit_state
const (
	stateLastFetch    = "last_fetch_utc"
	stateLastAnalysis = "last_analysis_utc"
)
