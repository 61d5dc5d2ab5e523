// Package sentiment caches Reddit chatter and turns it into per-symbol
// crowd-sentiment estimates. Fetching and analysis are interval-gated
// independently: posts land in cache.db at most once per fetch interval,
// and the decision service scores the cache at most once per analysis
// interval. The rest of the app only ever reads the cached estimates.
package sentiment

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/llm"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/events"
)

// analysisPostLimit bounds how many cached posts one analysis pass reads
const analysisPostLimit = 500

// snippetMaxLen caps each post snippet sent to the decision service
const snippetMaxLen = 280

// tickerPattern matches dollar-prefixed tickers. Conservative on purpose:
// bare words like GO or IT would flood the universe with false positives.
var tickerPattern = regexp.MustCompile(`\$([A-Z]{1,5})\b`)

// Lister fetches one subreddit listing page
type Lister interface {
	FetchListing(subreddit, listing string, limit int) ([]Post, error)
}

// Scorer is the crowd-sentiment call of the decision service
type Scorer interface {
	ScoreSentiment(ctx context.Context, symbolPosts map[string][]string) (map[string]llm.SentimentScore, error)
}

// Service owns the Reddit cache lifecycle
type Service struct {
	lister Lister
	scorer Scorer
	repo   *Repository
	bus    *events.Bus
	log    zerolog.Logger
}

// NewService creates the sentiment service. Bus may be nil.
func NewService(lister Lister, scorer Scorer, repo *Repository, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		lister: lister,
		scorer: scorer,
		repo:   repo,
		bus:    bus,
		log:    log.With().Str("service", "sentiment").Logger(),
	}
}

// RefreshIfDue fetches the configured subreddit listings at most once per
// fetch interval. The attempt time is recorded before fetching so a flaky
// Reddit is not hammered with retries; a failed batch inserts nothing and
// waits for the next interval. Returns whether a refresh happened.
func (s *Service) RefreshIfDue(cfg config.RedditConfig, now time.Time) (bool, error) {
	if !cfg.Enabled {
		return false, nil
	}

	last, err := s.repo.State(stateLastFetch)
	if err != nil {
		return false, err
	}
	if now.Unix()-last < int64(cfg.FetchIntervalSeconds) {
		return false, nil
	}

	if err := s.repo.SetState(stateLastFetch, now.Unix()); err != nil {
		return false, err
	}

	var all []Post
	for _, sub := range cfg.Subreddits {
		posts, err := s.lister.FetchListing(sub, cfg.Listing, cfg.LimitPerSubreddit)
		if err != nil {
			return false, fmt.Errorf("subreddit fetch failed: %w", err)
		}
		all = append(all, posts...)
	}

	inserted, err := s.repo.InsertPosts(all)
	if err != nil {
		return false, err
	}

	s.log.Info().Int("fetched", len(all)).Int("new", inserted).Msg("Reddit posts refreshed")
	if s.bus != nil {
		s.bus.Emit("sentiment", &events.SentimentRefreshedData{Posts: len(all)})
	}
	return true, nil
}

// AnalyseIfDue scores the cached posts against the watchlist at most once
// per analysis interval, upserting one sentiment row per matched symbol.
// Like the fetch, the attempt is marked before the expensive call. Returns
// the number of symbols updated, zero when not due or nothing matched.
func (s *Service) AnalyseIfDue(ctx context.Context, symbols []string, cfg config.RedditConfig, now time.Time) (int, error) {
	if !cfg.Enabled {
		return 0, nil
	}

	last, err := s.repo.State(stateLastAnalysis)
	if err != nil {
		return 0, err
	}
	if now.Unix()-last < int64(cfg.AnalysisIntervalSeconds) {
		return 0, nil
	}

	if err := s.repo.SetState(stateLastAnalysis, now.Unix()); err != nil {
		return 0, err
	}

	posts, err := s.repo.RecentPosts(analysisPostLimit)
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		s.log.Info().Msg("No cached Reddit posts to analyse")
		return 0, nil
	}

	snippets, mentions := matchPosts(symbols, posts, cfg.MaxPostsPerSymbol)
	if len(snippets) == 0 {
		return 0, nil
	}

	s.log.Info().Int("symbols", len(snippets)).Msg("Scoring Reddit sentiment")
	scores, err := s.scorer.ScoreSentiment(ctx, snippets)
	if err != nil {
		return 0, fmt.Errorf("sentiment scoring failed: %w", err)
	}

	fetchUTC, err := s.repo.State(stateLastFetch)
	if err != nil {
		return 0, err
	}

	rows := make([]SymbolSentiment, 0, len(scores))
	for sym, score := range scores {
		count, ok := mentions[sym]
		if !ok {
			continue
		}
		rows = append(rows, SymbolSentiment{
			Symbol:         sym,
			Sentiment:      score.Sentiment,
			Mentions:       count,
			Confidence:     score.Confidence,
			Rationale:      score.Rationale,
			SourceFetchUTC: fetchUTC,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := s.repo.UpsertSentiments(rows); err != nil {
		return 0, err
	}

	s.log.Info().Int("symbols", len(rows)).Msg("Reddit sentiment updated")
	if s.bus != nil {
		s.bus.Emit("sentiment", &events.SentimentRefreshedData{Symbols: len(rows)})
	}
	return len(rows), nil
}

// Latest returns every symbol's cached estimate, most mentioned first
func (s *Service) Latest() ([]SymbolSentiment, error) {
	return s.repo.LatestSentiments()
}

// TopSymbols extracts the most-mentioned $TICKER symbols from the cached
// posts, most mentioned first. Ties break alphabetically so repeat calls
// over the same cache agree.
func (s *Service) TopSymbols(limit int) ([]string, error) {
	posts, err := s.repo.RecentPosts(analysisPostLimit)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, p := range posts {
		text := strings.ToUpper(p.Title + " " + p.Selftext)
		for _, m := range tickerPattern.FindAllStringSubmatch(text, -1) {
			counts[m[1]]++
		}
	}
	if len(counts) == 0 {
		return nil, nil
	}

	symbols := make([]string, 0, len(counts))
	for sym := range counts {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if counts[symbols[i]] != counts[symbols[j]] {
			return counts[symbols[i]] > counts[symbols[j]]
		}
		return symbols[i] < symbols[j]
	})

	if limit > 0 && len(symbols) > limit {
		symbols = symbols[:limit]
	}
	return symbols, nil
}

// Prune drops cached posts older than the retention window
func (s *Service) Prune(retention time.Duration, now time.Time) error {
	pruned, err := s.repo.PrunePosts(now.Add(-retention))
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.log.Info().Int64("pruned", pruned).Msg("Old Reddit posts pruned")
	}
	return nil
}

// matchPosts builds per-symbol snippet lists from the cached posts. The
// match is a crude word-boundary check over title plus selftext; mentions
// count every hit while the snippets sent onward are capped per symbol.
func matchPosts(symbols []string, posts []Post, maxPerSymbol int) (map[string][]string, map[string]int) {
	if maxPerSymbol <= 0 {
		maxPerSymbol = 8
	}

	texts := make([]string, len(posts))
	for i, p := range posts {
		texts[i] = " " + strings.ToUpper(p.Title+" "+p.Selftext) + " "
	}

	snippets := make(map[string][]string)
	mentions := make(map[string]int)
	for _, sym := range symbols {
		symU := strings.ToUpper(strings.TrimSpace(sym))
		if symU == "" {
			continue
		}
		if _, done := mentions[symU]; done {
			continue
		}

		needle := " " + symU + " "
		var hits []string
		for i, p := range posts {
			if !strings.Contains(texts[i], needle) {
				continue
			}
			snippet := fmt.Sprintf("[r/%s] %s", p.Subreddit, p.Title)
			if len(snippet) > snippetMaxLen {
				snippet = snippet[:snippetMaxLen]
			}
			hits = append(hits, snippet)
		}
		if len(hits) == 0 {
			continue
		}

		mentions[symU] = len(hits)
		if len(hits) > maxPerSymbol {
			hits = hits[:maxPerSymbol]
		}
		snippets[symU] = hits
	}
	return snippets, mentions
}
