package research

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/helmsman/internal/domain"
)

// Rank orders eligible candidates by score descending (candidates without a
// score sort last) and assigns 1-based ranks in place. Returns the same
// slice, sorted.
func Rank(eligible []*domain.Candidate) []*domain.Candidate {
	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := eligible[i].Score, eligible[j].Score
		if (si == nil) != (sj == nil) {
			return si != nil
		}
		if si == nil {
			return false
		}
		return *si > *sj
	})

	for i, c := range eligible {
		rank := i + 1
		c.Rank = &rank
	}
	return eligible
}

// ScoreDistribution summarises the shortlist's score spread so the cycle log
// and dashboard can show how crowded the top of the ranking is.
type ScoreDistribution struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Distribution computes score statistics over the ranked candidates.
// Returns nil when fewer than two candidates carry a score.
func Distribution(ranked []*domain.Candidate) *ScoreDistribution {
	scores := scoreValues(ranked)
	if len(scores) < 2 {
		return nil
	}
	return &ScoreDistribution{
		Count:  len(scores),
		Mean:   stat.Mean(scores, nil),
		StdDev: stat.StdDev(scores, nil),
		Min:    scores[0],
		Max:    scores[len(scores)-1],
	}
}

// ZScore returns how many standard deviations a candidate's score sits from
// the shortlist mean. Nil when the candidate has no score or the spread is
// degenerate.
func ZScore(c *domain.Candidate, dist *ScoreDistribution) *float64 {
	if c == nil || c.Score == nil || dist == nil || dist.StdDev == 0 {
		return nil
	}
	z := stat.StdScore(*c.Score, dist.Mean, dist.StdDev)
	return &z
}

// Percentile returns the fraction of shortlist scores at or below the
// candidate's score, in [0, 1]. Nil when the candidate has no score.
func Percentile(c *domain.Candidate, ranked []*domain.Candidate) *float64 {
	if c == nil || c.Score == nil {
		return nil
	}
	scores := scoreValues(ranked)
	if len(scores) == 0 {
		return nil
	}
	p := stat.CDF(*c.Score, stat.Empirical, scores, nil)
	return &p
}

// scoreValues collects present scores sorted ascending, as gonum's empirical
// CDF requires.
func scoreValues(candidates []*domain.Candidate) []float64 {
	var scores []float64
	for _, c := range candidates {
		if c.Score != nil {
			scores = append(scores, *c.Score)
		}
	}
	sort.Float64s(scores)
	return scores
}
