package domain

// CandidateDecision is the persisted state of a researched candidate. The
// decision service answers SHORTLIST or SKIP; the recorded state folds the
// hard gates and the execution outcome on top of that verdict.
type CandidateDecision string

const (
	DecisionShortlisted CandidateDecision = "SHORTLISTED"
	DecisionRejected    CandidateDecision = "REJECTED"
	DecisionTrade       CandidateDecision = "TRADE"
)

// Signals is the technical bundle the analyser computes per candidate
type Signals struct {
	RSI14             *float64
	ATR14             *float64
	VolatilityRatio   *float64 // ATR / close
	BollingerPosition *float64 // (close - lower) / (upper - lower)
	AvgVolume         *float64
	MomentumPct       *float64 // close change over the analysed window
}

// Candidate is one scanned instrument moving through a cycle. Created per
// scan row, enriched by research, discarded at cycle end; its durable trace
// is the persisted research record.
type Candidate struct {
	Symbol   string
	Exchange string
	Currency string
	ConID    int64
	Price    float64

	// Source names where the candidate came from: a scan code label,
	// "Manual" for configured inclusions, "Reddit" for sentiment symbols.
	Source string

	Signals Signals

	// Decision-service output. Pointers distinguish "absent" from zero.
	Decision       CandidateDecision
	Score          *float64 // [0, 1]
	Sentiment      *float64 // [-1, 1]
	Confidence     *float64 // [0, 1]
	Rationale      string
	KeyFactors     []string
	KeyRisks       []string
	DecisionReason string

	// Rank among shortlisted candidates, score descending. Nil until ranked.
	Rank *int

	// ResearchID is the persisted research row for this candidate.
	ResearchID int64
}

// Eligible reports whether the candidate survived the shortlist decision and
// every hard gate, making it rankable for selection.
func (c *Candidate) Eligible() bool {
	return c.Decision == DecisionShortlisted
}
