package research

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
)

// Scanner is the slice of the broker bridge the screener needs
type Scanner interface {
	RunScanner(req ibkr.ScannerRequest) ([]domain.ScanRow, error)
	SearchContract(symbol string) ([]domain.Contract, error)
}

// redditAugmentCap bounds how many crowd-sourced symbols one cycle may add
const redditAugmentCap = 50

// Screener builds the candidate universe from IBKR market scanners plus the
// configured manual inclusions. One screener instance lives for the process;
// configuration is passed per call so runtime overrides apply immediately.
type Screener struct {
	scanner Scanner
	log     zerolog.Logger
}

// NewScreener creates a screener over the given scanner
func NewScreener(scanner Scanner, log zerolog.Logger) *Screener {
	return &Screener{
		scanner: scanner,
		log:     log.With().Str("module", "screener").Logger(),
	}
}

// Candidates runs every configured scan and returns the deduplicated,
// capped universe. Manual inclusions come first so they survive the cap.
// Individual scan failures are logged and skipped; an empty result is the
// caller's problem to report.
func (s *Screener) Candidates(cfg config.TradingConfig) []domain.Candidate {
	markets := normaliseMarkets(cfg.Markets)
	if len(markets) == 0 {
		s.log.Error().Msg("No markets configured (trading.markets is empty); skipping scan")
		return nil
	}

	scanCodes := cfg.Screener.ScanCodes
	if len(scanCodes) == 0 {
		scanCodes = DefaultScanCodes
	}
	maxCandidates := cfg.Screener.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 250
	}
	exclude := ExcludeSet(cfg.Screener.ExcludeSymbols)

	var candidates []domain.Candidate

	// Manual inclusions first so the scanner cap never pushes them out.
	for _, entry := range cfg.Screener.IncludeSymbols {
		symbol, market, ok := ParseIncludeEntry(entry, markets)
		if !ok || exclude[symbol] {
			continue
		}
		loc, enabled := s.locationFor(market, markets)
		if !enabled {
			s.log.Warn().Str("entry", entry).Str("market", market).
				Msg("include_symbols entry ignored, market not enabled in trading.markets")
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Symbol:   symbol,
			Exchange: loc.Exchange,
			Currency: loc.Currency,
			Source:   "Manual",
		})
	}

	for _, market := range markets {
		loc, ok := scanLocations[market]
		if !ok {
			continue
		}
		for _, code := range scanCodes {
			label := ScanCodeLabels[code]
			if label == "" {
				label = code
			}
			s.log.Info().Str("market", market).Str("scan", label).
				Float64("min_price", cfg.MinSharePrice).Float64("max_price", cfg.MaxSharePrice).
				Int64("min_volume", cfg.MinAvgVolume).Msg("Running market scan")

			rows, err := s.scanner.RunScanner(ibkr.ScannerRequest{
				Instrument:  "STK",
				Location:    loc.Location,
				ScanCode:    code,
				AbovePrice:  cfg.MinSharePrice,
				BelowPrice:  cfg.MaxSharePrice,
				AboveVolume: cfg.MinAvgVolume,
			})
			if err != nil {
				// LSE scans are often restricted on paper accounts; a single
				// failed scan never aborts the cycle.
				s.log.Error().Err(err).Str("market", market).Str("scan", code).Msg("Market scan failed")
				continue
			}

			for _, row := range rows {
				symbol := strings.ToUpper(strings.TrimSpace(row.Symbol))
				if symbol == "" || exclude[symbol] {
					continue
				}
				if cfg.ExcludeMicrocap && excludedTradingClasses[row.TradingClass] {
					s.log.Debug().Str("symbol", symbol).Str("trading_class", row.TradingClass).
						Msg("Skipping microcap candidate")
					continue
				}
				candidates = append(candidates, domain.Candidate{
					Symbol:   symbol,
					Exchange: loc.Exchange,
					Currency: loc.Currency,
					ConID:    row.ConID,
					Source:   label,
				})
			}
		}
	}

	unique := Dedupe(candidates)
	s.log.Info().Int("candidates", len(unique)).Msg("Dynamic screening complete")
	if len(unique) > maxCandidates {
		unique = unique[:maxCandidates]
	}
	return unique
}

// Augment merges crowd-sourced symbols into an existing universe. Each new
// symbol is qualified through contract search and kept only when a matching
// contract trades in an enabled market's currency. Fresh symbols go ahead of
// the scanner rows so the cap favours what the crowd is watching right now.
func (s *Screener) Augment(existing []domain.Candidate, symbols []string, cfg config.TradingConfig) []domain.Candidate {
	markets := normaliseMarkets(cfg.Markets)
	if len(markets) == 0 || len(symbols) == 0 {
		return existing
	}

	maxCandidates := cfg.Screener.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 250
	}
	exclude := ExcludeSet(cfg.Screener.ExcludeSymbols)

	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Symbol] = true
	}
	currencies := make(map[string]bool, len(markets))
	for _, m := range markets {
		if loc, ok := scanLocations[m]; ok {
			currencies[loc.Currency] = true
		}
	}

	var fresh []domain.Candidate
	for _, raw := range symbols {
		if len(fresh) >= redditAugmentCap {
			break
		}
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" || have[symbol] || exclude[symbol] {
			continue
		}

		contracts, err := s.scanner.SearchContract(symbol)
		if err != nil {
			s.log.Debug().Err(err).Str("symbol", symbol).Msg("Reddit symbol lookup failed")
			continue
		}
		matched := false
		for _, contract := range contracts {
			if !currencies[contract.Currency] {
				continue
			}
			fresh = append(fresh, domain.Candidate{
				Symbol:   symbol,
				Exchange: contract.Exchange,
				Currency: contract.Currency,
				ConID:    contract.ConID,
				Source:   "Reddit",
			})
			have[symbol] = true
			matched = true
			break
		}
		if !matched {
			s.log.Debug().Str("symbol", symbol).Msg("Reddit symbol has no contract in an enabled market")
		}
	}

	if len(fresh) == 0 {
		return existing
	}
	s.log.Info().Int("added", len(fresh)).Msg("Universe augmented with Reddit symbols")

	merged := Dedupe(append(fresh, existing...))
	if len(merged) > maxCandidates {
		merged = merged[:maxCandidates]
	}
	return merged
}

// ParseIncludeEntry parses one include_symbols entry. Accepted forms are
// "SYMBOL" and "SYMBOL,US" / "SYMBOL,UK". A bare symbol resolves to the only
// configured market, or US when several are enabled.
func ParseIncludeEntry(entry string, markets []string) (symbol, market string, ok bool) {
	raw := strings.TrimSpace(entry)
	if raw == "" {
		return "", "", false
	}

	if i := strings.Index(raw, ","); i >= 0 {
		symbol = strings.ToUpper(strings.TrimSpace(raw[:i]))
		market = strings.ToUpper(strings.TrimSpace(raw[i+1:]))
		if symbol == "" || (market != "US" && market != "UK") {
			return "", "", false
		}
		return symbol, market, true
	}

	symbol = strings.ToUpper(raw)
	if len(markets) == 1 {
		return symbol, markets[0], true
	}
	for _, m := range markets {
		if m == "US" {
			return symbol, "US", true
		}
	}
	if len(markets) == 0 {
		return "", "", false
	}
	return symbol, markets[0], true
}

// ExcludeSet builds the uppercase exclusion set, stripping any ",market"
// suffix so "BADCO,UK" excludes BADCO everywhere.
func ExcludeSet(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		sym := strings.TrimSpace(e)
		if i := strings.Index(sym, ","); i >= 0 {
			sym = sym[:i]
		}
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			set[sym] = true
		}
	}
	return set
}

// Dedupe removes repeated symbols keeping first occurrence order
func Dedupe(candidates []domain.Candidate) []domain.Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.Symbol] {
			continue
		}
		seen[c.Symbol] = true
		out = append(out, c)
	}
	return out
}

func (s *Screener) locationFor(market string, enabled []string) (scanLocation, bool) {
	loc, known := scanLocations[market]
	if !known {
		return scanLocation{}, false
	}
	for _, m := range enabled {
		if m == market {
			return loc, true
		}
	}
	return scanLocation{}, false
}

func normaliseMarkets(markets []string) []string {
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
