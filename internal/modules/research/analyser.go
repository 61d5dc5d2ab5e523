package research

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
)

// Indicator windows. 30 bars is the minimum for a full set: BBANDS(20) plus
// warm-up slack for RSI/ATR.
const (
	rsiPeriod         = 14
	atrPeriod         = 14
	bbandsPeriod      = 20
	bbandsStdDev      = 2.0
	minIndicatorBars  = 30
	momentumWindow    = 10
	avgVolumeWindow   = 20
	rsiOverboughtMark = 70.0
)

// Analyser computes technical indicators and the pre-trade screen from raw
// OHLCV bars. It is stateless; thresholds are read per call so runtime
// config changes apply without re-instantiating.
type Analyser struct {
	log zerolog.Logger
}

// NewAnalyser creates an analyser
func NewAnalyser(log zerolog.Logger) *Analyser {
	return &Analyser{log: log.With().Str("module", "analyser").Logger()}
}

// Indicators computes the technical bundle for a bar series. Returns nil for
// an empty series; with fewer than 30 bars the set carries the close but no
// indicator values.
func (a *Analyser) Indicators(bars []domain.Bar) *IndicatorSet {
	if len(bars) == 0 {
		return nil
	}

	set := &IndicatorSet{Close: bars[len(bars)-1].Close}
	if len(bars) < minIndicatorBars {
		a.log.Warn().Int("bars", len(bars)).Msg("Not enough data to apply technical indicators")
		return set
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	set.RSI14 = lastValue(talib.Rsi(closes, rsiPeriod))
	set.ATR14 = lastValue(talib.Atr(highs, lows, closes, atrPeriod))

	// MAType 0 = SMA
	upper, middle, lower := talib.BBands(closes, bbandsPeriod, bbandsStdDev, bbandsStdDev, 0)
	set.BBUpper = lastValue(upper)
	set.BBMiddle = lastValue(middle)
	set.BBLower = lastValue(lower)

	set.AvgVolume = lastValue(talib.Sma(volumes, avgVolumeWindow))

	if set.ATR14 != nil && set.Close > 0 {
		ratio := *set.ATR14 / set.Close
		set.VolatilityRatio = &ratio
	}
	return set
}

// Momentum summarises the last bars: close momentum over 5 and 10 bars,
// volume acceleration (recent 3 vs oldest 3 of the window) and how many of
// the last 5 bars closed green. Nil when fewer than 5 bars exist.
func (a *Analyser) Momentum(bars []domain.Bar) *BarMomentum {
	if len(bars) < 5 {
		return nil
	}
	if len(bars) > momentumWindow {
		bars = bars[len(bars)-momentumWindow:]
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	last := closes[len(closes)-1]

	momentum5 := 0.0
	if base := closes[len(closes)-5]; base > 0 {
		momentum5 = (last - base) / base * 100
	}
	momentum10 := 0.0
	if len(closes) >= momentumWindow && closes[0] > 0 {
		momentum10 = (last - closes[0]) / closes[0] * 100
	}

	recentVol := mean(volumes[len(volumes)-3:])
	olderVol := mean(volumes[:3])
	acceleration := 1.0
	if olderVol > 0 {
		acceleration = recentVol / olderVol
	}

	green := 0
	for _, b := range bars[len(bars)-5:] {
		if b.Close > b.Open {
			green++
		}
	}

	trend := "neutral"
	switch {
	case momentum5 > 0.5 && green >= 3:
		trend = "bullish"
	case momentum5 < -0.5 && green <= 2:
		trend = "bearish"
	}

	return &BarMomentum{
		Momentum5Pct:       round2(momentum5),
		Momentum10Pct:      round2(momentum10),
		VolumeAcceleration: round2(acceleration),
		GreenBarsLast5:     green,
		Trend:              trend,
	}
}

// ScreenStock applies the hard technical screen, returning whether the stock
// passed and a reason the dashboard can show. The shortlist decision itself
// is the decision service's; this screen exists for callers that want a
// threshold-only verdict.
func (a *Analyser) ScreenStock(set *IndicatorSet, cfg config.TradingConfig) (bool, string) {
	if set == nil {
		return false, "No market data"
	}

	price := set.Close
	if price > cfg.MaxSharePrice {
		return false, fmt.Sprintf("Price above max (%.2f > %.2f)", price, cfg.MaxSharePrice)
	}

	if set.VolatilityRatio == nil {
		return false, "Volatility ratio missing (indicators not computed)"
	}
	if *set.VolatilityRatio < cfg.VolatilityThreshold {
		return false, fmt.Sprintf("Volatility below threshold (%.4f < %.4f)", *set.VolatilityRatio, cfg.VolatilityThreshold)
	}

	if set.RSI14 == nil {
		return false, "RSI missing (indicators not computed)"
	}
	if *set.RSI14 >= rsiOverboughtMark {
		return false, fmt.Sprintf("RSI too high (%.2f >= 70)", *set.RSI14)
	}

	if set.BBMiddle == nil {
		return false, "Bollinger Bands missing"
	}
	if price <= *set.BBMiddle {
		return false, fmt.Sprintf("Close not above BB mid (%.2f <= %.2f)", price, *set.BBMiddle)
	}

	return true, "Passed technical criteria"
}

// Signals converts the indicator set into the candidate's signal bundle
func (set *IndicatorSet) Signals() domain.Signals {
	if set == nil {
		return domain.Signals{}
	}
	signals := domain.Signals{
		RSI14:           set.RSI14,
		ATR14:           set.ATR14,
		VolatilityRatio: set.VolatilityRatio,
		AvgVolume:       set.AvgVolume,
	}
	if set.BBUpper != nil && set.BBLower != nil && *set.BBUpper > *set.BBLower {
		pos := (set.Close - *set.BBLower) / (*set.BBUpper - *set.BBLower)
		if pos < 0 {
			pos = 0
		}
		if pos > 1 {
			pos = 1
		}
		signals.BollingerPosition = &pos
	}
	return signals
}

// IndicatorPayload is the raw-signal map handed to the decision service.
// Absent values are sent as null; the model is told to work with what is
// there rather than being given pass/fail verdicts.
func (set *IndicatorSet) IndicatorPayload() map[string]interface{} {
	if set == nil {
		return map[string]interface{}{
			"rsi_14": nil, "atr": nil, "volatility_ratio": nil, "bb_mid": nil,
		}
	}
	return map[string]interface{}{
		"rsi_14":           floatOrNil(set.RSI14),
		"atr":              floatOrNil(set.ATR14),
		"volatility_ratio": floatOrNil(set.VolatilityRatio),
		"bb_mid":           floatOrNil(set.BBMiddle),
	}
}

// Payload returns the momentum map for the decision service, nil-safe
func (m *BarMomentum) Payload() map[string]interface{} {
	if m == nil {
		return nil
	}
	return map[string]interface{}{
		"momentum_5_bars_pct":  m.Momentum5Pct,
		"momentum_10_bars_pct": m.Momentum10Pct,
		"volume_acceleration":  m.VolumeAcceleration,
		"green_bars_last_5":    m.GreenBarsLast5,
		"trend":                m.Trend,
	}
}

// lastValue returns the final element as a pointer, nil for empty series or
// a NaN/zero warm-up value.
func lastValue(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || v == 0 {
		return nil
	}
	return &v
}

func floatOrNil(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
