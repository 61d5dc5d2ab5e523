package research

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
)

func fp(v float64) *float64 { return &v }

// zigzagBars builds n bars that climb two steps and give one back, so the
// series trends up without pegging RSI at 100.
func zigzagBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	price := 50.0
	for i := range bars {
		if i%3 == 2 {
			price -= 1.0
		} else {
			price += 2.0
		}
		bars[i] = domain.Bar{
			Time:   day.AddDate(0, 0, i),
			Open:   price - 0.5,
			High:   price + 1.5,
			Low:    price - 2.0,
			Close:  price,
			Volume: 1_000_000,
		}
	}
	return bars
}

func TestIndicatorsEmptySeries(t *testing.T) {
	a := NewAnalyser(zerolog.Nop())
	assert.Nil(t, a.Indicators(nil))
}

func TestIndicatorsShortSeriesCarriesCloseOnly(t *testing.T) {
	a := NewAnalyser(zerolog.Nop())

	set := a.Indicators(zigzagBars(10))

	require.NotNil(t, set)
	assert.Greater(t, set.Close, 0.0)
	assert.Nil(t, set.RSI14)
	assert.Nil(t, set.ATR14)
	assert.Nil(t, set.VolatilityRatio)
	assert.Nil(t, set.BBMiddle)
}

func TestIndicatorsFullSeries(t *testing.T) {
	a := NewAnalyser(zerolog.Nop())
	bars := zigzagBars(60)

	set := a.Indicators(bars)

	require.NotNil(t, set)
	assert.Equal(t, bars[len(bars)-1].Close, set.Close)

	require.NotNil(t, set.RSI14)
	assert.Greater(t, *set.RSI14, 50.0) // uptrend
	assert.Less(t, *set.RSI14, 100.0)

	require.NotNil(t, set.ATR14)
	assert.Greater(t, *set.ATR14, 0.0)

	require.NotNil(t, set.VolatilityRatio)
	assert.InDelta(t, *set.ATR14/set.Close, *set.VolatilityRatio, 1e-12)

	require.NotNil(t, set.BBMiddle)
	require.NotNil(t, set.BBUpper)
	require.NotNil(t, set.BBLower)
	assert.Greater(t, *set.BBUpper, *set.BBLower)

	require.NotNil(t, set.AvgVolume)
	assert.InDelta(t, 1_000_000, *set.AvgVolume, 1.0)
}

func TestMomentumNeedsFiveBars(t *testing.T) {
	a := NewAnalyser(zerolog.Nop())
	assert.Nil(t, a.Momentum(zigzagBars(4)))
}

func TestMomentumComputation(t *testing.T) {
	a := NewAnalyser(zerolog.Nop())

	closes := []float64{100, 101, 102, 103, 104, 106, 107, 108, 109, 110}
	volumes := []float64{1000, 1000, 1000, 2000, 2000, 2000, 2000, 3000, 3000, 3000}
	bars := make([]domain.Bar, len(closes))
	for i := range bars {
		bars[i] = domain.Bar{Open: closes[i] - 1, Close: closes[i], Volume: volumes[i]}
	}

	m := a.Momentum(bars)

	require.NotNil(t, m)
	// (110 - 106) / 106 and (110 - 100) / 100
	assert.InDelta(t, 3.77, m.Momentum5Pct, 0.001)
	assert.InDelta(t, 10.0, m.Momentum10Pct, 0.001)
	assert.InDelta(t, 3.0, m.VolumeAcceleration, 0.001)
	assert.Equal(t, 5, m.GreenBarsLast5)
	assert.Equal(t, "bullish", m.Trend)
}

func TestMomentumBearish(t *testing.T) {
	a := NewAnalyser(zerolog.Nop())

	bars := make([]domain.Bar, 10)
	price := 110.0
	for i := range bars {
		price -= 2
		bars[i] = domain.Bar{Open: price + 1, Close: price, Volume: 1000}
	}

	m := a.Momentum(bars)

	require.NotNil(t, m)
	assert.Negative(t, m.Momentum5Pct)
	assert.Equal(t, 0, m.GreenBarsLast5)
	assert.Equal(t, "bearish", m.Trend)
}

func TestMomentumFiveBarsSkipsTenBarWindow(t *testing.T) {
	a := NewAnalyser(zerolog.Nop())

	m := a.Momentum(zigzagBars(5))

	require.NotNil(t, m)
	assert.Equal(t, 0.0, m.Momentum10Pct)
}

func TestScreenStock(t *testing.T) {
	cfg := config.DefaultBase().Trading
	cfg.MaxSharePrice = 100
	cfg.VolatilityThreshold = 0.04

	passing := &IndicatorSet{
		Close:           50,
		RSI14:           fp(55),
		VolatilityRatio: fp(0.06),
		BBMiddle:        fp(48),
	}

	tests := []struct {
		name   string
		set    *IndicatorSet
		pass   bool
		reason string
	}{
		{
			name:   "no data",
			set:    nil,
			reason: "No market data",
		},
		{
			name:   "price above max",
			set:    &IndicatorSet{Close: 120},
			reason: "Price above max (120.00 > 100.00)",
		},
		{
			name:   "volatility missing",
			set:    &IndicatorSet{Close: 50},
			reason: "Volatility ratio missing (indicators not computed)",
		},
		{
			name:   "volatility too low",
			set:    &IndicatorSet{Close: 50, VolatilityRatio: fp(0.01)},
			reason: "Volatility below threshold (0.0100 < 0.0400)",
		},
		{
			name:   "rsi missing",
			set:    &IndicatorSet{Close: 50, VolatilityRatio: fp(0.06)},
			reason: "RSI missing (indicators not computed)",
		},
		{
			name:   "rsi overbought",
			set:    &IndicatorSet{Close: 50, VolatilityRatio: fp(0.06), RSI14: fp(82.5)},
			reason: "RSI too high (82.50 >= 70)",
		},
		{
			name:   "bollinger missing",
			set:    &IndicatorSet{Close: 50, VolatilityRatio: fp(0.06), RSI14: fp(55)},
			reason: "Bollinger Bands missing",
		},
		{
			name:   "close below bb mid",
			set:    &IndicatorSet{Close: 50, VolatilityRatio: fp(0.06), RSI14: fp(55), BBMiddle: fp(52)},
			reason: "Close not above BB mid (50.00 <= 52.00)",
		},
		{
			name:   "pass",
			set:    passing,
			pass:   true,
			reason: "Passed technical criteria",
		},
	}

	a := NewAnalyser(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pass, reason := a.ScreenStock(tt.set, cfg)
			assert.Equal(t, tt.pass, pass)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestSignalsBollingerPosition(t *testing.T) {
	set := &IndicatorSet{Close: 105, BBUpper: fp(110), BBLower: fp(100)}

	signals := set.Signals()

	require.NotNil(t, signals.BollingerPosition)
	assert.InDelta(t, 0.5, *signals.BollingerPosition, 1e-9)
}

func TestSignalsBollingerPositionClamped(t *testing.T) {
	below := &IndicatorSet{Close: 95, BBUpper: fp(110), BBLower: fp(100)}
	above := &IndicatorSet{Close: 115, BBUpper: fp(110), BBLower: fp(100)}

	require.NotNil(t, below.Signals().BollingerPosition)
	assert.Equal(t, 0.0, *below.Signals().BollingerPosition)
	assert.Equal(t, 1.0, *above.Signals().BollingerPosition)
}

func TestSignalsNilSet(t *testing.T) {
	var set *IndicatorSet
	assert.Equal(t, domain.Signals{}, set.Signals())
}

func TestIndicatorPayloadNilSafe(t *testing.T) {
	var set *IndicatorSet

	payload := set.IndicatorPayload()

	require.Contains(t, payload, "rsi_14")
	assert.Nil(t, payload["rsi_14"])
	assert.Nil(t, payload["bb_mid"])
}

func TestIndicatorPayloadValues(t *testing.T) {
	set := &IndicatorSet{Close: 50, RSI14: fp(61.2), VolatilityRatio: fp(0.05), BBMiddle: fp(49)}

	payload := set.IndicatorPayload()

	assert.Equal(t, 61.2, payload["rsi_14"])
	assert.Equal(t, 0.05, payload["volatility_ratio"])
	assert.Equal(t, 49.0, payload["bb_mid"])
	assert.Nil(t, payload["atr"])
}

func TestMomentumPayloadNil(t *testing.T) {
	var m *BarMomentum
	assert.Nil(t, m.Payload())
}
