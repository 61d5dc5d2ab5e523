package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"50.25", 50.25},
		{"C50.25", 50.25},
		{"H48.10", 48.10},
		{"1,234.56", 1234.56},
		{"", 0},
		{"halted", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parsePrice(tc.in), "input %q", tc.in)
	}
}

func TestFlexFloatUnmarshal(t *testing.T) {
	var row struct {
		A flexFloat `json:"a"`
		B flexFloat `json:"b"`
		C flexFloat `json:"c"`
	}
	payload := []byte(`{"a": 48.5, "b": "C50.25", "c": null}`)
	require.NoError(t, json.Unmarshal(payload, &row))
	assert.Equal(t, 48.5, float64(row.A))
	assert.Equal(t, 50.25, float64(row.B))
	assert.Equal(t, 0.0, float64(row.C))
}

func TestNormalizePeriod(t *testing.T) {
	assert.Equal(t, "2d", normalizePeriod("2 D"))
	assert.Equal(t, "1w", normalizePeriod("1 week"))
	assert.Equal(t, "6m", normalizePeriod("6 months"))
	assert.Equal(t, "1y", normalizePeriod("1 year"))
	assert.Equal(t, "30d", normalizePeriod("30d"))
}

func TestNormalizeBar(t *testing.T) {
	assert.Equal(t, "5min", normalizeBar("5 mins"))
	assert.Equal(t, "1min", normalizeBar("1 minute"))
	assert.Equal(t, "1h", normalizeBar("1 hour"))
	assert.Equal(t, "1d", normalizeBar("1 day"))
	assert.Equal(t, "15min", normalizeBar("15min"))
}

func TestSplitOrderRef(t *testing.T) {
	group, leg, ok := splitOrderRef("OCA_EXIT_AAPL.sl")
	require.True(t, ok)
	assert.Equal(t, "OCA_EXIT_AAPL", group)
	assert.Equal(t, "sl", leg)

	group, leg, ok = splitOrderRef("OCA_9001.tp")
	require.True(t, ok)
	assert.Equal(t, "OCA_9001", group)
	assert.Equal(t, "tp", leg)

	// Refs without the OCA prefix or without a leg are not group members
	_, _, ok = splitOrderRef("manual-order-1")
	assert.False(t, ok)
	_, _, ok = splitOrderRef("EXIT_AAPL.sl")
	assert.False(t, ok)
	_, _, ok = splitOrderRef("OCA_EXIT_AAPL.")
	assert.False(t, ok)
}

func TestNormalizeOrderType(t *testing.T) {
	assert.Equal(t, "LMT", normalizeOrderType("LIMIT"))
	assert.Equal(t, "LMT", normalizeOrderType("Limit"))
	assert.Equal(t, "STP", normalizeOrderType("STOP"))
	assert.Equal(t, "MKT", normalizeOrderType("Market"))
	assert.Equal(t, "MOC", normalizeOrderType("moc"))
}

func TestFirstField(t *testing.T) {
	assert.Equal(t, "NASDAQ", firstField("NASDAQ;NYSE;ARCA"))
	assert.Equal(t, "SMART", firstField("SMART,NYSE"))
	assert.Equal(t, "LSE", firstField("LSE"))
	assert.Equal(t, "", firstField(""))
}
