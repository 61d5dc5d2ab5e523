package gateway

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
)

// flexFloat tolerates the gateway's mixed numeric encodings: plain numbers,
// quoted numbers, and price strings with a letter prefix ("C50.25" for a
// close-derived value, "H" for halted).
type flexFloat float64

// UnmarshalJSON implements lenient float parsing
func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	*f = flexFloat(parsePrice(string(data)))
	return nil
}

// parsePrice parses a price string, stripping any non-numeric prefix and
// thousands separators. Unparseable input yields 0.
func parsePrice(s string) float64 {
	s = strings.TrimSpace(s)
	start := 0
	for start < len(s) {
		ch := s[start]
		if (ch >= '0' && ch <= '9') || ch == '-' || ch == '.' {
			break
		}
		start++
	}
	s = strings.ReplaceAll(s[start:], ",", "")
	if s == "" {
		return 0
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return value
}

// parseInt64 parses an integer string, 0 on failure
func parseInt64(s string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// formatFloat renders an account figure the way the wire protocol carries it
func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// firstField returns the first entry of a delimited list ("NASDAQ;NYSE" or
// "AAPL STK")
func firstField(s string) string {
	for _, sep := range []string{";", ",", " "} {
		if idx := strings.Index(s, sep); idx > 0 {
			return s[:idx]
		}
	}
	return s
}

// fieldAsFloat extracts a numeric snapshot field regardless of its encoding
func fieldAsFloat(row snapshotRow, field string) float64 {
	value, ok := row[field]
	if !ok {
		return 0
	}
	return toFloat(value)
}

// fieldAsVolume extracts a volume field. The gateway abbreviates large
// volumes ("4.3M", "610K"); plain numbers pass through.
func fieldAsVolume(row snapshotRow, field string) float64 {
	value, ok := row[field]
	if !ok {
		return 0
	}
	s, ok := value.(string)
	if !ok {
		return toFloat(value)
	}
	s = strings.TrimSpace(s)
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier, s = 1e6, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "B"):
		multiplier, s = 1e9, strings.TrimSuffix(s, "B")
	}
	return parsePrice(s) * multiplier
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case string:
		return parsePrice(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// normalizeOrderType maps gateway order type names onto domain order types
func normalizeOrderType(s string) domain.OrderType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT", "LMT":
		return domain.OrderLimit
	case "STOP", "STP":
		return domain.OrderStop
	case "MARKET", "MKT":
		return domain.OrderMarket
	default:
		return domain.OrderType(strings.ToUpper(s))
	}
}

// normalizePeriod maps "2 D" style period strings onto the gateway's compact
// form ("2d"). Already-compact input passes through unchanged.
func normalizePeriod(period string) string {
	compact := strings.ToLower(strings.ReplaceAll(period, " ", ""))
	for suffix, unit := range map[string]string{
		"days": "d", "day": "d",
		"weeks": "w", "week": "w",
		"months": "m", "month": "m",
		"years": "y", "year": "y",
	} {
		if strings.HasSuffix(compact, suffix) {
			return strings.TrimSuffix(compact, suffix) + unit
		}
	}
	return compact
}

// normalizeBar maps "5 mins" style bar sizes onto the gateway form ("5min")
func normalizeBar(barSize string) string {
	compact := strings.ToLower(strings.ReplaceAll(barSize, " ", ""))
	for suffix, unit := range map[string]string{
		"mins": "min", "minutes": "min", "minute": "min",
		"hours": "h", "hour": "h",
		"days": "d", "day": "d",
		"weeks": "w", "week": "w",
		"months": "m", "month": "m",
	} {
		if strings.HasSuffix(compact, suffix) {
			return strings.TrimSuffix(compact, suffix) + unit
		}
	}
	return compact
}
