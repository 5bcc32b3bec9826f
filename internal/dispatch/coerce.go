package dispatch

import (
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// valueKeys are the payload fields tried, in order, for the observation.
var valueKeys = []string{"price", "value"}

// coerceValue extracts a finite number from a marketData payload. It accepts
// {"price": n}, {"value": n}, a bare number, or numeric strings in any of
// those places. Anything else is rejected.
func coerceValue(data json.RawMessage) (float64, bool) {
	if len(data) == 0 {
		return 0, false
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return 0, false
	}

	if fields, ok := decoded.(map[string]any); ok {
		for _, key := range valueKeys {
			if v, ok := numeric(fields[key]); ok {
				return v, true
			}
		}
		return 0, false
	}
	return numeric(decoded)
}

func numeric(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
