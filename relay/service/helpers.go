package service

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// unwrapMessage returns the inner message when the payload uses the
// {"message": {...}} wrapper form, otherwise the payload itself.
func unwrapMessage(payload map[string]interface{}) map[string]interface{} {
	if inner, ok := payload["message"].(map[string]interface{}); ok {
		return inner
	}
	return payload
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// unitOrDefault keeps v when it is a usable (0, 1] fraction, otherwise the
// default. Capture quality and downscale are both fractions; out-of-range
// values from callers are treated like absent ones.
func unitOrDefault(v, def float64) float64 {
	if v <= 0 || v > 1 {
		return def
	}
	return v
}

// boundTimeout converts a caller-supplied wait in seconds to a duration,
// falling back to def when unset and capping at maxCaptureWait.
func boundTimeout(seconds float64, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	d := time.Duration(seconds * float64(time.Second))
	if d > maxCaptureWait {
		return maxCaptureWait
	}
	return d
}

// toFloat coerces the value shapes JSON decoding and query parameters
// produce into a float64.
func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toInt coerces a JSON-ish value into an int. Fractional floats are
// truncated, matching how clients send counters as numbers.
func toInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	default:
		return 0, false
	}
}

// toBool coerces truthy values; absent or unrecognized values are false.
func toBool(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true" || x == "1"
	case float64:
		return x != 0
	default:
		return false
	}
}
