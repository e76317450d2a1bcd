package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// isSentinel reports values that mean "no data" even though the key is present.
func isSentinel(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		trimmed := strings.TrimSpace(v)
		return trimmed == "" ||
			strings.EqualFold(trimmed, "N/A") ||
			strings.EqualFold(trimmed, "null") ||
			strings.EqualFold(trimmed, "undefined")
	}
	return false
}

// scalarString renders strings and numbers. Numbers use their shortest decimal form.
func scalarString(value any) (string, bool) {
	if isSentinel(value) {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	}
	return "", false
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := scalarString(m[key]); ok && s != "" {
			return s
		}
	}
	return ""
}

func floatField(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// intField truncates toward zero and saturates at the int range.
func intField(m map[string]any, keys ...string) (int, bool) {
	f, ok := floatField(m, keys...)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	switch {
	case f >= math.MaxInt:
		return math.MaxInt, true
	case f <= math.MinInt:
		return math.MinInt, true
	}
	return int(f), true
}

func boolField(m map[string]any, keys ...string) bool {
	for _, key := range keys {
		switch v := m[key].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		}
	}
	return false
}

// mapField returns the first non-empty object under keys.
func mapField(m map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if nested, ok := m[key].(map[string]any); ok && len(nested) > 0 {
			return nested
		}
	}
	return nil
}

func sliceField(m map[string]any, keys ...string) []any {
	for _, key := range keys {
		if list, ok := m[key].([]any); ok {
			return list
		}
	}
	return nil
}

func stringSlice(values []any) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if s, ok := scalarString(value); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
