package model

import "time"

// docString reads a string field, tolerating absence and wrong types.
func docString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// docTime reads a timestamp field; the zero time when absent.
func docTime(data map[string]any, key string) time.Time {
	t, _ := data[key].(time.Time)
	return t
}

// docTimePtr reads a nullable timestamp field.
func docTimePtr(data map[string]any, key string) *time.Time {
	if t, ok := data[key].(time.Time); ok {
		return &t
	}
	return nil
}

// docStrings reads a string-array field. Firestore hands arrays back as
// []any, so both representations are accepted.
func docStrings(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// docFloat reads a numeric field stored as float64 or int64.
func docFloat(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}
