package nodes

import (
	"fmt"
	"strconv"
	"strings"
)

// stringValue renders an upstream result as text. nil becomes "".
func stringValue(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

func dataString(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	return stringValue(data[key])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// stringList flattens a multi-input value into non-empty strings.
func stringList(v interface{}) []string {
	var out []string
	switch list := v.(type) {
	case nil:
	case []interface{}:
		for _, item := range list {
			out = append(out, stringList(item)...)
		}
	case []string:
		for _, s := range list {
			if s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := stringValue(list); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// percentParam reads a 0..100 value from node data. Missing or empty values use def.
func percentParam(data map[string]interface{}, key string, def float64) (float64, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return def, nil
	}

	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(n), "%")
		if s == "" {
			return def, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid number %q", key, n)
		}
		v = parsed
	default:
		return 0, fmt.Errorf("%s: unsupported value %v", key, raw)
	}

	if v < 0 || v > 100 {
		return 0, fmt.Errorf("%s must be between 0 and 100, got %g", key, v)
	}
	return v, nil
}
