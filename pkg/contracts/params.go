package contracts

import (
	"strconv"
	"strings"
)

// ParamString renders a scalar command parameter. Strings are trimmed;
// other types yield "".
func ParamString(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// ParamList reads a list parameter given either as a JSON array or as a
// comma-separated string. Empty entries are skipped.
func ParamList(v any) []string {
	var raw []string
	switch v := v.(type) {
	case []any:
		for _, e := range v {
			raw = append(raw, ParamString(e))
		}
	case []string:
		raw = v
	case string:
		raw = strings.Split(v, ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ItemCount is the number of records a create command writes: one per entry
// of a shopping "items" list, otherwise one.
func ItemCount(entity EntityType, params map[string]any) int {
	if entity == EntityShopping {
		if n := len(ParamList(params["items"])); n > 0 {
			return n
		}
	}
	return 1
}
