package convert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FloatFromString format
func FloatFromString(raw string) (float64, error) {
	flt, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("could not convert value: %s Error: %w", raw, err)
	}
	return flt, nil
}

// FloatFromAny coerces loosely typed payload values into a float64. Nil and
// empty strings coerce to zero without error, everything else must be a
// number or a numeric string.
func FloatFromAny(raw any) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		if v == "" {
			return 0, nil
		}
		return FloatFromString(v)
	default:
		return 0, fmt.Errorf("unable to parse, value not numeric: %T", raw)
	}
}

// Int64FromString format
func Int64FromString(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse as int64: %s", raw)
	}
	return n, nil
}
