package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Serialized value format shared by the file and redis drivers: strings and
// booleans are type-tagged, numerics are stored plain so the backend can
// increment them natively, everything else round-trips through JSON.
const (
	tagString = "str:"
	tagJSON   = "json:"
	tagBool   = "bool:"
)

func encodeValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return tagString + t, nil
	case bool:
		if t {
			return tagBool + "1", nil
		}
		return tagBool + "0", nil
	case int:
		return strconv.FormatInt(int64(t), 10), nil
	case int8:
		return strconv.FormatInt(int64(t), 10), nil
	case int16:
		return strconv.FormatInt(int64(t), 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 64), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cache: encode %T: %w", v, err)
		}
		return tagJSON + string(raw), nil
	}
}

func decodeValue(s string) (any, error) {
	switch {
	case strings.HasPrefix(s, tagString):
		return s[len(tagString):], nil
	case strings.HasPrefix(s, tagBool):
		return s[len(tagBool):] == "1", nil
	case strings.HasPrefix(s, tagJSON):
		var v any
		if err := json.Unmarshal([]byte(s[len(tagJSON):]), &v); err != nil {
			return nil, fmt.Errorf("cache: decode json value: %w", err)
		}
		return v, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	// Untagged non-numeric values predate the codec; pass them through.
	return s, nil
}

// toInt64 coerces a cached value for increment arithmetic.
func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
