package config

import (
	"fmt"
	"math"
	"strconv"
)

// ConfigBackend abstracts platform-specific storage of non-secret keys.
// macOS uses UserDefaults (via the `defaults` CLI); other platforms use a
// YAML file. Keys are dotted paths such as "llm.model".
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
	// Location describes where values are kept, for display.
	Location() string
}

// Location reports where the platform backend keeps configuration.
func Location() string {
	return newPlatformBackend().Location()
}

// asInt converts a decoded scalar to int. Decoders hand back int, float64 or
// string depending on the source format.
func asInt(key string, v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		if val < math.MinInt || val > math.MaxInt {
			return 0, fmt.Errorf("value %d for %s is out of range", val, key)
		}
		return int(val), nil
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
		}
		return int(val), nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("invalid type %T for %s", v, key)
	}
}
