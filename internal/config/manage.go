package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are listed as set or not set.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		value := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			value = maskSecret(value)
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  value,
		})
	}
	return result
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "(set)"
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), NewKeychain(), key, value)
}

// setKey validates value against the key type. Secrets go to the keychain.
func setKey(b ConfigBackend, kc Keychain, key, value string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if s.secret {
		if err := kc.Set(Service, s.account(), value); err != nil {
			return fmt.Errorf("storing %s (or set %s instead): %w", key, s.env, err)
		}
		return nil
	}
	if i, ok := v.(int); ok {
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
