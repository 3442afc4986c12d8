// ABOUTME: Free-form settings block handed to a single decoder plugin
// ABOUTME: Typed getters report malformed values instead of guessing
package config

import (
	"fmt"
	"strconv"
)

// Block is one [decoder.<name>] table.
type Block map[string]any

// Enabled reports the "enabled" key, defaulting to true.
func (b Block) Enabled() bool {
	v, ok := b["enabled"]
	if !ok {
		return true
	}
	on, ok := v.(bool)
	return !ok || on
}

// String returns a string value or def when the key is absent.
func (b Block) String(key, def string) (string, error) {
	v, ok := b[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %T", key, v)
	}
	return s, nil
}

// Uint returns a non-negative integer value or def when the key is absent.
func (b Block) Uint(key string, def uint) (uint, error) {
	v, ok := b[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("%s: negative value %d", key, n)
		}
		return uint(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("%s: negative value %d", key, n)
		}
		return uint(n), nil
	case float64:
		if n < 0 || n != float64(uint(n)) {
			return 0, fmt.Errorf("%s: not a whole number: %v", key, n)
		}
		return uint(n), nil
	case string:
		u, err := strconv.ParseUint(n, 10, 0)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return uint(u), nil
	}
	return 0, fmt.Errorf("%s: expected integer, got %T", key, v)
}

// Bool returns a boolean value or def when the key is absent.
func (b Block) Bool(key string, def bool) (bool, error) {
	v, ok := b[key]
	if !ok {
		return def, nil
	}
	on, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: expected bool, got %T", key, v)
	}
	return on, nil
}
