package module

import (
	"fmt"
	"strings"
)

// StringList reads a list of strings from module settings. Entries are
// upper-cased so they compare against item ids. A missing key yields def.
func StringList(settings map[string]any, key string, def []string) ([]string, error) {
	v, ok := settings[key]
	if !ok || v == nil {
		return def, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("setting %s: want a list, got %T", key, v)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("setting %s[%d]: want a string, got %T", key, i, item)
		}
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// Int reads an integer setting. A missing key yields def.
func Int(settings map[string]any, key string, def int) (int, error) {
	v, ok := settings[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("setting %s: want an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("setting %s: want an integer, got %T", key, v)
	}
}
