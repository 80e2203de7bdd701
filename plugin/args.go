package plugin

// Args is the free-form argument map from a profile entry. TOML numbers
// arrive as int64 or float64 depending on how they were written, so the
// getters normalize.
type Args map[string]any

// String returns a string arg or the fallback.
func (a Args) String(key, fallback string) string {
	if v, ok := a[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Int returns an integer arg or the fallback.
func (a Args) Int(key string, fallback int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// Float returns a float arg or the fallback.
func (a Args) Float(key string, fallback float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return fallback
	}
}

// Strings returns a string-slice arg, accepting []string or []any.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Bool returns a boolean arg or the fallback.
func (a Args) Bool(key string, fallback bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return fallback
}
