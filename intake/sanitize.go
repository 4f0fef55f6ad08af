package intake

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// policy strips every element but keeps its text, including the text of
// script and style elements.
var policy = bluemonday.StrictPolicy().AllowElementsContent("script", "style")

// Sanitize removes all markup from s and trims surrounding whitespace.
// Plain text passes through unchanged.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	// Entity-encoded markup turns into markup once unescaped, so repeat
	// until the value is stable.
	for range 3 {
		next := html.UnescapeString(policy.Sanitize(s))
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}

// SanitizeValue sanitizes every string inside a decoded JSON value.
func SanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return Sanitize(t)
	case map[string]any:
		return SanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = SanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// SanitizeMap returns a copy of m with every string value and key
// sanitized.
func SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[Sanitize(k)] = SanitizeValue(v)
	}
	return out
}
