package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Property limits.
const (
	// MaxPropertyDepth is the deepest nesting kept, counting the top-level map.
	MaxPropertyDepth = 3

	// MaxStringLength is the number of characters kept from a string value.
	MaxStringLength = 1000

	// MaxPropertiesSize is the advisory limit for the encoded properties.
	// Larger payloads are kept; callers log a warning.
	MaxPropertiesSize = 10 * 1024
)

// SanitizeProperties returns a normalised copy of props suitable for JSON
// encoding. Containers nested deeper than MaxPropertyDepth are dropped and
// strings are truncated to MaxStringLength characters. Nil input yields nil.
func SanitizeProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	return sanitizeMap(props, 1)
}

func sanitizeMap(m map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sv, ok := sanitizeValue(v, depth); ok {
			out[k] = sv
		}
	}
	return out
}

// sanitizeValue normalises v, which lives inside a container at depth.
// It reports false when v must be dropped.
func sanitizeValue(v any, depth int) (any, bool) {
	switch val := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return val, true
	case string:
		return truncate(val), true
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	case map[string]any:
		if depth >= MaxPropertyDepth {
			return nil, false
		}
		return sanitizeMap(val, depth+1), true
	case map[string]string:
		if depth >= MaxPropertyDepth {
			return nil, false
		}
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = truncate(s)
		}
		return m, true
	case []any:
		if depth >= MaxPropertyDepth {
			return nil, false
		}
		out := make([]any, 0, len(val))
		for _, item := range val {
			if sv, ok := sanitizeValue(item, depth+1); ok {
				out = append(out, sv)
			}
		}
		return out, true
	case []string:
		if depth >= MaxPropertyDepth {
			return nil, false
		}
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = truncate(s)
		}
		return out, true
	case fmt.Stringer:
		return truncate(val.String()), true
	default:
		return truncate(fmt.Sprint(val)), true
	}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxStringLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxStringLength])
}

// EncodedSize returns the JSON-encoded size of props, or -1 if they cannot
// be encoded.
func EncodedSize(props map[string]any) int {
	data, err := json.Marshal(props)
	if err != nil {
		return -1
	}
	return len(data)
}

// Merge layers property maps, later maps overriding earlier ones.
// Nil maps are skipped. The result is always non-nil.
func Merge(layers ...map[string]any) map[string]any {
	size := 0
	for _, l := range layers {
		size += len(l)
	}
	out := make(map[string]any, size)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// SnakeCase converts an identifier such as "newCheckoutFlow" or
// "Pricing-Page v2" to "new_checkout_flow" / "pricing_page_v2".
func SnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)

	runes := []rune(strings.TrimSpace(s))
	pendingSep := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 && i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					pendingSep = true
				}
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}
