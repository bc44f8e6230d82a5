package guard

import (
	"regexp"
	"unicode/utf8"
)

var (
	// Literal <script>...</script> pairs, any attributes, any content,
	// case-insensitive, non-greedy, dot matches newline.
	scriptBlockRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)

	// The javascript: scheme as literal text anywhere in the string.
	jsSchemeRe = regexp.MustCompile(`(?i)javascript:`)

	// Inline event-handler attributes: onclick=, onerror =, ...
	eventAttrRe = regexp.MustCompile(`(?i)on\w+\s*=`)
)

// SanitizeString removes script blocks, javascript: scheme text, and inline
// event-handler patterns in a single pass, then truncates to MaxStringLen
// characters. Idempotent for inputs that do not nest one pattern inside
// another; crafted overlapping input (a script tag split by an inner script
// block) can reassemble into a removable pattern, and each pass strips one
// layer.
func SanitizeString(s string) string {
	s = scriptBlockRe.ReplaceAllString(s, "")
	s = jsSchemeRe.ReplaceAllString(s, "")
	s = eventAttrRe.ReplaceAllString(s, "")
	if utf8.RuneCountInString(s) > MaxStringLen {
		s = string([]rune(s)[:MaxStringLen])
	}
	return s
}

// Sanitize walks the decoded body and rewrites every string leaf in place.
// Both objects and arrays are recursed into, so array-valued fields cannot
// smuggle unsanitized strings. Container shape (key sets, element counts,
// nesting) is never changed. Returns the number of strings modified.
func Sanitize(v any) int {
	modified := 0
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if s, ok := child.(string); ok {
				if clean := SanitizeString(s); clean != s {
					t[k] = clean
					modified++
				}
				continue
			}
			modified += Sanitize(child)
		}
	case []any:
		for i, child := range t {
			if s, ok := child.(string); ok {
				if clean := SanitizeString(s); clean != s {
					t[i] = clean
					modified++
				}
				continue
			}
			modified += Sanitize(child)
		}
	}
	return modified
}

// Depth returns the maximum nesting depth of a decoded JSON value: the
// number of container-traversal steps from the root to the deepest leaf.
// A bare scalar is depth 0, {"a":1} is depth 1, and an empty container
// contributes no depth of its own.
func Depth(v any) int {
	return depth(v, 0)
}

func depth(v any, ancestors int) int {
	switch t := v.(type) {
	case map[string]any:
		max := ancestors
		for _, child := range t {
			if d := depth(child, ancestors+1); d > max {
				max = d
			}
		}
		return max
	case []any:
		max := ancestors
		for _, child := range t {
			if d := depth(child, ancestors+1); d > max {
				max = d
			}
		}
		return max
	default:
		return ancestors
	}
}
