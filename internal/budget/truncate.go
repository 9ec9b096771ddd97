package budget

// truncationMarker is appended to every hard-cut string.
const truncationMarker = "… [truncated]"

// maxArrayItems bounds how many array elements survive truncation.
const maxArrayItems = 3

// TruncateToolResult recursively shrinks a tool result to roughly maxChars
// while preserving its structure: strings are hard-cut with a marker, arrays
// keep their first three items, objects split the budget evenly across keys,
// and scalars pass through unchanged. A truncated string never comes back
// longer than maxChars: the marker is reserved inside the budget, and budgets
// too small to hold the marker get a bare cut.
func TruncateToolResult(value interface{}, maxChars int) interface{} {
	if maxChars <= 0 {
		maxChars = 1
	}

	switch v := value.(type) {
	case string:
		if len(v) <= maxChars {
			return v
		}
		if maxChars <= len(truncationMarker) {
			return cutString(v, maxChars)
		}
		return cutString(v, maxChars-len(truncationMarker)) + truncationMarker

	case []interface{}:
		n := len(v)
		if n > maxArrayItems {
			n = maxArrayItems
		}
		out := make([]interface{}, n)
		per := maxChars / maxArrayItems
		for i := 0; i < n; i++ {
			out[i] = TruncateToolResult(v[i], per)
		}
		return out

	case map[string]interface{}:
		if len(v) == 0 {
			return v
		}
		per := maxChars / len(v)
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = TruncateToolResult(item, per)
		}
		return out

	default:
		return value
	}
}

// cutString cuts at a byte budget without splitting a UTF-8 sequence.
func cutString(s string, max int) string {
	if max >= len(s) {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xc0 == 0x80 {
		cut--
	}
	return s[:cut]
}
