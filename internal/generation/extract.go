package generation

import "strings"

// extractJSONString scans raw for `"<field>":"` and returns the string
// value that follows, manually unescaping the control sequences seen in
// practice. This is the fallback path for payloads that fail structured
// parsing; upstream framings are not schema-guaranteed and dropping data
// on a parse miss is worse than a best-effort scrape.
func extractJSONString(raw, field string) (string, bool) {
	marker := `"` + field + `":"`
	start := strings.Index(raw, marker)
	if start < 0 {
		return "", false
	}

	var b strings.Builder
	escaped := false
	for _, ch := range raw[start+len(marker):] {
		if escaped {
			switch ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			default:
				b.WriteByte('\\')
				b.WriteRune(ch)
			}
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '"':
			return b.String(), true
		default:
			b.WriteRune(ch)
		}
	}

	// Unterminated string, likely a truncated frame.
	return "", false
}
