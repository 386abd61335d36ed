package observability

import "unicode"

// sanitize drops control characters and truncates to limit runes so
// client-provided values cannot forge log lines.
func sanitize(value string, limit int) string {
	if value == "" {
		return ""
	}
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}
