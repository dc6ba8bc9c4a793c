package observability

import (
	"strings"
	"unicode"
)

// sanitizeString drops control characters and bounds the length so log
// fields cannot carry injected newlines or unbounded payloads.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SanitizeRoute bounds route patterns for log fields.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds HTTP method names.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID bounds identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}

// MaskPAN reduces a value that is itself a card number to its last four
// digits. Values that do not look like a PAN are bounded instead.
func MaskPAN(value string) string {
	digits := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < 12 || len(digits) > 19 {
		return sanitizeString(value, 32)
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

// RedactCardNumbers masks 12 to 19 digit runs embedded in free text,
// keeping the surrounding text intact. Separating spaces and dashes inside
// a run are treated as part of it.
func RedactCardNumbers(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	runes := []rune(text)
	for i := 0; i < len(runes); {
		if !unicode.IsDigit(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}

		// Scan the digit run, allowing single separators between groups.
		end := i
		digitCount := 0
		for end < len(runes) {
			r := runes[end]
			if unicode.IsDigit(r) {
				digitCount++
				end++
				continue
			}
			if (r == ' ' || r == '-') && end+1 < len(runes) && unicode.IsDigit(runes[end+1]) {
				end++
				continue
			}
			break
		}

		if digitCount >= 12 && digitCount <= 19 {
			masked := 0
			for _, r := range runes[i:end] {
				if unicode.IsDigit(r) && masked < digitCount-4 {
					b.WriteRune('*')
					masked++
					continue
				}
				b.WriteRune(r)
			}
		} else {
			b.WriteString(string(runes[i:end]))
		}
		i = end
	}

	return b.String()
}
