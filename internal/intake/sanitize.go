package intake

import (
	"regexp"
	"strings"
)

var (
	// strayRecordRE matches flat JSON objects that look like contact records
	// written without a marker.
	strayRecordRE = regexp.MustCompile(`\{[^{}]*"(?:name|family_name|phone|whatsapp|country_prefix)"\s*:[^{}]*\}`)
	excessBlankRE = regexp.MustCompile(`\n{3,}`)
)

// Sanitize removes every marker block, any bare marker token and stray
// contact-like JSON from a model reply, then collapses runs of blank lines.
// Other prose is kept verbatim. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	for {
		idx, marker := firstMarker(text)
		if idx < 0 {
			break
		}
		text = stripBlock(text, idx, marker)
	}
	// Removing an inner record can expose an enclosing one.
	for {
		stripped := strayRecordRE.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = stripped
	}
	text = excessBlankRE.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func firstMarker(text string) (int, string) {
	c := strings.Index(text, ContactMarker)
	f := strings.Index(text, CustomMarker)
	switch {
	case c < 0 && f < 0:
		return -1, ""
	case f < 0 || (c >= 0 && c < f):
		return c, ContactMarker
	default:
		return f, CustomMarker
	}
}

// stripBlock cuts the marker at idx plus its payload. An unterminated object
// is cut to the end of its first line.
func stripBlock(text string, idx int, marker string) string {
	rest := text[idx+len(marker):]

	open, fenced := payloadStart(rest)
	if open < 0 {
		end := 0
		for end < len(rest) && (rest[end] == ' ' || rest[end] == '\t') {
			end++
		}
		return text[:idx] + rest[end:]
	}

	start := idx
	for start > 0 && (text[start-1] == ' ' || text[start-1] == '\t') {
		start--
	}
	end := balancedEnd(rest, open)
	if end < 0 {
		if nl := strings.IndexByte(rest[open:], '\n'); nl >= 0 {
			end = open + nl
		} else {
			end = len(rest)
		}
	}
	if fenced {
		if j := skipSpace(rest, end); strings.HasPrefix(rest[j:], "```") {
			end = j + 3
		}
	}
	return text[:start] + rest[end:]
}
