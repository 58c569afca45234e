package intake

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/wolfman30/emma-intake/pkg/logging"
)

// ErrMalformedPayload marks a marker whose payload could not be decoded.
var ErrMalformedPayload = errors.New("intake: malformed structured payload")

// ExtractContact parses the first contact block in raw model output and
// enriches it from the phone. It returns nil when no marker is present or the
// payload is malformed; the latter is logged.
func ExtractContact(raw string, logger *logging.Logger) *ContactInfo {
	payload, found, err := decodeMarker(raw, ContactMarker)
	if !found {
		return nil
	}
	if err != nil {
		logMalformed(logger, ContactMarker, err)
		return nil
	}
	contact := EnrichContact(contactFromMap(payload))
	return &contact
}

// ExtractCustomFields parses the first custom-fields block in raw model output.
// Absent and malformed blocks both yield nil.
func ExtractCustomFields(raw string, logger *logging.Logger) CustomFields {
	payload, found, err := decodeMarker(raw, CustomMarker)
	if !found {
		return nil
	}
	if err != nil {
		logMalformed(logger, CustomMarker, err)
		return nil
	}
	return normalizeCustom(payload)
}

// HasMarker reports whether raw contains the marker token at all.
func HasMarker(raw, marker string) bool {
	return strings.Contains(raw, marker)
}

func logMalformed(logger *logging.Logger, marker string, err error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn("structured payload ignored", "marker", strings.TrimSuffix(marker, ":"), "error", err)
}

// decodeMarker finds the first marker and decodes the JSON object following
// it. found reports whether the marker exists; err is set when it does but
// no object could be decoded.
func decodeMarker(raw, marker string) (map[string]any, bool, error) {
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return nil, false, nil
	}
	rest := raw[idx+len(marker):]
	open, _ := payloadStart(rest)
	if open < 0 {
		return nil, true, ErrMalformedPayload
	}

	if obj, err := decodeObject(rest[open:]); err == nil {
		return obj, true, nil
	}

	// The decoder failed; retry on the balanced region in case the object is
	// followed by something that confused it.
	end := balancedEnd(rest, open)
	if end < 0 {
		return nil, true, ErrMalformedPayload
	}
	obj, err := decodeObject(rest[open:end])
	if err != nil {
		return nil, true, errors.Join(ErrMalformedPayload, err)
	}
	return obj, true, nil
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrMalformedPayload
	}
	return obj, nil
}

// payloadStart skips whitespace and an optional markdown fence after a marker
// and returns the index of the opening brace, or -1. fenced reports whether a
// fence was opened.
func payloadStart(rest string) (int, bool) {
	i := skipSpace(rest, 0)
	fenced := false
	if strings.HasPrefix(rest[i:], "```") {
		fenced = true
		nl := strings.IndexByte(rest[i:], '\n')
		if nl < 0 {
			return -1, fenced
		}
		i = skipSpace(rest, i+nl+1)
	}
	if i >= len(rest) || rest[i] != '{' {
		return -1, fenced
	}
	return i, fenced
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

// balancedEnd returns the index just past the brace that closes the object
// opened at s[open], honoring JSON string escapes. It returns -1 when the
// object never closes.
func balancedEnd(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// normalizeCustom converts decoder output into the shapes the rest of the
// package works with: integral numbers become int, string lists []string.
func normalizeCustom(in map[string]any) CustomFields {
	out := make(CustomFields, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case float64:
		if t == float64(int(t)) {
			return int(t)
		}
		return t
	case []any:
		strs := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return t
			}
			strs = append(strs, s)
		}
		return strs
	default:
		return v
	}
}

// FromToolInput converts a structured tool-call payload into the same records
// the marker path yields.
func FromToolInput(name string, input map[string]any) (*ContactInfo, CustomFields) {
	switch name {
	case ToolRecordContact:
		contact := EnrichContact(contactFromMap(input))
		return &contact, nil
	case ToolRecordCustomFields:
		return nil, normalizeCustom(input)
	default:
		return nil, nil
	}
}

// Tool names for providers that support structured output.
const (
	ToolRecordContact      = "record_contact_info"
	ToolRecordCustomFields = "record_custom_fields"
)
