// Package intake holds the intake dialogue state machine together with the
// structured-field protocol the assistant uses to report captured data.
package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/emma-intake/internal/country"
)

// Marker tokens the model writes in front of an embedded JSON payload.
const (
	ContactMarker = "COLLECTED_INFO:"
	CustomMarker  = "CUSTOM_FIELDS:"
)

// Custom field keys with fixed meaning.
const (
	FieldQuestionsAnswered = "questions_answered"
	FieldIntakeComplete    = "intake_complete"
	FieldDeclinedSelection = "declined_selection"
)

// ContactInfo is the contact record. Country fields and WhatsApp are derived
// from Phone and never asked of the user.
type ContactInfo struct {
	Name          string `json:"name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	WhatsApp      string `json:"whatsapp,omitempty"`
	CountryPrefix string `json:"country_prefix,omitempty"`
	CountryName   string `json:"country_name,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	CountryFlag   string `json:"country_flag,omitempty"`
}

// IsZero reports whether no field is set.
func (c ContactInfo) IsZero() bool {
	return c == ContactInfo{}
}

// HasPhone reports whether a valid (plus-prefixed) phone is on record.
func (c ContactInfo) HasPhone() bool {
	return strings.HasPrefix(c.Phone, "+")
}

// Merge overlays the non-empty fields of other onto c and re-derives the
// enrichment so the country fields always agree with the phone.
func (c ContactInfo) Merge(other ContactInfo) ContactInfo {
	if other.Name != "" {
		c.Name = other.Name
	}
	if other.FamilyName != "" {
		c.FamilyName = other.FamilyName
	}
	if other.Phone != "" && other.Phone != c.Phone {
		c.Phone = other.Phone
		c.WhatsApp, c.CountryPrefix, c.CountryName, c.CountryCode, c.CountryFlag = "", "", "", "", ""
	}
	if other.WhatsApp != "" && c.WhatsApp == "" {
		c.WhatsApp = other.WhatsApp
	}
	return EnrichContact(c)
}

// EnrichContact derives WhatsApp and the country fields from Phone when the
// phone starts with "+". Values already present for those fields are replaced.
func EnrichContact(c ContactInfo) ContactInfo {
	c.Phone = strings.TrimSpace(c.Phone)
	info := country.Resolve(c.Phone)
	if info == nil {
		return c
	}
	c.WhatsApp = WhatsAppNumber(c.Phone)
	c.CountryPrefix = info.Prefix
	c.CountryName = info.Name
	c.CountryCode = info.Code
	c.CountryFlag = info.Flag
	return c
}

var whatsappStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// WhatsAppNumber strips spaces, hyphens and parentheses from a phone number.
func WhatsAppNumber(phone string) string {
	return whatsappStripper.Replace(phone)
}

// contactFromMap builds a record from a decoded payload. Scalar values of any
// JSON type are accepted so a numeric phone does not drop the whole block.
func contactFromMap(m map[string]any) ContactInfo {
	str := func(key string) string {
		v, ok := m[key]
		if !ok || v == nil {
			return ""
		}
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t)
		case json.Number:
			return t.String()
		case bool, float64:
			return fmt.Sprint(t)
		default:
			return ""
		}
	}
	return ContactInfo{
		Name:          str("name"),
		FamilyName:    str("family_name"),
		Phone:         str("phone"),
		WhatsApp:      str("whatsapp"),
		CountryPrefix: str("country_prefix"),
		CountryName:   str("country_name"),
		CountryCode:   str("country_code"),
		CountryFlag:   str("country_flag"),
	}
}

// CustomFields is the open mapping of qualification attributes. Each turn
// carries at most one; callers merge them into the cumulative profile.
type CustomFields map[string]any

// Clone returns a shallow copy. List values are copied so merges never alias.
func (f CustomFields) Clone() CustomFields {
	if f == nil {
		return nil
	}
	out := make(CustomFields, len(f))
	for k, v := range f {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// UnmarshalJSON keeps decoded values in the same shapes the extractor
// produces, so a state read back from a store compares equal to the one saved.
func (f *CustomFields) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*f = nil
		return nil
	}
	*f = normalizeCustom(raw)
	return nil
}

// Merge returns f with every key of other applied on top.
func (f CustomFields) Merge(other CustomFields) CustomFields {
	if len(other) == 0 {
		return f
	}
	out := f.Clone()
	if out == nil {
		out = make(CustomFields, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Keys returns the field names in no particular order.
func (f CustomFields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return keys
}

// Bool reads a boolean flag, accepting "true" strings the model sometimes emits.
func (f CustomFields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

// String reads a field as display text. Lists are joined with ", ".
func (f CustomFields) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}
