// Package country resolves E.164 dialing-code prefixes to country metadata.
package country

import (
	"sort"
	"strings"
	"unicode"
)

const (
	unknownName = "Unknown"
	unknownCode = "XX"
	unknownFlag = "🌍"

	// maxUnknownDigits bounds the fallback prefix so it never exceeds four
	// characters including the plus sign.
	maxUnknownDigits = 3
)

// Info is the derived country metadata for a phone number.
type Info struct {
	Prefix string `json:"country_prefix"`
	Name   string `json:"country_name"`
	Code   string `json:"country_code"`
	Flag   string `json:"country_flag"`
}

// Known reports whether the prefix came from the dialing-code table.
func (i Info) Known() bool {
	return i.Code != unknownCode
}

// byLength holds the table prefixes ordered longest first so that specific
// codes such as +1787 win over +1.
var byLength = func() []string {
	prefixes := make([]string, 0, len(table))
	for prefix := range table {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})
	return prefixes
}()

// Resolve maps a phone string to country metadata using longest-prefix
// matching. It returns nil when phone does not start with "+". Any other
// input yields a result; unrecognized codes resolve to an Unknown record.
func Resolve(phone string) *Info {
	if !strings.HasPrefix(phone, "+") {
		return nil
	}
	normalized := "+" + digitsOnly(phone[1:])

	for _, prefix := range byLength {
		if strings.HasPrefix(normalized, prefix) {
			entry := table[prefix]
			return &Info{Prefix: prefix, Name: entry.name, Code: entry.code, Flag: flag(entry.code)}
		}
	}

	digits := normalized[1:]
	if len(digits) > maxUnknownDigits {
		digits = digits[:maxUnknownDigits]
	}
	return &Info{Prefix: "+" + digits, Name: unknownName, Code: unknownCode, Flag: unknownFlag}
}

// Prefixes returns the known dialing codes, longest first.
func Prefixes() []string {
	out := make([]string, len(byLength))
	copy(out, byLength)
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// flag builds the regional-indicator emoji for a two-letter ISO code.
func flag(code string) string {
	if len(code) != 2 {
		return unknownFlag
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r > unicode.MaxASCII || r < 'A' || r > 'Z' {
			return unknownFlag
		}
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}
