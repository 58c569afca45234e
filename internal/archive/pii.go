package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\(?[0-9][0-9()\-.\s]{6,}[0-9]`)
)

// HashValue returns the hex-encoded SHA-256 of the trimmed, lowercased value.
func HashValue(v string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return fmt.Sprintf("%x", h)
}

// HashPhone hashes the digits of a phone number so formatting does not matter.
func HashPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return HashValue(b.String())
}

// ScrubPII replaces emails with [EMAIL], phone numbers with [PHONE] and each
// of the given names with [NAME].
func ScrubPII(text string, names ...string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	for _, name := range names {
		name = strings.TrimSpace(name)
		if len([]rune(name)) < 2 {
			continue
		}
		re, err := regexp.Compile(`(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(name) + `([^\p{L}\p{N}]|$)`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, "${1}[NAME]${2}")
	}
	return text
}

// ScrubMessages applies PII scrubbing to all messages in-place.
func ScrubMessages(msgs []Message, names ...string) {
	for i := range msgs {
		msgs[i].Content = ScrubPII(msgs[i].Content, names...)
	}
}
