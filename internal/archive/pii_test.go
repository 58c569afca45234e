package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPhone(t *testing.T) {
	h1 := HashPhone("+34 612 345 678")
	h2 := HashPhone("34612345678")
	h3 := HashPhone("+15551234567")

	assert.Equal(t, h1, h2, "formatting should not change the hash")
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64, "SHA-256 hex should be 64 chars")
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		names  []string
		expect string
	}{
		{"email", "contact me at john@example.com please", nil, "contact me at [EMAIL] please"},
		{"phone", "call me at (330) 333-2654", nil, "call me at [PHONE]"},
		{"phone with plus", "my number is +5215512345678", nil, "my number is [PHONE]"},
		{"both", "email: a@b.com phone: 330-333-2654", nil, "email: [EMAIL] phone: [PHONE]"},
		{"no pii", "I want to know about the program", nil, "I want to know about the program"},
		{"name", "My name is Sarah Lee", []string{"Sarah", "Lee"}, "My name is [NAME] [NAME]"},
		{"accented name", "Soy María.", []string{"María"}, "Soy [NAME]."},
		{"name inside word kept", "Leela asked", []string{"Lee"}, "Leela asked"},
		{"case insensitive", "hola ana", []string{"Ana"}, "hola [NAME]"},
		{"single letter ignored", "a b c", []string{"a"}, "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input, tt.names...))
		})
	}
}

func TestScrubMessages(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "I'm Ana, email ana@test.com"},
		{Role: "assistant", Content: "Thanks Ana"},
	}
	ScrubMessages(msgs, "Ana")
	assert.Equal(t, "I'm [NAME], email [EMAIL]", msgs[0].Content)
	assert.Equal(t, "Thanks [NAME]", msgs[1].Content)
}
