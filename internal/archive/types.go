package archive

import (
	"time"

	"github.com/wolfman30/emma-intake/internal/intake"
)

// RecordVersion is bumped whenever TranscriptRecord changes shape.
const RecordVersion = "1.0"

// Outcomes recorded on archived transcripts.
const (
	OutcomeCompleted = "completed"
	OutcomeDeclined  = "declined"
	OutcomeOptedOut  = "opted_out"
)

// TranscriptRecord is the structure written to S3 once an intake settles.
type TranscriptRecord struct {
	Version           string    `json:"version"`
	ConversationID    string    `json:"conversation_id"`
	PhoneHash         string    `json:"phone_hash,omitempty"`
	NameHash          string    `json:"name_hash,omitempty"`
	Language          string    `json:"language"`
	CountryCode       string    `json:"country_code,omitempty"`
	Outcome           string    `json:"outcome"`
	FinalPhase        string    `json:"final_phase"`
	QuestionsAnswered int       `json:"questions_answered"`
	CustomFieldKeys   []string  `json:"custom_field_keys,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	ArchivedAt        time.Time `json:"archived_at"`
	DurationSeconds   int       `json:"duration_seconds"`
	MessageCount      int       `json:"message_count"`
	Messages          []Message `json:"messages"`
}

// Message is a single scrubbed turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	ConversationID string `json:"conversation_id"`
	S3Key          string `json:"s3_key"`
	Outcome        string `json:"outcome"`
	Language       string `json:"language"`
	ArchivedAt     string `json:"archived_at"`
	MessageCount   int    `json:"message_count"`
}

// OutcomeFor maps a settled phase onto an archive outcome. It returns ""
// for phases that are not archived.
func OutcomeFor(p intake.Phase) string {
	switch p {
	case intake.PhaseClosing:
		return OutcomeCompleted
	case intake.PhaseDeclineClosing:
		return OutcomeDeclined
	case intake.PhaseOptedOut:
		return OutcomeOptedOut
	default:
		return ""
	}
}

// NewTranscriptRecord builds a scrubbed record from the conversation state.
// The lead's phone and names never appear in clear text.
func NewTranscriptRecord(state intake.State, outcome string, now time.Time) *TranscriptRecord {
	contact := state.Contact
	names := []string{contact.Name, contact.FamilyName}
	fullName := joinName(contact.Name, contact.FamilyName)

	rec := &TranscriptRecord{
		Version:         RecordVersion,
		ConversationID:  state.ConversationID,
		Language:        state.Language,
		CountryCode:     contact.CountryCode,
		Outcome:         outcome,
		FinalPhase:      state.Label(),
		CustomFieldKeys: state.Custom.Keys(),
		StartedAt:       state.CreatedAt,
		ArchivedAt:      now.UTC(),
		MessageCount:    len(state.Transcript),
	}
	if contact.Phone != "" {
		rec.PhoneHash = HashPhone(contact.Phone)
	}
	if fullName != "" {
		rec.NameHash = HashValue(fullName)
	}
	if n, ok := state.Custom[intake.FieldQuestionsAnswered]; ok {
		rec.QuestionsAnswered = toInt(n)
	}
	if !state.CreatedAt.IsZero() && now.After(state.CreatedAt) {
		rec.DurationSeconds = int(now.Sub(state.CreatedAt).Seconds())
	}

	rec.Messages = make([]Message, 0, len(state.Transcript))
	for _, turn := range state.Transcript {
		rec.Messages = append(rec.Messages, Message{Role: turn.Role, Content: turn.Content})
	}
	ScrubMessages(rec.Messages, names...)
	return rec
}

func joinName(first, family string) string {
	switch {
	case first == "":
		return family
	case family == "":
		return first
	default:
		return first + " " + family
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
