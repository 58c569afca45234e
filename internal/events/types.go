package events

import (
	"time"

	"github.com/wolfman30/emma-intake/internal/intake"
)

const (
	TypeIntakeCompleted = "intake.completed.v1"
	TypeIntakeDeclined  = "intake.declined.v1"
)

// IntakeCompletedV1 is published once all qualification answers are captured.
type IntakeCompletedV1 struct {
	ConversationID string              `json:"conversation_id"`
	Language       string              `json:"language"`
	Contact        intake.ContactInfo  `json:"contact"`
	CustomFields   intake.CustomFields `json:"custom_fields"`
	CompletedAt    time.Time           `json:"completed_at"`
}

func (IntakeCompletedV1) EventType() string { return TypeIntakeCompleted }

// IntakeDeclinedV1 is published when the user refuses consent or the assessment.
type IntakeDeclinedV1 struct {
	ConversationID string    `json:"conversation_id"`
	Language       string    `json:"language"`
	Phase          string    `json:"phase"`
	OptedOut       bool      `json:"opted_out"`
	DeclinedAt     time.Time `json:"declined_at"`
}

func (IntakeDeclinedV1) EventType() string { return TypeIntakeDeclined }
