package leads

import (
	"strings"
	"time"

	"github.com/wolfman30/emma-intake/internal/intake"
)

// Profile is the cumulative lead built from one intake conversation.
type Profile struct {
	ConversationID    string              `json:"conversation_id"`
	Contact           intake.ContactInfo  `json:"contact"`
	CustomFields      intake.CustomFields `json:"custom_fields,omitempty"`
	Phase             string              `json:"phase"`
	Language          string              `json:"language"`
	IntakeComplete    bool                `json:"intake_complete"`
	DeclinedSelection bool                `json:"declined_selection"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Validate checks the fields every store needs.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ConversationID) == "" {
		return ErrInvalidProfile
	}
	return nil
}

// ProfileFromState snapshots the lead view of a conversation state.
func ProfileFromState(s intake.State) Profile {
	return Profile{
		ConversationID:    s.ConversationID,
		Contact:           s.Contact,
		CustomFields:      s.Custom.Clone(),
		Phase:             s.Label(),
		Language:          s.Language,
		IntakeComplete:    s.Custom.Bool(intake.FieldIntakeComplete),
		DeclinedSelection: s.Custom.Bool(intake.FieldDeclinedSelection),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// ListFilter narrows List results.
type ListFilter struct {
	Limit        int
	Offset       int
	CompleteOnly bool
	CountryCode  string
}
