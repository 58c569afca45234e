package conversation

import (
	"context"
	"errors"

	"github.com/wolfman30/emma-intake/internal/intake"
)

// ErrUpstreamUnavailable marks a turn that failed because the language model
// could not be reached. The session is left untouched so the user can retry.
var ErrUpstreamUnavailable = errors.New("conversation: language model unavailable")

// Service is the intake chat surface shared by every transport.
type Service interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	GetState(ctx context.Context, conversationID string) (*intake.State, error)
}

// UserData is optional profile data the widget already knows.
type UserData struct {
	Name     string `json:"name,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

// ChatRequest is one inbound user turn.
type ChatRequest struct {
	ConversationID      string        `json:"conversationId"`
	Message             string        `json:"message"`
	Language            string        `json:"language"`
	ConversationHistory []intake.Turn `json:"conversationHistory,omitempty"`
	UserData            *UserData     `json:"userData,omitempty"`
}

// ChatResponse is the sanitized reply plus everything captured so far.
type ChatResponse struct {
	ConversationID string              `json:"conversationId"`
	Response       string              `json:"response"`
	CollectedInfo  *intake.ContactInfo `json:"collectedInfo"`
	CustomFields   intake.CustomFields `json:"customFields"`
	Language       string              `json:"language"`
	Phase          string              `json:"phase"`
	Complete       bool                `json:"complete"`
	Error          string              `json:"error,omitempty"`
}
