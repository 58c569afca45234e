package leads

import "errors"

var (
	// ErrProfileNotFound is returned when no profile exists for a conversation.
	ErrProfileNotFound = errors.New("leads: profile not found")

	// ErrInvalidProfile is returned when a profile lacks its conversation id.
	ErrInvalidProfile = errors.New("leads: conversation id is required")
)
