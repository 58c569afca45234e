package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wolfman30/emma-intake/internal/intake"
)

// ErrSessionNotFound is returned when no state is stored for a conversation.
var ErrSessionNotFound = errors.New("conversation: session not found")

// SessionStore persists the intake state of each conversation.
type SessionStore interface {
	Load(ctx context.Context, conversationID string) (*intake.State, error)
	Save(ctx context.Context, state *intake.State) error
}

// MemorySessionStore keeps sessions in process memory. Used for local
// development and tests.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]intake.State
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]intake.State)}
}

func (s *MemorySessionStore) Load(ctx context.Context, conversationID string) (*intake.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, conversationID)
	}
	clone := state.Clone()
	return &clone, nil
}

func (s *MemorySessionStore) Save(ctx context.Context, state *intake.State) error {
	if state == nil || state.ConversationID == "" {
		return errors.New("conversation: state requires a conversation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ConversationID] = state.Clone()
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("emma:session:%s", id)
}
