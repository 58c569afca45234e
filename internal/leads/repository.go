package leads

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Repository defines the interface for lead profile storage.
type Repository interface {
	Upsert(ctx context.Context, profile Profile) error
	Get(ctx context.Context, conversationID string) (*Profile, error)
	List(ctx context.Context, filter ListFilter) ([]*Profile, error)
}

// InMemoryRepository is a Repository backed by a map, for local runs and tests.
type InMemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{profiles: make(map[string]Profile)}
}

// Upsert replaces the stored profile, keeping the original creation time.
func (r *InMemoryRepository) Upsert(ctx context.Context, profile Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.profiles[profile.ConversationID]; ok && !existing.CreatedAt.IsZero() {
		profile.CreatedAt = existing.CreatedAt
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	profile.CustomFields = profile.CustomFields.Clone()
	r.profiles[profile.ConversationID] = profile
	return nil
}

func (r *InMemoryRepository) Get(ctx context.Context, conversationID string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[conversationID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	profile.CustomFields = profile.CustomFields.Clone()
	return &profile, nil
}

// List returns profiles newest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Profile, error) {
	r.mu.RLock()
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if filter.CompleteOnly && !p.IntakeComplete {
			continue
		}
		if filter.CountryCode != "" && !strings.EqualFold(p.Contact.CountryCode, filter.CountryCode) {
			continue
		}
		p := p
		p.CustomFields = p.CustomFields.Clone()
		out = append(out, &p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*Profile{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
