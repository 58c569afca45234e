package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/emma-intake/internal/events"
	"github.com/wolfman30/emma-intake/internal/intake"
	"github.com/wolfman30/emma-intake/internal/leads"
)

type mockEmailSender struct {
	mu      sync.Mutex
	sent    []EmailMessage
	failFor map[string]bool
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[msg.To] {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func completedEvent() events.IntakeCompletedV1 {
	return events.IntakeCompletedV1{
		ConversationID: "conv-1",
		Language:       "es",
		Contact: intake.EnrichContact(intake.ContactInfo{
			Name:       "Ana",
			FamilyName: "Pérez",
			Phone:      "+34612345678",
		}),
		CustomFields: intake.CustomFields{
			"question_1":          "¿Qué es un fondo indexado?",
			"answer_1":            "Un fondo que replica un índice.",
			"retirement_timeline": "5-10 years",
			"risk_tolerance":      "Moderate",
		},
		CompletedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestService_NotifyIntakeComplete(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, []string{"advisor@example.com", " ", "lead-desk@example.com"}, nil, nil)

	require.NoError(t, svc.NotifyIntakeComplete(context.Background(), completedEvent()))
	require.Len(t, sender.sent, 2)

	msg := sender.sent[0]
	assert.Equal(t, "advisor@example.com", msg.To)
	assert.Equal(t, "New qualified lead - Ana Pérez", msg.Subject)
	assert.Contains(t, msg.Body, "Phone: +34612345678")
	assert.Contains(t, msg.Body, "WhatsApp: https://wa.me/34612345678")
	assert.Contains(t, msg.Body, "When are you planning to retire?: 5-10 years")
	assert.Contains(t, msg.Body, "1. ¿Qué es un fondo indexado?")
	assert.Contains(t, msg.HTML, "Ana Pérez")
	assert.Equal(t, "conv-1", msg.ConversationID)
	assert.Equal(t, CategoryLeadSummary, msg.Category)
	assert.Equal(t, "lead-desk@example.com", sender.sent[1].To)
}

func TestService_NotifyIntakeComplete_EnrichesFromRepository(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	require.NoError(t, repo.Upsert(context.Background(), leads.Profile{
		ConversationID: "conv-1",
		Contact:        intake.ContactInfo{Name: "Ana"},
		CustomFields:   intake.CustomFields{"product_interest": []string{"Retirement", "Education"}},
	}))

	sender := &mockEmailSender{}
	svc := NewService(sender, []string{"advisor@example.com"}, repo, nil)
	evt := completedEvent()
	evt.CustomFields = nil

	require.NoError(t, svc.NotifyIntakeComplete(context.Background(), evt))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Body, "Retirement, Education")
}

func TestService_NotifyIntakeComplete_PartialFailure(t *testing.T) {
	sender := &mockEmailSender{failFor: map[string]bool{"bad@example.com": true}}
	svc := NewService(sender, []string{"bad@example.com", "good@example.com"}, nil, nil)

	err := svc.NotifyIntakeComplete(context.Background(), completedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Len(t, sender.sent, 1)
}

func TestService_NotifyIntakeComplete_NotConfigured(t *testing.T) {
	assert.NoError(t, NewService(nil, []string{"a@example.com"}, nil, nil).NotifyIntakeComplete(context.Background(), completedEvent()))

	sender := &mockEmailSender{}
	assert.NoError(t, NewService(sender, nil, nil, nil).NotifyIntakeComplete(context.Background(), completedEvent()))
	assert.Empty(t, sender.sent)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", formatValue(nil))
	assert.Equal(t, "a, b", formatValue([]string{"a", "b"}))
	assert.Equal(t, "a, b", formatValue([]any{"a", "b"}))
	assert.Equal(t, "Yes", formatValue(true))
	assert.Equal(t, "3", formatValue(3))
}
