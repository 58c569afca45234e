// Package compliance records the consent and security trail of intake conversations.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventOptInGranted is logged when the user consents to the intake.
	EventOptInGranted AuditEventType = "consent.opt_in_granted"
	// EventOptInRefused is logged when the user refuses consent.
	EventOptInRefused AuditEventType = "consent.opt_in_refused"
	// EventIntakeDeclined is logged when the user declines the structured assessment.
	EventIntakeDeclined AuditEventType = "intake.declined"
	// EventIntakeCompleted is logged when every qualification answer is captured.
	EventIntakeCompleted AuditEventType = "intake.completed"
	// EventDisclaimerSent is logged when a disclaimer is added to a reply.
	EventDisclaimerSent AuditEventType = "compliance.disclaimer_sent"
	// EventPromptInjection is logged when a prompt injection attempt is blocked.
	EventPromptInjection AuditEventType = "security.prompt_injection"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID             string          `json:"id"`
	EventType      AuditEventType  `json:"event_type"`
	ConversationID string          `json:"conversation_id"`
	Language       string          `json:"language,omitempty"`
	Phase          string          `json:"phase,omitempty"`
	CapturedFields []string        `json:"captured_fields,omitempty"`
	UserMessage    string          `json:"user_message,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// For prompt injection detected
	InjectionReasons []string `json:"injection_reasons,omitempty"`
	InjectionScore   float64  `json:"injection_score,omitempty"`

	// For disclaimer sent
	DisclaimerLevel string `json:"disclaimer_level,omitempty"`
	DisclaimerText  string `json:"disclaimer_text,omitempty"`

	// For declines
	DeclinedAt string `json:"declined_at,omitempty"`
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	if db == nil {
		panic("compliance: db cannot be nil")
	}
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.CapturedFields == nil {
		event.CapturedFields = []string{}
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, conversation_id, language, phase,
			captured_fields, user_message, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.ConversationID,
		nullString(event.Language),
		nullString(event.Phase),
		pq.Array(event.CapturedFields),
		nullString(event.UserMessage),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogOptIn records the answer to the consent question.
func (s *AuditService) LogOptIn(ctx context.Context, conversationID, language string, granted bool) error {
	eventType := EventOptInRefused
	if granted {
		eventType = EventOptInGranted
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType:      eventType,
		ConversationID: conversationID,
		Language:       language,
		Phase:          "opt_in",
	})
}

// LogIntakeDeclined records a decline at the decision gate or the intake confirmation.
func (s *AuditService) LogIntakeDeclined(ctx context.Context, conversationID, language, phase string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{DeclinedAt: phase})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventIntakeDeclined,
		ConversationID: conversationID,
		Language:       language,
		Phase:          phase,
		Details:        detailsJSON,
	})
}

// LogIntakeCompleted records the names (never the values) of the captured fields.
func (s *AuditService) LogIntakeCompleted(ctx context.Context, conversationID, language string, fields []string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventIntakeCompleted,
		ConversationID: conversationID,
		Language:       language,
		Phase:          "closing",
		CapturedFields: fields,
	})
}

// LogPromptInjection logs when a prompt injection attempt is detected and blocked.
func (s *AuditService) LogPromptInjection(ctx context.Context, conversationID, phase string, score float64, reasons []string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{
		InjectionReasons: reasons,
		InjectionScore:   score,
	})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventPromptInjection,
		ConversationID: conversationID,
		Phase:          phase,
		UserMessage:    "[BLOCKED]", // Don't store injection payload
		Details:        detailsJSON,
	})
}

// LogDisclaimerSent logs when a disclaimer is added to a reply.
func (s *AuditService) LogDisclaimerSent(ctx context.Context, conversationID, level, disclaimerText string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{
		DisclaimerLevel: level,
		DisclaimerText:  disclaimerText,
	})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventDisclaimerSent,
		ConversationID: conversationID,
		Details:        detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, conversation_id, language, phase,
			   captured_fields, user_message, details, created_at
		FROM compliance_audit_events
		WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.ConversationID != "" {
		query += fmt.Sprintf(" AND conversation_id = $%d", argIdx)
		args = append(args, filter.ConversationID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var language, phase, userMsg sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &e.ConversationID, &language, &phase,
			pq.Array(&e.CapturedFields), &userMsg, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.Language = language.String
		e.Phase = phase.String
		e.UserMessage = userMsg.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to iterate audit events: %w", err)
	}
	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	ConversationID string
	EventType      AuditEventType
	StartTime      time.Time
	EndTime        time.Time
	Limit          int
	Offset         int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
