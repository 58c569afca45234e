package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/wolfman30/emma-intake/internal/events"
	"github.com/wolfman30/emma-intake/internal/intake"
	"github.com/wolfman30/emma-intake/internal/leads"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

// Service emails advisors when a lead finishes the intake.
type Service struct {
	email      EmailSender
	recipients []string
	leadsRepo  leads.Repository
	logger     *logging.Logger
}

// NewService creates a notification service. leadsRepo is optional and only
// used to enrich the summary with fields captured after the event was built.
func NewService(email EmailSender, recipients []string, leadsRepo leads.Repository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	var cleaned []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return &Service{
		email:      email,
		recipients: cleaned,
		leadsRepo:  leadsRepo,
		logger:     logger,
	}
}

// NotifyIntakeComplete sends the lead summary to every configured advisor.
func (s *Service) NotifyIntakeComplete(ctx context.Context, evt events.IntakeCompletedV1) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Debug("notify: email not configured, skipping", "conversation_id", evt.ConversationID)
		return nil
	}

	contact := evt.Contact
	fields := evt.CustomFields.Clone()
	if s.leadsRepo != nil {
		profile, err := s.leadsRepo.Get(ctx, evt.ConversationID)
		switch {
		case err == nil && profile != nil:
			contact = profile.Contact.Merge(contact)
			fields = profile.CustomFields.Merge(fields)
		case err != nil && !errors.Is(err, leads.ErrProfileNotFound):
			s.logger.Warn("notify: lead lookup failed", "error", err, "conversation_id", evt.ConversationID)
		}
	}

	summary := buildSummary(evt, contact, fields)
	msg := EmailMessage{
		Subject:        fmt.Sprintf("New qualified lead - %s", summary.name),
		Body:           summary.text(),
		HTML:           summary.html(),
		ConversationID: evt.ConversationID,
		Category:       CategoryLeadSummary,
	}

	var errs []error
	for _, recipient := range s.recipients {
		msg.To = recipient
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send email", "error", err, "to", recipient, "conversation_id", evt.ConversationID)
			errs = append(errs, err)
			continue
		}
		s.logger.Info("notify: lead summary sent", "to", recipient, "conversation_id", evt.ConversationID)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d emails failed: %w", len(errs), len(s.recipients), errors.Join(errs...))
	}
	return nil
}

type summaryRow struct {
	label string
	value string
}

type leadSummary struct {
	name      string
	completed string
	rows      []summaryRow
	questions []summaryRow
}

func buildSummary(evt events.IntakeCompletedV1, contact intake.ContactInfo, fields intake.CustomFields) leadSummary {
	name := strings.TrimSpace(contact.Name + " " + contact.FamilyName)
	if name == "" {
		name = "Unnamed lead"
	}
	s := leadSummary{name: name, completed: evt.CompletedAt.UTC().Format("January 2, 2006 at 15:04 MST")}

	s.rows = append(s.rows, summaryRow{"Name", name})
	if contact.Phone != "" {
		s.rows = append(s.rows, summaryRow{"Phone", contact.Phone})
	}
	if contact.WhatsApp != "" {
		s.rows = append(s.rows, summaryRow{"WhatsApp", "https://wa.me/" + strings.TrimPrefix(contact.WhatsApp, "+")})
	}
	if contact.CountryName != "" {
		s.rows = append(s.rows, summaryRow{"Country", strings.TrimSpace(contact.CountryFlag + " " + contact.CountryName)})
	}
	s.rows = append(s.rows, summaryRow{"Language", evt.Language})
	for _, q := range intake.QualificationQuestions() {
		if v, ok := fields[q.Field]; ok {
			s.rows = append(s.rows, summaryRow{q.Text("en"), formatValue(v)})
		}
	}

	var keys []string
	for k := range fields {
		if strings.HasPrefix(k, "question_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.questions = append(s.questions, summaryRow{formatValue(fields[k]), fields.String("answer_" + strings.TrimPrefix(k, "question_"))})
	}
	return s
}

func (s leadSummary) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s completed the intake on %s.\n\n", s.name, s.completed)
	for _, r := range s.rows {
		fmt.Fprintf(&b, "%s: %s\n", r.label, r.value)
	}
	if len(s.questions) > 0 {
		b.WriteString("\nQuestions asked:\n")
		for i, q := range s.questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q.label)
		}
	}
	b.WriteString("\nPlease reach out to schedule the expert review.\n")
	return b.String()
}

func (s leadSummary) html() string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: sans-serif; max-width: 600px;">`)
	fmt.Fprintf(&b, `<h2>New qualified lead</h2><p><strong>%s</strong> completed the intake on %s.</p>`,
		html.EscapeString(s.name), html.EscapeString(s.completed))
	b.WriteString(`<table style="border-collapse: collapse; margin: 20px 0;">`)
	for _, r := range s.rows {
		fmt.Fprintf(&b, `<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
			html.EscapeString(r.label), html.EscapeString(r.value))
	}
	b.WriteString(`</table>`)
	if len(s.questions) > 0 {
		b.WriteString(`<h3>Questions asked</h3><ol>`)
		for _, q := range s.questions {
			fmt.Fprintf(&b, `<li>%s</li>`, html.EscapeString(q.label))
		}
		b.WriteString(`</ol>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, formatValue(p))
		}
		return strings.Join(parts, ", ")
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	default:
		return fmt.Sprint(val)
	}
}
