package compliance

import (
	"context"
	"fmt"
	"strings"
)

// DisclaimerLevel represents the verbosity of the disclaimer.
type DisclaimerLevel string

const (
	DisclaimerShort  DisclaimerLevel = "short"
	DisclaimerMedium DisclaimerLevel = "medium"
	DisclaimerFull   DisclaimerLevel = "full"
)

var disclaimerTexts = map[DisclaimerLevel]map[string]string{
	DisclaimerShort: {
		"en": "General information, not financial advice.",
		"es": "Información general, no asesoría financiera.",
	},
	DisclaimerMedium: {
		"en": "This is general information, not individualized financial advice. A licensed advisor will review your situation.",
		"es": "Esta es información general, no asesoría financiera personalizada. Un asesor licenciado revisará su situación.",
	},
	DisclaimerFull: {
		"en": "This is an automated intake assistant. The information provided is general in nature and not a substitute for individualized financial, tax or legal advice. A licensed advisor reviews every answer before any recommendation is made.",
		"es": "Este es un asistente automatizado. La información es de carácter general y no sustituye la asesoría financiera, fiscal o legal personalizada. Un asesor licenciado revisa cada respuesta antes de cualquier recomendación.",
	},
}

// DisclaimerConfig configures the disclaimer service.
type DisclaimerConfig struct {
	Level   DisclaimerLevel
	Enabled bool
}

// DefaultDisclaimerConfig returns sensible defaults.
func DefaultDisclaimerConfig() DisclaimerConfig {
	return DisclaimerConfig{Level: DisclaimerShort, Enabled: true}
}

// eventLogger is the slice of AuditService the disclaimer needs.
type eventLogger interface {
	LogDisclaimerSent(ctx context.Context, conversationID, level, disclaimerText string) error
}

// DisclaimerService appends a financial-advice disclaimer to content answers.
type DisclaimerService struct {
	audit  eventLogger
	config DisclaimerConfig
}

// NewDisclaimerService creates a new disclaimer service. audit may be nil.
func NewDisclaimerService(audit eventLogger, config DisclaimerConfig) *DisclaimerService {
	return &DisclaimerService{audit: audit, config: config}
}

// Text returns the disclaimer for lang, falling back to English.
func (s *DisclaimerService) Text(lang string) string {
	texts, ok := disclaimerTexts[s.config.Level]
	if !ok {
		texts = disclaimerTexts[DisclaimerMedium]
	}
	if text, ok := texts[lang]; ok {
		return text
	}
	return texts["en"]
}

// AddDisclaimer appends the disclaimer unless the message already carries it.
func (s *DisclaimerService) AddDisclaimer(ctx context.Context, conversationID, lang, message string) string {
	if s == nil || !s.config.Enabled {
		return message
	}
	disclaimer := s.Text(lang)
	if strings.Contains(message, disclaimer) {
		return message
	}
	result := fmt.Sprintf("%s\n\n%s", strings.TrimSpace(message), disclaimer)
	if s.audit != nil {
		_ = s.audit.LogDisclaimerSent(ctx, conversationID, string(s.config.Level), disclaimer)
	}
	return result
}
