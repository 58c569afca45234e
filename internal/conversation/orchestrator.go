package conversation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/emma-intake/internal/archive"
	"github.com/wolfman30/emma-intake/internal/events"
	"github.com/wolfman30/emma-intake/internal/intake"
	"github.com/wolfman30/emma-intake/internal/leads"
	"github.com/wolfman30/emma-intake/internal/observability/metrics"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

const (
	defaultMaxTokens     = 600
	defaultTemperature   = 0.2
	defaultHistoryBudget = 6000
	defaultCallTimeout   = 60 * time.Second
	sideEffectTimeout    = 10 * time.Second
)

// openingCue stands in for the user on the very first turn, which carries no
// text. Providers reject a conversation without a user message.
const openingCue = "Hello"

// AuditLogger records consent and security milestones.
type AuditLogger interface {
	LogOptIn(ctx context.Context, conversationID, language string, granted bool) error
	LogIntakeDeclined(ctx context.Context, conversationID, language, phase string) error
	LogIntakeCompleted(ctx context.Context, conversationID, language string, fields []string) error
	LogPromptInjection(ctx context.Context, conversationID, phase string, score float64, reasons []string) error
}

// Disclaimer appends the compliance footer to content answers.
type Disclaimer interface {
	AddDisclaimer(ctx context.Context, conversationID, lang, message string) string
}

// LeadWriter stores the cumulative lead profile.
type LeadWriter interface {
	Upsert(ctx context.Context, profile leads.Profile) error
}

// TranscriptArchiver stores settled transcripts.
type TranscriptArchiver interface {
	ArchiveConversation(ctx context.Context, record *archive.TranscriptRecord) error
}

// Orchestrator drives the intake state machine and uses the language model
// only for the wording of each reply.
type Orchestrator struct {
	llm      LLMClient
	sessions SessionStore
	logger   *logging.Logger
	cfg      orchestratorConfig
	turns    *turnLocks
}

type orchestratorConfig struct {
	model         string
	maxTokens     int32
	temperature   float32
	historyBudget int
	callTimeout   time.Duration
	useTools      bool
	audit         AuditLogger
	disclaimer    Disclaimer
	leads         LeadWriter
	publisher     events.Publisher
	archiver      TranscriptArchiver
	metrics       *metrics.IntakeMetrics
	now           func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*orchestratorConfig)

// WithModel labels metrics and requests with the model id.
func WithModel(model string) Option {
	return func(cfg *orchestratorConfig) {
		if model = strings.TrimSpace(model); model != "" {
			cfg.model = model
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(cfg *orchestratorConfig) {
		if n > 0 {
			cfg.maxTokens = int32(n)
		}
	}
}

// WithHistoryTokenBudget caps the transcript sent to the model.
func WithHistoryTokenBudget(n int) Option {
	return func(cfg *orchestratorConfig) {
		if n > 0 {
			cfg.historyBudget = n
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(cfg *orchestratorConfig) {
		if d > 0 {
			cfg.callTimeout = d
		}
	}
}

// WithStructuredOutput toggles tool declarations. Marker scraping always
// runs as the fallback.
func WithStructuredOutput(enabled bool) Option {
	return func(cfg *orchestratorConfig) {
		cfg.useTools = enabled
	}
}

func WithAuditLogger(audit AuditLogger) Option {
	return func(cfg *orchestratorConfig) {
		cfg.audit = audit
	}
}

func WithDisclaimer(d Disclaimer) Option {
	return func(cfg *orchestratorConfig) {
		cfg.disclaimer = d
	}
}

func WithLeadWriter(w LeadWriter) Option {
	return func(cfg *orchestratorConfig) {
		cfg.leads = w
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(cfg *orchestratorConfig) {
		cfg.publisher = p
	}
}

func WithArchiver(a TranscriptArchiver) Option {
	return func(cfg *orchestratorConfig) {
		cfg.archiver = a
	}
}

func WithIntakeMetrics(m *metrics.IntakeMetrics) Option {
	return func(cfg *orchestratorConfig) {
		cfg.metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *orchestratorConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// NewOrchestrator wires the chat service. llm and sessions are required.
func NewOrchestrator(llm LLMClient, sessions SessionStore, logger *logging.Logger, opts ...Option) *Orchestrator {
	if llm == nil {
		panic("conversation: llm client cannot be nil")
	}
	if sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := orchestratorConfig{
		model:         "default",
		maxTokens:     defaultMaxTokens,
		temperature:   defaultTemperature,
		historyBudget: defaultHistoryBudget,
		callTimeout:   defaultCallTimeout,
		useTools:      true,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{llm: llm, sessions: sessions, logger: logger, cfg: cfg, turns: newTurnLocks()}
}

var _ Service = (*Orchestrator)(nil)

// GetState returns the persisted state of a conversation.
func (o *Orchestrator) GetState(ctx context.Context, conversationID string) (*intake.State, error) {
	return o.sessions.Load(ctx, strings.TrimSpace(conversationID))
}

// Chat applies one user message and returns the assistant's reply.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	started := o.cfg.now()
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = uuid.NewString()
	}
	message := strings.TrimSpace(req.Message)
	lang := NormalizeLanguage(req.Language)
	logger := o.logger.ForConversation(convID)

	ctx, span := llmTracer.Start(ctx, "conversation.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("emma.conversation_id", convID),
		attribute.String("emma.language", lang),
	)

	release, err := o.turns.acquire(ctx, convID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: wait for turn: %w", err)
	}
	defer release()

	state, err := o.loadState(ctx, convID, lang, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if message == "" && state.Phase != intake.PhaseNew {
		return nil, intake.ErrEmptyMessage
	}

	if guard := ScanForPromptInjection(message); guard.Blocked {
		logger.Warn("prompt injection blocked", "phase", state.Label(), "score", guard.Score, "reasons", guard.Reasons)
		if o.cfg.audit != nil {
			if err := o.cfg.audit.LogPromptInjection(ctx, convID, state.Label(), guard.Score, guard.Reasons); err != nil {
				logger.Warn("failed to audit prompt injection", "error", err)
			}
		}
		return o.response(*state, profileFor(lang).Refusal), nil
	}

	t := intake.Advance(*state, message)
	next := &t.Next
	next.Language = lang
	span.SetAttributes(
		attribute.String("emma.phase.from", t.From.Label()),
		attribute.String("emma.phase.to", next.Label()),
		attribute.Bool("emma.reprompt", t.Reprompt),
	)
	if t.Reprompt {
		o.cfg.metrics.ObserveReprompt(string(t.From.Phase), t.Reason)
		logger.Info("phase repeated", "phase", t.From.Label(), "reason", t.Reason)
	}

	var reply string
	if t.From.Phase.Terminal() {
		reply = defaultLine(t)
	} else {
		reply, err = o.generate(ctx, &t, message, logger)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if message != "" {
		next.Transcript = append(next.Transcript, intake.Turn{Role: intake.RoleUser, Content: message})
	}
	next.Transcript = append(next.Transcript, intake.Turn{Role: intake.RoleAssistant, Content: reply})
	next.UpdatedAt = o.cfg.now()

	if err := o.sessions.Save(ctx, next); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: save state: %w", err)
	}

	if t.From.Phase != next.Phase {
		o.cfg.metrics.ObserveTransition(string(t.From.Phase), string(next.Phase))
	}
	o.runSideEffects(ctx, t, logger)
	o.cfg.metrics.ObserveTurnLatency(string(next.Phase), o.cfg.now().Sub(started).Seconds())

	logger.Info("chat turn completed",
		"phase", next.Label(),
		"from_phase", t.From.Label(),
		"reprompt", t.Reprompt,
		"complete", next.Complete(),
	)
	return o.response(*next, reply), nil
}

func (o *Orchestrator) loadState(ctx context.Context, convID, lang string, req ChatRequest) (*intake.State, error) {
	state, err := o.sessions.Load(ctx, convID)
	switch {
	case err == nil:
		return state, nil
	case !errors.Is(err, ErrSessionNotFound):
		return nil, fmt.Errorf("conversation: load state: %w", err)
	}

	state = intake.NewState(convID, lang, o.cfg.now())
	for _, turn := range req.ConversationHistory {
		content := strings.TrimSpace(turn.Content)
		if content == "" || (turn.Role != intake.RoleUser && turn.Role != intake.RoleAssistant) {
			continue
		}
		state.Transcript = append(state.Transcript, intake.Turn{Role: turn.Role, Content: content})
	}
	if ud := req.UserData; ud != nil {
		seed := intake.ContactInfo{Name: strings.TrimSpace(ud.Name)}
		if wa := strings.TrimSpace(ud.WhatsApp); strings.HasPrefix(wa, "+") {
			seed.Phone = wa
		}
		state.Contact = state.Contact.Merge(seed)
	}
	return state, nil
}

// generate calls the model for the wording of the reply and folds whatever
// structured data it returned into t.Next.
func (o *Orchestrator) generate(ctx context.Context, t *intake.Transition, message string, logger *logging.Logger) (string, error) {
	next := &t.Next
	resp, err := o.complete(ctx, *t, message, logger)
	if err != nil {
		return "", err
	}

	contact, custom := o.extract(resp, logger)
	o.mergeModelPayload(next, contact, custom)
	if t.From.Phase == intake.PhaseQualification && !t.Reprompt {
		if q, ok := t.From.CurrentQuestion(); ok {
			if _, reported := custom[q.Field]; !reported {
				missingCustomFieldsTotal.WithLabelValues(t.From.Label()).Inc()
				logger.Warn("model omitted custom fields, keeping captured answer", "phase", t.From.Label(), "field", q.Field)
			}
		}
	}

	reply := intake.Sanitize(resp.Text)
	if guard := ScanOutputForLeaks(reply); guard.Leaked {
		logger.Warn("output guard triggered", "phase", next.Label(), "reasons", guard.Reasons)
		reply = guard.Sanitized
	}
	if strings.TrimSpace(reply) == "" {
		reply = defaultLine(*t)
	}

	if next.Phase == intake.PhaseContentQA && !t.Reprompt {
		next.RecordContentAnswer(reply)
		if o.cfg.disclaimer != nil {
			reply = o.cfg.disclaimer.AddDisclaimer(ctx, next.ConversationID, next.Language, reply)
		}
	}
	return reply, nil
}

func (o *Orchestrator) complete(ctx context.Context, t intake.Transition, message string, logger *logging.Logger) (LLMResponse, error) {
	ctx, span := llmTracer.Start(ctx, "conversation.llm")
	defer span.End()

	history := make([]ChatMessage, 0, len(t.From.Transcript)+1)
	for _, turn := range t.From.Transcript {
		history = append(history, ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	if message == "" {
		message = openingCue
	}
	history = append(history, ChatMessage{Role: ChatRoleUser, Content: message})

	req := LLMRequest{
		Model:       o.cfg.model,
		System:      buildSystemPrompt(t),
		Messages:    trimToBudget(history, o.cfg.historyBudget),
		MaxTokens:   o.cfg.maxTokens,
		Temperature: o.cfg.temperature,
	}
	if o.cfg.useTools {
		req.Tools = intakeTools()
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := o.llm.Complete(callCtx, req)
	latency := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmLatency.WithLabelValues(o.cfg.model, status).Observe(latency.Seconds())
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Float64("emma.llm.latency_ms", float64(latency.Milliseconds())),
			attribute.String("emma.llm.model", o.cfg.model),
			attribute.Int("emma.llm.input_tokens", int(resp.Usage.InputTokens)),
			attribute.Int("emma.llm.output_tokens", int(resp.Usage.OutputTokens)),
			attribute.Int("emma.llm.tool_calls", len(resp.ToolCalls)),
			attribute.String("emma.llm.stop_reason", resp.StopReason),
		)
	}
	if err != nil {
		span.RecordError(err)
		logger.Warn("llm completion failed", "model", o.cfg.model, "latency_ms", latency.Milliseconds(), "error", err)
		return LLMResponse{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if resp.Usage.InputTokens > 0 {
		llmTokensTotal.WithLabelValues(o.cfg.model, "input").Add(float64(resp.Usage.InputTokens))
	}
	if resp.Usage.OutputTokens > 0 {
		llmTokensTotal.WithLabelValues(o.cfg.model, "output").Add(float64(resp.Usage.OutputTokens))
	}
	logger.Debug("llm completion finished",
		"model", o.cfg.model,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"tool_calls", len(resp.ToolCalls),
	)
	return resp, nil
}

// extract reads tool calls first and scrapes markers for anything the tools
// did not cover.
func (o *Orchestrator) extract(resp LLMResponse, logger *logging.Logger) (*intake.ContactInfo, intake.CustomFields) {
	var contact *intake.ContactInfo
	var custom intake.CustomFields
	for _, call := range resp.ToolCalls {
		c, f := intake.FromToolInput(call.Name, call.Input)
		if c != nil {
			merged := *c
			if contact != nil {
				merged = contact.Merge(*c)
			}
			contact = &merged
			o.cfg.metrics.ObserveExtraction("contact", "tool")
		}
		if len(f) > 0 {
			custom = custom.Merge(f)
			o.cfg.metrics.ObserveExtraction("custom_fields", "tool")
		}
	}
	if contact == nil {
		if c := intake.ExtractContact(resp.Text, logger); c != nil {
			contact = c
			o.cfg.metrics.ObserveExtraction("contact", "marker")
		}
	}
	if custom == nil {
		if f := intake.ExtractCustomFields(resp.Text, logger); len(f) > 0 {
			custom = f
			o.cfg.metrics.ObserveExtraction("custom_fields", "marker")
		}
	}
	return contact, custom
}

// reservedFields are owned by the state machine and never taken from the model.
var reservedFields = map[string]bool{
	intake.FieldIntakeComplete:    true,
	intake.FieldQuestionsAnswered: true,
	intake.FieldDeclinedSelection: true,
}

// mergeModelPayload fills gaps in the state from the model's structured
// output. Anything the user's own words already settled wins.
func (o *Orchestrator) mergeModelPayload(state *intake.State, contact *intake.ContactInfo, custom intake.CustomFields) {
	if contact != nil {
		c := state.Contact
		if c.Name == "" {
			c.Name = contact.Name
		}
		if c.FamilyName == "" {
			c.FamilyName = contact.FamilyName
		}
		if c.Phone == "" && strings.HasPrefix(contact.Phone, "+") {
			c.Phone = contact.Phone
		}
		state.Contact = intake.EnrichContact(c)
	}
	if len(custom) == 0 {
		return
	}
	fill := make(intake.CustomFields, len(custom))
	for k, v := range custom {
		if reservedFields[k] || isTranscriptField(k) {
			continue
		}
		if _, ok := state.Custom[k]; ok {
			continue
		}
		fill[k] = v
	}
	state.Custom = state.Custom.Merge(fill)
}

func isTranscriptField(key string) bool {
	return strings.HasPrefix(key, "question_") || strings.HasPrefix(key, "answer_")
}

// runSideEffects records milestones. Failures are logged and never surface
// to the user because the turn is already persisted.
func (o *Orchestrator) runSideEffects(ctx context.Context, t intake.Transition, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	next := t.Next
	from := t.From
	convID := next.ConversationID
	lang := next.Language
	entered := func(p intake.Phase) bool { return next.Phase == p && from.Phase != p }

	if audit := o.cfg.audit; audit != nil {
		if from.Phase == intake.PhaseOptIn && !t.Reprompt {
			if err := audit.LogOptIn(ctx, convID, lang, next.Phase == intake.PhaseFirstName); err != nil {
				logger.Warn("failed to audit opt-in", "error", err)
			}
		}
		if entered(intake.PhaseDeclineClosing) {
			if err := audit.LogIntakeDeclined(ctx, convID, lang, from.Label()); err != nil {
				logger.Warn("failed to audit decline", "error", err)
			}
		}
		if entered(intake.PhaseClosing) {
			if err := audit.LogIntakeCompleted(ctx, convID, lang, next.Custom.Keys()); err != nil {
				logger.Warn("failed to audit completion", "error", err)
			}
		}
	}

	if o.cfg.leads != nil && !next.Contact.IsZero() {
		changed := next.Contact != from.Contact || !reflect.DeepEqual(next.Custom, from.Custom) || (next.Phase.Terminal() && from.Phase != next.Phase)
		if changed {
			if err := o.cfg.leads.Upsert(ctx, leads.ProfileFromState(next)); err != nil {
				logger.Warn("failed to upsert lead profile", "error", err)
			}
		}
	}

	if o.cfg.publisher != nil {
		var evt events.CanonicalEvent
		switch {
		case entered(intake.PhaseClosing):
			evt = events.IntakeCompletedV1{
				ConversationID: convID,
				Language:       lang,
				Contact:        next.Contact,
				CustomFields:   next.Custom.Clone(),
				CompletedAt:    next.UpdatedAt,
			}
		case entered(intake.PhaseDeclineClosing), entered(intake.PhaseOptedOut):
			evt = events.IntakeDeclinedV1{
				ConversationID: convID,
				Language:       lang,
				Phase:          from.Label(),
				OptedOut:       next.Phase == intake.PhaseOptedOut,
				DeclinedAt:     next.UpdatedAt,
			}
		}
		if evt != nil {
			if _, err := o.cfg.publisher.Publish(ctx, convID, convID, evt); err != nil {
				logger.Warn("failed to publish intake event", "error", err, "event_type", evt.EventType())
			}
		}
	}

	if o.cfg.archiver != nil && from.Phase != next.Phase {
		if outcome := archive.OutcomeFor(next.Phase); outcome != "" {
			record := archive.NewTranscriptRecord(next, outcome, o.cfg.now())
			if err := o.cfg.archiver.ArchiveConversation(ctx, record); err != nil {
				logger.Warn("failed to archive transcript", "error", err, "outcome", outcome)
			}
		}
	}
}

func (o *Orchestrator) response(state intake.State, reply string) *ChatResponse {
	resp := &ChatResponse{
		ConversationID: state.ConversationID,
		Response:       reply,
		Language:       NormalizeLanguage(state.Language),
		Phase:          state.Label(),
		Complete:       state.Complete(),
	}
	if !state.Contact.IsZero() {
		contact := state.Contact
		resp.CollectedInfo = &contact
	}
	if len(state.Custom) > 0 {
		resp.CustomFields = state.Custom.Clone()
	}
	return resp
}
