package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/emma-intake/internal/config"
	"github.com/wolfman30/emma-intake/internal/conversation"
	"github.com/wolfman30/emma-intake/internal/events"
	"github.com/wolfman30/emma-intake/internal/observability/metrics"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

// LLM provider names accepted by LLM_PROVIDER and LLM_FALLBACK_PROVIDER.
const (
	ProviderBedrock   = "bedrock"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderStub      = "stub"
)

// pinnedModel sends every request to one model id so a fallback provider
// never receives the primary's model name.
type pinnedModel struct {
	client conversation.LLMClient
	model  string
}

func (p pinnedModel) Complete(ctx context.Context, req conversation.LLMRequest) (conversation.LLMResponse, error) {
	req.Model = p.model
	return p.client.Complete(ctx, req)
}

// BuildLLMClient wires the configured primary provider and, when set, a
// fallback provider behind it. It returns the client and the primary model id.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.LLMClient, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	primaryName := cfg.LLMProvider
	if primaryName == "" {
		primaryName = ProviderBedrock
	}
	primary, model, err := buildProvider(ctx, primaryName, cfg, awsCfg)
	if err != nil {
		return nil, "", err
	}
	logger.Info("llm provider configured", "provider", primaryName, "model", model)

	fallbackName := cfg.LLMFallbackProvider
	if fallbackName == "" || fallbackName == primaryName {
		return primary, model, nil
	}
	fallback, fallbackModel, err := buildProvider(ctx, fallbackName, cfg, awsCfg)
	if err != nil {
		logger.Warn("llm fallback provider unavailable; continuing without it", "provider", fallbackName, "error", err)
		return primary, model, nil
	}
	logger.Info("llm fallback provider configured", "provider", fallbackName, "model", fallbackModel)
	return conversation.NewFallbackLLMClient(primary, fallback, logger), model, nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsCfg aws.Config) (conversation.LLMClient, string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderBedrock:
		model := strings.TrimSpace(cfg.BedrockModelID)
		if model == "" {
			return nil, "", fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		client := conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
		return pinnedModel{client: client, model: model}, model, nil
	case ProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, "", fmt.Errorf("bootstrap: GEMINI_API_KEY is required for the gemini provider")
		}
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		return pinnedModel{client: client, model: cfg.GeminiModelID}, cfg.GeminiModelID, nil
	case ProviderAnthropic:
		client, err := conversation.NewAnthropicLLMClient(cfg.AnthropicAPIKey, cfg.AnthropicModelID)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: anthropic client: %w", err)
		}
		return pinnedModel{client: client, model: cfg.AnthropicModelID}, cfg.AnthropicModelID, nil
	case ProviderStub:
		return conversation.NewStubLLMClient(), ProviderStub, nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown llm provider %q", name)
	}
}

// Deps are the collaborators the orchestrator reports to. Nil members are
// skipped.
type Deps struct {
	Audit      conversation.AuditLogger
	Disclaimer conversation.Disclaimer
	Leads      conversation.LeadWriter
	Publisher  events.Publisher
	Archiver   conversation.TranscriptArchiver
	Metrics    *metrics.IntakeMetrics
}

// BuildOrchestrator assembles the intake chat service from config.
func BuildOrchestrator(cfg *appconfig.Config, llm conversation.LLMClient, model string, sessions conversation.SessionStore, deps Deps, logger *logging.Logger) (*conversation.Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if llm == nil || sessions == nil {
		return nil, fmt.Errorf("bootstrap: llm client and session store are required")
	}

	opts := []conversation.Option{
		conversation.WithModel(model),
		conversation.WithMaxTokens(cfg.LLMMaxTokens),
		conversation.WithHistoryTokenBudget(cfg.HistoryTokenBudget),
		conversation.WithCallTimeout(cfg.LLMTimeout),
		conversation.WithStructuredOutput(cfg.LLMStructuredOutput),
	}
	if deps.Audit != nil {
		opts = append(opts, conversation.WithAuditLogger(deps.Audit))
	}
	if deps.Disclaimer != nil {
		opts = append(opts, conversation.WithDisclaimer(deps.Disclaimer))
	}
	if deps.Leads != nil {
		opts = append(opts, conversation.WithLeadWriter(deps.Leads))
	}
	if deps.Publisher != nil {
		opts = append(opts, conversation.WithPublisher(deps.Publisher))
	}
	if deps.Archiver != nil {
		opts = append(opts, conversation.WithArchiver(deps.Archiver))
	}
	if deps.Metrics != nil {
		opts = append(opts, conversation.WithIntakeMetrics(deps.Metrics))
	}
	return conversation.NewOrchestrator(llm, sessions, logger, opts...), nil
}
