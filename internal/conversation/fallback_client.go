package conversation

import (
	"context"
	"errors"

	"github.com/wolfman30/emma-intake/pkg/logging"
)

// FallbackLLMClient sends a turn to a second provider when the first one
// errors. Structured output is requested from both; a fallback without tool
// support simply answers through markers.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

// NewFallbackLLMClient panics without a primary. A nil fallback disables the
// second attempt.
func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("conversation: primary llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, primaryErr := c.primary.Complete(ctx, req)
	if primaryErr == nil {
		return resp, nil
	}
	if c.fallback == nil {
		return LLMResponse{}, primaryErr
	}
	// The turn deadline is shared; a second provider cannot finish in time.
	if ctx.Err() != nil {
		llmFallbackTotal.WithLabelValues("skipped").Inc()
		return LLMResponse{}, primaryErr
	}

	c.logger.Warn("primary LLM failed, trying fallback", "error", primaryErr, "model", req.Model)
	resp, err := c.fallback.Complete(ctx, req)
	if err != nil {
		llmFallbackTotal.WithLabelValues("failed").Inc()
		c.logger.Error("fallback LLM failed", "primary_error", primaryErr, "fallback_error", err)
		return LLMResponse{}, errors.Join(primaryErr, err)
	}
	llmFallbackTotal.WithLabelValues("served").Inc()
	return resp, nil
}
