package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicLLMClient calls the Anthropic Messages API over plain HTTP. Tool
// specs are not forwarded; replies carry markers instead.
type AnthropicLLMClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// AnthropicOption customizes the client.
type AnthropicOption func(*AnthropicLLMClient)

// WithAnthropicBaseURL points the client at another endpoint, e.g. a test server.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(c *AnthropicLLMClient) {
		if strings.TrimSpace(url) != "" {
			c.baseURL = url
		}
	}
}

// WithAnthropicHTTPClient swaps the transport.
func WithAnthropicHTTPClient(hc *http.Client) AnthropicOption {
	return func(c *AnthropicLLMClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewAnthropicLLMClient(apiKey, model string, opts ...AnthropicOption) (*AnthropicLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: anthropic api key is required")
	}
	c := &AnthropicLLMClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicAPIURL,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int32              `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float32           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int32 `json:"input_tokens"`
		OutputTokens int32 `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.model
	}
	body := anthropicRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
		System:    strings.Join(req.System, "\n\n"),
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 1024
	}
	if req.Temperature >= 0 {
		temp := req.Temperature
		body.Temperature = &temp
	}
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role == ChatRoleSystem {
			body.System = strings.TrimSpace(body.System + "\n\n" + msg.Content)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: anthropic marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: anthropic create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: anthropic api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: anthropic read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return LLMResponse{}, fmt.Errorf("conversation: anthropic api error %d: %s: %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return LLMResponse{}, fmt.Errorf("conversation: anthropic api error %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: anthropic unmarshal response: %w", err)
	}
	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return LLMResponse{}, errors.New("conversation: anthropic response had no text content")
	}
	return LLMResponse{
		Text:       strings.TrimSpace(text.String()),
		StopReason: decoded.StopReason,
		Usage: TokenUsage{
			InputTokens:  decoded.Usage.InputTokens,
			OutputTokens: decoded.Usage.OutputTokens,
			TotalTokens:  decoded.Usage.InputTokens + decoded.Usage.OutputTokens,
		},
	}, nil
}
