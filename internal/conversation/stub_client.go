package conversation

import (
	"context"
	"strings"
)

// StubLLMClient answers every request with the phase line embedded in the
// system prompt. It lets the intake run locally without model credentials.
type StubLLMClient struct{}

func NewStubLLMClient() *StubLLMClient { return &StubLLMClient{} }

func (StubLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return LLMResponse{}, err
	}
	line := ""
	for _, block := range req.System {
		if idx := strings.Index(block, stubLineMarker); idx >= 0 {
			line = strings.TrimSpace(firstLine(block[idx+len(stubLineMarker):]))
		}
	}
	if line == "" {
		line = "Thanks! Let's continue."
	}
	return LLMResponse{Text: line, StopReason: "end_turn"}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
