package conversation

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the role and framing tokens each message costs.
const perMessageOverhead = 4

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func transcriptCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// countTokens estimates the prompt size of text. Claude and Gemini tokenize
// differently, so cl100k is an approximation that errs on the generous side
// of the budget.
func countTokens(text string) int {
	if text == "" {
		return 0
	}
	if c := transcriptCodec(); c != nil {
		if ids, _, err := c.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}

// trimToBudget keeps the most recent messages whose combined size fits budget.
// The newest message is always kept, and the result never starts with an
// assistant turn because providers expect the first message from the user.
func trimToBudget(messages []ChatMessage, budget int) []ChatMessage {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}
	used := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := countTokens(messages[i].Content) + perMessageOverhead
		if used+cost > budget && start < len(messages) {
			break
		}
		used += cost
		start = i
	}
	for start < len(messages)-1 && messages[start].Role != ChatRoleUser {
		start++
	}
	return messages[start:]
}
