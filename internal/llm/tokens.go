package llm

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	systemMessageOverhead = 2
	perMessageOverhead    = 4
)

// EstimateTokenCount returns a rough token estimate for a piece of text,
// using the model's encoding when tiktoken knows it.
func EstimateTokenCount(modelID, text string) int {
	encoder, _ := encodingForModel(modelID)
	return tokenCount(encoder, text)
}

// EstimateRequestTokens estimates the prompt-side token load of a request:
// system prompt, every message, and serialized tool calls.
func EstimateRequestTokens(req *Request) int {
	if req == nil {
		return 0
	}
	encoder, _ := encodingForModel(req.ModelID)

	total := tokenCount(encoder, req.SystemPrompt)
	if req.SystemPrompt != "" {
		total += systemMessageOverhead
	}

	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}
		tokens := tokenCount(encoder, msg.Content) + perMessageOverhead
		if msg.ToolID != "" {
			tokens += tokenCount(encoder, msg.ToolID)
		}
		if msg.ToolName != "" {
			tokens += tokenCount(encoder, msg.ToolName)
		}
		if len(msg.ToolCalls) > 0 {
			if data, err := json.Marshal(msg.ToolCalls); err == nil {
				tokens += tokenCount(encoder, string(data))
			}
		}
		total += tokens
	}

	return total
}

func encodingForModel(modelID string) (*tiktoken.Tiktoken, bool) {
	encoder, err := tiktoken.EncodingForModel(modelID)
	if err == nil {
		return encoder, false
	}

	fallback, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, true
	}

	return fallback, true
}

func tokenCount(encoder *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}

	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}

	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}

	// Rough heuristic: 1 token ≈ 4 characters
	return (runes + 3) / 4
}
