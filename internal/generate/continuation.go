package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/genloop-ai/genloop/internal/llm"
)

// runContinuation issues the single non-streaming follow-up used when tool
// calls completed but produced no visible answer text. It is attempted
// exactly once.
func runContinuation(ctx context.Context, provider llm.Provider, base *llm.Request, outcomes []ToolOutcome) (string, error) {
	messages := make([]*llm.Message, 0, len(base.Messages)+1+len(outcomes))
	messages = append(messages, base.Messages...)

	assistant := &llm.Message{Role: "assistant"}
	for _, outcome := range outcomes {
		assistant.ToolCalls = append(assistant.ToolCalls, map[string]interface{}{
			"id": outcome.CallID,
			"function": map[string]interface{}{
				"name":      outcome.Name,
				"arguments": outcome.Args,
			},
		})
	}
	messages = append(messages, assistant)

	for _, outcome := range outcomes {
		messages = append(messages, &llm.Message{
			Role:     "tool",
			ToolID:   outcome.CallID,
			ToolName: outcome.Name,
			Content:  renderOutcome(outcome),
		})
	}
	messages = append(messages, &llm.Message{
		Role:    "user",
		Content: "Summarize the tool results above as a direct answer to my question.",
	})

	req := &llm.Request{
		ModelID:      base.ModelID,
		Messages:     messages,
		SystemPrompt: base.SystemPrompt,
		MaxTokens:    base.MaxTokens,
		Temperature:  base.Temperature,
	}

	completion, err := provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(completion.Content) == "" {
		return "", fmt.Errorf("continuation returned empty content")
	}
	return completion.Content, nil
}

// fallbackSummary is the deterministic text used when the continuation also
// fails: one bullet per tool call, stating success or its error.
func fallbackSummary(outcomes []ToolOutcome) string {
	var sb strings.Builder
	sb.WriteString("I ran the following tools:\n")
	for _, outcome := range outcomes {
		if outcome.Err != "" {
			fmt.Fprintf(&sb, "- %s: failed: %s\n", outcome.Name, outcome.Err)
		} else {
			fmt.Fprintf(&sb, "- %s: completed successfully\n", outcome.Name)
		}
	}
	return sb.String()
}

func renderOutcome(outcome ToolOutcome) string {
	if outcome.Err != "" {
		return fmt.Sprintf("error: %s", outcome.Err)
	}
	switch v := outcome.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
