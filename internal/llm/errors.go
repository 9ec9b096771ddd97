package llm

import (
	"fmt"
	"strings"

	"github.com/genloop-ai/genloop/internal/consts"
)

// ErrorCategory is the closed taxonomy of generation failures.
type ErrorCategory string

const (
	ErrorModelSwitch     ErrorCategory = "model_switch_incompatible"
	ErrorRateLimit       ErrorCategory = "rate_limit"
	ErrorAuth            ErrorCategory = "authentication"
	ErrorModelNotFound   ErrorCategory = "model_not_found"
	ErrorContentRejected ErrorCategory = "content_rejected"
	ErrorContextTooLong  ErrorCategory = "context_too_long"
	ErrorNetwork         ErrorCategory = "network"
	ErrorGateway         ErrorCategory = "gateway"
	ErrorUnknown         ErrorCategory = "unknown"
)

// Classified wraps a provider/network failure with its category and the
// user-facing message to persist on the errored message record.
type Classified struct {
	Category    ErrorCategory
	UserMessage string
	Cause       error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Category, c.Cause)
}

func (c *Classified) Unwrap() error {
	return c.Cause
}

// classifierRule matches error text against a category. Rules are evaluated
// in order; the first match wins.
type classifierRule struct {
	category ErrorCategory
	patterns []string
	message  string
}

var classifierRules = []classifierRule{
	{
		category: ErrorModelSwitch,
		patterns: []string{"tool_use ids were found without tool_result", "unexpected tool_use_id", "mismatched tool call"},
		message:  "The conversation contains tool calls from a different model and cannot be continued with this one. Start a new conversation or switch back.",
	},
	{
		category: ErrorRateLimit,
		patterns: []string{"429", "rate limit", "too many requests", "quota exceeded", "overloaded"},
		message:  "The model is receiving too many requests right now. Wait a moment and try again.",
	},
	{
		category: ErrorAuth,
		patterns: []string{"401", "403", "unauthorized", "invalid api key", "authentication", "permission denied"},
		message:  "The provider rejected the API credentials. Check the configured API key.",
	},
	{
		category: ErrorModelNotFound,
		patterns: []string{"model_not_found", "404", "does not exist", "unknown model", "no such model"},
		message:  "The selected model is not available. Pick a different model and try again.",
	},
	{
		category: ErrorContentRejected,
		patterns: []string{"content filter", "content_policy", "blocked by", "refused to process", "safety"},
		message:  "The provider declined to process this content.",
	},
	{
		category: ErrorContextTooLong,
		patterns: []string{"context length", "context_length_exceeded", "maximum context", "too many tokens", "prompt is too long"},
		message:  "The conversation is too long for this model. Start a new conversation or trim older messages.",
	},
	{
		category: ErrorNetwork,
		patterns: []string{"connection refused", "connection reset", "no such host", "i/o timeout", "dial tcp", "deadline exceeded", "broken pipe", "unexpected eof"},
		message:  "Could not reach the model provider. Check the network connection and try again.",
	},
	{
		category: ErrorGateway,
		patterns: []string{"502", "bad gateway", "503", "service unavailable", "504", "gateway timeout", "internal server error", "500"},
		message:  "The model provider returned a server error. Try again shortly.",
	},
}

// Classify maps a failure to its category and user-facing message. The
// fallback message interpolates provider detail when it is short enough to be
// useful rather than alarming.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}
	if c, ok := err.(*Classified); ok {
		return c
	}

	text := strings.ToLower(err.Error())
	for _, rule := range classifierRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(text, pattern) {
				return &Classified{Category: rule.category, UserMessage: rule.message, Cause: err}
			}
		}
	}

	msg := "Something went wrong while generating the response. Please try again."
	if detail := err.Error(); len(detail) > 0 && len(detail) <= consts.MaxErrorDetailChars {
		msg = fmt.Sprintf("Something went wrong while generating the response (%s). Please try again.", detail)
	}
	return &Classified{Category: ErrorUnknown, UserMessage: msg, Cause: err}
}

// WastedCost estimates the USD cost burned by a failed generation: the input
// tokens already sent plus whatever output accumulated before the failure.
// Internal telemetry only.
func WastedCost(modelID string, inputTokenEstimate, outputTokensSoFar int) float64 {
	return Cost(modelID, Usage{InputTokens: inputTokenEstimate, OutputTokens: outputTokensSoFar})
}
