package llm

import (
	"strings"

	"github.com/genloop-ai/genloop/internal/consts"
)

// modelPricing holds per-model context window and USD prices per million
// tokens. Prices feed cost reporting and wasted-cost telemetry only; they are
// never shown to users.
type modelPricing struct {
	ContextWindow int
	InputPerMTok  float64
	OutputPerMTok float64
}

var pricingTable = map[string]modelPricing{
	"claude-opus-4-1":          {ContextWindow: 200000, InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-sonnet-4-5":        {ContextWindow: 200000, InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-haiku-4-5":         {ContextWindow: 200000, InputPerMTok: 1.00, OutputPerMTok: 5.00},
	"claude-3-5-sonnet-latest": {ContextWindow: 200000, InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"gpt-5":                    {ContextWindow: 400000, InputPerMTok: 1.25, OutputPerMTok: 10.00},
	"gpt-5-mini":               {ContextWindow: 400000, InputPerMTok: 0.25, OutputPerMTok: 2.00},
	"gpt-4o":                   {ContextWindow: 128000, InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":              {ContextWindow: 128000, InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"o3":                       {ContextWindow: 200000, InputPerMTok: 2.00, OutputPerMTok: 8.00},
}

// defaultPricing is assumed for models missing from the table.
var defaultPricing = modelPricing{
	ContextWindow: consts.DefaultContextWindow,
	InputPerMTok:  1.00,
	OutputPerMTok: 4.00,
}

func pricingFor(modelID string) modelPricing {
	if p, ok := pricingTable[modelID]; ok {
		return p
	}
	// Versioned IDs like "claude-sonnet-4-5-20250929" fall back to their base entry.
	for id, p := range pricingTable {
		if strings.HasPrefix(modelID, id) {
			return p
		}
	}
	return defaultPricing
}

// ContextWindow returns the context window size for a model, with a
// conservative default for unknown models.
func ContextWindow(modelID string) int {
	return pricingFor(modelID).ContextWindow
}

// Cost computes the USD cost of a completed generation. Pure; no side effects.
func Cost(modelID string, usage Usage) float64 {
	p := pricingFor(modelID)
	return float64(usage.InputTokens)/1e6*p.InputPerMTok +
		float64(usage.OutputTokens)/1e6*p.OutputPerMTok
}
