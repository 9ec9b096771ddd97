// Package budget tracks soft context-window consumption for one generation
// job. State is an immutable value: every recording function returns a new
// State and never mutates its receiver, so states can be threaded through the
// generation loop without locks.
package budget

// SearchRecord is one entry in the search-quality history.
type SearchRecord struct {
	Query       string
	ResultCount int
	TopScore    float64
}

// State is a snapshot of budget accounting. UsedTokens and ToolCallCount are
// monotonically non-decreasing across the sequence of states for one job.
type State struct {
	MaxTokens      int
	UsedTokens     int
	ToolCallCount  int
	SearchHistory  []SearchRecord
	ToolCallCounts map[string]int
}

// NewState creates the initial budget state for a job from the model's
// context window.
func NewState(maxTokens int) State {
	return State{MaxTokens: maxTokens}
}

// toolCostEstimates are planning-time token estimates per tool, used before a
// result is known to decide on early truncation.
var toolCostEstimates = map[string]int{
	"webSearch":      2000,
	"searchAll":      1500,
	"documentLookup": 1200,
	"calculator":     50,
	"getCurrentTime": 20,
}

// defaultToolCostEstimate covers tools not in the table.
const defaultToolCostEstimate = 800

// EstimateToolCost returns the planning-time token estimate for a tool.
// Unknown tools use the default estimate; this never fails.
func EstimateToolCost(name string) int {
	if cost, ok := toolCostEstimates[name]; ok {
		return cost
	}
	return defaultToolCostEstimate
}

// toolRateLimits are per-job call ceilings per tool.
var toolRateLimits = map[string]int{
	"webSearch":      5,
	"searchAll":      5,
	"documentLookup": 8,
	"calculator":     20,
}

// defaultToolRateLimit covers tools not in the table.
const defaultToolRateLimit = 10

// RecordUsage returns a state with tokens added and the tool call count
// incremented. It never decrements.
func (s State) RecordUsage(tokens int) State {
	next := s
	next.UsedTokens += tokens
	next.ToolCallCount++
	return next
}

// RecordSearch appends one search outcome to the quality history.
func (s State) RecordSearch(query string, resultCount int, topScore float64) State {
	next := s
	next.SearchHistory = make([]SearchRecord, len(s.SearchHistory), len(s.SearchHistory)+1)
	copy(next.SearchHistory, s.SearchHistory)
	next.SearchHistory = append(next.SearchHistory, SearchRecord{
		Query:       query,
		ResultCount: resultCount,
		TopScore:    topScore,
	})
	return next
}

// RecordToolCall increments the per-tool counter.
func (s State) RecordToolCall(name string) State {
	next := s
	next.ToolCallCounts = make(map[string]int, len(s.ToolCallCounts)+1)
	for k, v := range s.ToolCallCounts {
		next.ToolCallCounts[k] = v
	}
	next.ToolCallCounts[name]++
	return next
}

// IsToolRateLimited reports whether the named tool has exhausted its per-job
// ceiling, with a ready-to-display message when it has.
func (s State) IsToolRateLimited(name string) (bool, string) {
	limit, ok := toolRateLimits[name]
	if !ok {
		limit = defaultToolRateLimit
	}
	count := s.ToolCallCounts[name]
	if count < limit {
		return false, ""
	}
	return true, rateLimitMessage(name, limit)
}

// ContextPercent returns the percentage of the context window consumed,
// rounded to the nearest integer. Zero when MaxTokens is zero.
func (s State) ContextPercent() int {
	if s.MaxTokens == 0 {
		return 0
	}
	return int(float64(s.UsedTokens)/float64(s.MaxTokens)*100 + 0.5)
}

// IsContextGettingFull reports whether half or more of the window is used.
func (s State) IsContextGettingFull() bool {
	return s.ContextPercent() >= elevatedPercent
}

// Allows reports whether further spend is permitted. The boundary is
// asymmetric: spend equal to the budget is NOT allowed, while a zero budget
// means unlimited.
func (s State) Allows() bool {
	if s.MaxTokens == 0 {
		return true
	}
	return s.UsedTokens < s.MaxTokens
}
