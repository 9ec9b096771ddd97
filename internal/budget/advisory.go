package budget

import (
	"fmt"
	"strings"
)

// Advisory thresholds over ContextPercent.
const (
	elevatedPercent = 50
	criticalPercent = 70
)

// Search-quality heuristics.
const (
	lowQualityScore   = 0.5
	searchAttemptsMax = 4
)

func rateLimitMessage(name string, limit int) string {
	return fmt.Sprintf("Tool %q has reached its limit for this response (%d/%d calls). Try a different approach or ask the user how to proceed.", name, limit, limit)
}

// FormatStatus returns tiered advisory text about context consumption, or the
// empty string while usage is comfortable.
func (s State) FormatStatus() string {
	percent := s.ContextPercent()
	switch {
	case percent >= criticalPercent:
		return fmt.Sprintf("Context window is critically full (%d%% used, %d/%d tokens). Wrap up with the information already gathered.", percent, s.UsedTokens, s.MaxTokens)
	case percent >= elevatedPercent:
		return fmt.Sprintf("Context window usage is elevated (%d%% used). Prefer concise tool results and avoid redundant lookups.", percent)
	default:
		return ""
	}
}

// FormatSearchWarning inspects the search history for unproductive patterns:
// an exactly repeated query, three strictly declining scores ending below the
// low-quality threshold, or too many attempts. Returns the empty string when
// the history looks healthy.
func (s State) FormatSearchWarning() string {
	if len(s.SearchHistory) == 0 {
		return ""
	}

	if query, ok := s.repeatedQuery(); ok {
		return fmt.Sprintf("The query %q was already searched. Repeating it will return the same results; rephrase or try different terms.", query)
	}

	if s.hasDecliningQuality() {
		return "Search result quality is declining with each attempt. The information may not be available; consider answering with what you have."
	}

	if len(s.SearchHistory) >= searchAttemptsMax {
		return fmt.Sprintf("%d searches have been performed for this response. Stop searching and answer with the information gathered so far.", len(s.SearchHistory))
	}

	return ""
}

// ShouldSuggestAskUser reports whether the advisory layer should recommend
// deferring to the user: searches are exhausted or the context is critical.
func (s State) ShouldSuggestAskUser() bool {
	if len(s.SearchHistory) >= searchAttemptsMax && s.hasDecliningQuality() {
		return true
	}
	return s.ContextPercent() >= criticalPercent
}

// repeatedQuery finds the most recent query that exactly matches an earlier
// one, ignoring case and surrounding whitespace.
func (s State) repeatedQuery() (string, bool) {
	seen := make(map[string]struct{}, len(s.SearchHistory))
	for _, rec := range s.SearchHistory {
		key := strings.ToLower(strings.TrimSpace(rec.Query))
		if _, dup := seen[key]; dup {
			return rec.Query, true
		}
		seen[key] = struct{}{}
	}
	return "", false
}

// hasDecliningQuality reports three strictly decreasing top scores with the
// latest below the low-quality threshold.
func (s State) hasDecliningQuality() bool {
	n := len(s.SearchHistory)
	if n < 3 {
		return false
	}
	a, b, c := s.SearchHistory[n-3].TopScore, s.SearchHistory[n-2].TopScore, s.SearchHistory[n-1].TopScore
	return a > b && b > c && c < lowQualityScore
}
