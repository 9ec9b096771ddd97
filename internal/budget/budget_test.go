package budget

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUsageIsMonotonicAndNonAliasing(t *testing.T) {
	s := NewState(1000)

	s2 := s.RecordUsage(150)
	assert.Equal(t, 150, s2.UsedTokens)
	assert.Equal(t, 1, s2.ToolCallCount)

	// The original value must be untouched.
	assert.Equal(t, 0, s.UsedTokens)
	assert.Equal(t, 0, s.ToolCallCount)

	s3 := s2.RecordUsage(50)
	assert.Equal(t, 200, s3.UsedTokens)
	assert.Equal(t, 150, s2.UsedTokens)
}

func TestRecordToolCallDoesNotAliasCounts(t *testing.T) {
	s := NewState(1000).RecordToolCall("webSearch")
	s2 := s.RecordToolCall("webSearch")

	assert.Equal(t, 1, s.ToolCallCounts["webSearch"])
	assert.Equal(t, 2, s2.ToolCallCounts["webSearch"])
}

func TestRecordSearchDoesNotAliasHistory(t *testing.T) {
	s := NewState(1000).RecordSearch("first", 5, 0.9)
	s2 := s.RecordSearch("second", 3, 0.8)

	require.Len(t, s.SearchHistory, 1)
	require.Len(t, s2.SearchHistory, 2)
	assert.Equal(t, "first", s2.SearchHistory[0].Query)
}

func TestContextPercent(t *testing.T) {
	s := NewState(1000)
	s.UsedTokens = 550
	assert.Equal(t, 55, s.ContextPercent())
	assert.True(t, s.IsContextGettingFull())

	s.UsedTokens = 400
	assert.Equal(t, 40, s.ContextPercent())
	assert.False(t, s.IsContextGettingFull())

	// Zero window guards divide-by-zero.
	empty := NewState(0)
	empty.UsedTokens = 123
	assert.Equal(t, 0, empty.ContextPercent())
}

func TestAllowsBoundaryIsAsymmetric(t *testing.T) {
	s := NewState(100)
	s.UsedTokens = 99
	assert.True(t, s.Allows())

	// Spend equal to budget is not allowed.
	s.UsedTokens = 100
	assert.False(t, s.Allows())

	// Zero budget means unlimited.
	unlimited := NewState(0)
	unlimited.UsedTokens = 1 << 30
	assert.True(t, unlimited.Allows())
}

func TestRateLimitBoundary(t *testing.T) {
	s := NewState(1000)

	// searchAll has a ceiling of 5: calls 1-5 allowed, 6th call limited.
	for i := 0; i < 5; i++ {
		limited, _ := s.IsToolRateLimited("searchAll")
		assert.False(t, limited, "call %d should be allowed", i+1)
		s = s.RecordToolCall("searchAll")
	}

	limited, msg := s.IsToolRateLimited("searchAll")
	assert.True(t, limited)
	assert.Contains(t, msg, "searchAll")
	assert.Contains(t, msg, "5/5")
}

func TestRateLimitDefaultCeiling(t *testing.T) {
	s := NewState(1000)
	for i := 0; i < defaultToolRateLimit; i++ {
		s = s.RecordToolCall("someUnknownTool")
	}
	limited, msg := s.IsToolRateLimited("someUnknownTool")
	assert.True(t, limited)
	assert.Contains(t, msg, "someUnknownTool")
}

func TestEstimateToolCost(t *testing.T) {
	assert.Equal(t, 2000, EstimateToolCost("webSearch"))
	assert.Equal(t, defaultToolCostEstimate, EstimateToolCost("neverHeardOfIt"))
}

func TestFormatStatusTiers(t *testing.T) {
	s := NewState(1000)

	s.UsedTokens = 300
	assert.Empty(t, s.FormatStatus())

	s.UsedTokens = 550
	assert.Contains(t, s.FormatStatus(), "elevated")

	s.UsedTokens = 750
	assert.Contains(t, s.FormatStatus(), "critically full")
}

func TestFormatSearchWarningDecliningQuality(t *testing.T) {
	s := NewState(1000).
		RecordSearch("a", 5, 0.9).
		RecordSearch("b", 5, 0.6).
		RecordSearch("c", 5, 0.3)
	assert.Contains(t, s.FormatSearchWarning(), "declining")

	healthy := NewState(1000).
		RecordSearch("a", 5, 0.9).
		RecordSearch("b", 5, 0.8).
		RecordSearch("c", 5, 0.85)
	assert.Empty(t, healthy.FormatSearchWarning())
}

func TestFormatSearchWarningRepeatedQuery(t *testing.T) {
	s := NewState(1000).
		RecordSearch("Weather in Oslo", 5, 0.9).
		RecordSearch("  weather in oslo ", 5, 0.9)
	assert.Contains(t, s.FormatSearchWarning(), "already searched")
}

func TestFormatSearchWarningAttemptCeiling(t *testing.T) {
	s := NewState(1000)
	queries := []string{"q1", "q2", "q3", "q4"}
	for i, q := range queries {
		s = s.RecordSearch(q, 5, 0.9-float64(i)*0.01)
	}
	assert.Contains(t, s.FormatSearchWarning(), "4 searches")
}

func TestTruncateToolResultStrings(t *testing.T) {
	long := strings.Repeat("x", 500)
	out := TruncateToolResult(long, 100).(string)
	assert.True(t, strings.HasSuffix(out, truncationMarker))
	assert.LessOrEqual(t, len(out), 100)

	short := "fits"
	assert.Equal(t, "fits", TruncateToolResult(short, 100))
}

func TestTruncateNeverGrowsValue(t *testing.T) {
	// Inputs barely over budget must still come back within it.
	for _, n := range []int{101, 105, 100 + len(truncationMarker)} {
		in := strings.Repeat("x", n)
		out := TruncateToolResult(in, 100).(string)
		assert.LessOrEqual(t, len(out), 100, "input of %d bytes", n)
		assert.LessOrEqual(t, len(out), len(in), "input of %d bytes", n)
		assert.True(t, strings.HasSuffix(out, truncationMarker))
	}

	// Budgets too small for the marker get a bare cut, never an overrun.
	tiny := TruncateToolResult(strings.Repeat("y", 50), 5).(string)
	assert.LessOrEqual(t, len(tiny), 5)
	assert.False(t, strings.Contains(tiny, truncationMarker))

	// The bound holds through nested structures too.
	nested := map[string]interface{}{
		"a": strings.Repeat("z", 60),
		"b": strings.Repeat("z", 60),
	}
	out := TruncateToolResult(nested, 100).(map[string]interface{})
	for k, v := range out {
		assert.LessOrEqual(t, len(v.(string)), 50, "key %s", k)
	}
}

func TestTruncateToolResultArrayBound(t *testing.T) {
	arr := []interface{}{"a", "b", "c", "d", "e", "f", "g"}
	out := TruncateToolResult(arr, 300).([]interface{})
	assert.LessOrEqual(t, len(out), 3)
}

func TestTruncateToolResultObjectDistribution(t *testing.T) {
	obj := map[string]interface{}{
		"one": strings.Repeat("a", 500),
		"two": strings.Repeat("b", 500),
	}
	out := TruncateToolResult(obj, 200).(map[string]interface{})
	for k, v := range out {
		s := v.(string)
		assert.LessOrEqual(t, len(s), 100, "key %s", k)
	}

	// Empty objects must not divide by zero.
	empty := map[string]interface{}{}
	assert.Equal(t, empty, TruncateToolResult(empty, 100))
}

func TestTruncateToolResultScalarsPassThrough(t *testing.T) {
	assert.Equal(t, 42, TruncateToolResult(42, 1))
	assert.Equal(t, 3.14, TruncateToolResult(3.14, 1))
	assert.Equal(t, true, TruncateToolResult(true, 1))
	assert.Nil(t, TruncateToolResult(nil, 1))
}

func TestTruncateDoesNotSplitUTF8(t *testing.T) {
	s := strings.Repeat("日", 100)
	out := TruncateToolResult(s, 50).(string)
	assert.True(t, strings.HasSuffix(out, truncationMarker))
	for _, r := range out {
		assert.NotEqual(t, '�', r)
	}
}

func TestShouldSuggestAskUser(t *testing.T) {
	// Critical context usage alone triggers the suggestion.
	critical := NewState(1000).RecordUsage(750)
	assert.True(t, critical.ShouldSuggestAskUser())

	// Exhausted searches with declining quality trigger it too.
	exhausted := NewState(100000)
	for i, score := range []float64{0.9, 0.8, 0.6, 0.3} {
		exhausted = exhausted.RecordSearch(fmt.Sprintf("query %d", i), 5, score)
	}
	assert.True(t, exhausted.ShouldSuggestAskUser())

	// Healthy usage and history do not.
	healthy := NewState(100000).RecordUsage(1000).RecordSearch("one", 5, 0.9)
	assert.False(t, healthy.ShouldSuggestAskUser())
}
