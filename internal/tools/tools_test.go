package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowTool struct {
	delay time.Duration
}

func (t *slowTool) Name() string                        { return "slow" }
func (t *slowTool) Description() string                 { return "sleeps" }
func (t *slowTool) Parameters() map[string]interface{}  { return nil }
func (t *slowTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	select {
	case <-time.After(t.delay):
		return "done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type failTool struct{}

func (t *failTool) Name() string                       { return "fail" }
func (t *failTool) Description() string                { return "fails" }
func (t *failTool) Parameters() map[string]interface{} { return nil }
func (t *failTool) Execute(context.Context, map[string]interface{}) (interface{}, error) {
	return nil, errors.New("disk on fire")
}

func TestRegistryExecuteTimeoutIsDistinguishable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&slowTool{delay: time.Second})

	_, err := reg.Execute(context.Background(), "slow", nil, 10*time.Millisecond)
	require.Error(t, err)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "slow", timeout.Op)
	assert.Equal(t, 10*time.Millisecond, timeout.Limit)
}

func TestRegistryExecuteToolFailureIsNotTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&failTool{})

	_, err := reg.Execute(context.Background(), "fail", nil, time.Second)
	require.Error(t, err)

	var timeout *TimeoutError
	assert.False(t, errors.As(err, &timeout))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "nope", nil, time.Second)
	assert.ErrorContains(t, err, "unknown tool")
}

func TestRegistryExecuteHonorsCallerCancellation(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&slowTool{delay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.Execute(ctx, "slow", nil, time.Minute)
	require.Error(t, err)

	var timeout *TimeoutError
	assert.False(t, errors.As(err, &timeout))
}

func TestRegistrySpecsSortedByName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewClockTool())
	reg.Register(NewCalculatorTool())

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "calculator", specs[0].Name)
	assert.Equal(t, "getCurrentTime", specs[1].Name)
	assert.NotNil(t, specs[0].Parameters)
}

func TestCalculatorEvaluatesExpressions(t *testing.T) {
	tests := []struct {
		expr     string
		expected float64
	}{
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-3 + 5", 2},
		{"2 ^ 10", 1024},
		{"2 ^ 3 ^ 2", 512}, // right associative
		{"10 % 3", 1},
		{"1.5 * 2", 3},
	}

	calc := NewCalculatorTool()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := calc.Execute(context.Background(), map[string]interface{}{"expression": tt.expr})
			require.NoError(t, err)
			result := out.(map[string]interface{})
			assert.InDelta(t, tt.expected, result["result"].(float64), 1e-9)
		})
	}
}

func TestCalculatorRejectsInvalidInput(t *testing.T) {
	calc := NewCalculatorTool()

	for _, expr := range []string{"", "2 +", "(2 + 3", "2 ** 3", "1 / 0", "abc"} {
		t.Run(expr, func(t *testing.T) {
			_, err := calc.Execute(context.Background(), map[string]interface{}{"expression": expr})
			assert.Error(t, err)
		})
	}
}

func TestClockToolReportsTimezone(t *testing.T) {
	clock := NewClockTool()
	clock.now = func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	}

	out, err := clock.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.Equal(t, "UTC", result["timezone"])
	assert.Equal(t, "Sunday", result["weekday"])

	_, err = clock.Execute(context.Background(), map[string]interface{}{"timezone": "Not/AZone"})
	assert.Error(t, err)
}

func TestWebSearchOutputTopScore(t *testing.T) {
	out := &WebSearchOutput{Results: []WebSearchResult{{Score: 0.4}, {Score: 0.9}, {Score: 0.7}}}
	assert.InDelta(t, 0.9, out.TopScore(), 1e-9)
	assert.Zero(t, (&WebSearchOutput{}).TopScore())
}

type staticDocs struct {
	matches []DocumentMatch
	err     error
}

func (s *staticDocs) SearchDocuments(context.Context, string, int) ([]DocumentMatch, error) {
	return s.matches, s.err
}

func TestDocSearchToolWrapsSource(t *testing.T) {
	tool := NewDocSearchTool(&staticDocs{matches: []DocumentMatch{{ID: "d1", Title: "Notes"}}}, 5)

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "notes"})
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.Equal(t, "notes", result["query"])
	assert.Len(t, result["matches"], 1)

	_, err = tool.Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}
