package tools

import (
	"context"
	"fmt"
	"time"
)

// ClockTool reports the current time, optionally in a named IANA zone.
type ClockTool struct {
	now func() time.Time
}

func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string {
	return "getCurrentTime"
}

func (t *ClockTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone such as \"Europe/Berlin\"."
}

func (t *ClockTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name. Defaults to UTC.",
			},
		},
	}
}

func (t *ClockTool) Execute(_ context.Context, params map[string]interface{}) (interface{}, error) {
	loc := time.UTC
	if tz, ok := params["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = parsed
	}

	now := t.now().In(loc)
	return map[string]interface{}{
		"iso":      now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
	}, nil
}
