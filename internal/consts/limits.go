package consts

import "time"

// Generation loop intervals. The cancel check is deliberately shorter than the
// write throttle so stop latency is never gated by persistence throttling.
const (
	// DefaultCancelCheckInterval is how often the loop polls for an external stop
	DefaultCancelCheckInterval = 10 * time.Millisecond
	// DefaultWriteThrottleInterval is the minimum gap between partial-content writes
	DefaultWriteThrottleInterval = 50 * time.Millisecond
)

// LLM defaults
const (
	// DefaultMaxOutputTokens is the default maximum tokens for a response
	DefaultMaxOutputTokens = 4096
	// DefaultContextWindow is assumed when a model is not in the pricing table
	DefaultContextWindow = 128000
)

// Timeouts for various operations
const (
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// DefaultToolTimeout bounds a single tool execution
	DefaultToolTimeout = Timeout30Seconds
	// DefaultAttachmentTimeout bounds one attachment download
	DefaultAttachmentTimeout = Timeout30Seconds
)

// Generation loop bounds
const (
	// MaxToolIterations caps how many times a job may reopen the stream to
	// feed tool results back to the model
	MaxToolIterations = 8
)

// Tool result handling
const (
	// DefaultTruncateChars is the budget handed to tool-result truncation
	DefaultTruncateChars = 3000
	// MaxErrorDetailChars caps provider detail interpolated into user-facing errors
	MaxErrorDetailChars = 200
)
