package store

import (
	"context"
	"errors"
	"time"

	"github.com/genloop-ai/genloop/internal/tools"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobGenerating JobStatus = "generating"
	JobStopped    JobStatus = "stopped"
	JobComplete   JobStatus = "complete"
	JobError      JobStatus = "error"
)

// ErrNotFound is returned when a job, message or invocation does not exist.
var ErrNotFound = errors.New("record not found")

// Job is one generation request being tracked.
type Job struct {
	ID        string
	ChatID    string
	Status    JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a persisted chat message. Assistant messages are written
// incrementally while a job streams.
type Message struct {
	ID        string
	JobID     string
	ChatID    string
	Role      string
	Content   string
	Reasoning string
	Status    string
	Error     string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToolInvocation records one tool call attached to a message.
type ToolInvocation struct {
	CallID      string
	MessageID   string
	JobID       string
	Name        string
	Args        map[string]interface{}
	Result      interface{}
	Error       string
	State       string // "partial", "complete" or "failed"
	StartedAt   time.Time
	CompletedAt time.Time
}

const (
	InvocationPartial  = "partial"
	InvocationComplete = "complete"
	InvocationFailed   = "failed"
)

// Store persists jobs, messages and tool invocations. Implementations must
// be safe for concurrent use.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)
	SetJobStatus(ctx context.Context, jobID string, status JobStatus) error

	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	PatchMessage(ctx context.Context, messageID string, fields map[string]interface{}) error

	InsertToolInvocation(ctx context.Context, inv *ToolInvocation) error
	PatchToolInvocation(ctx context.Context, callID string, fields map[string]interface{}) error
	DeleteToolInvocation(ctx context.Context, callID string) error
	ListToolInvocations(ctx context.Context, messageID string) ([]*ToolInvocation, error)

	// SearchDocuments serves the local document search tool.
	SearchDocuments(ctx context.Context, query string, limit int) ([]tools.DocumentMatch, error)

	Close() error
}

// Scheduler runs background tasks detached from the caller. Implementations
// must recover panics so a bad task cannot take the process down.
type Scheduler interface {
	Schedule(name string, task func(ctx context.Context))
}
