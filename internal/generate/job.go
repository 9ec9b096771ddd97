package generate

import (
	"time"

	"github.com/genloop-ai/genloop/internal/llm"
)

// Params describe one generation request.
type Params struct {
	JobID        string
	ChatID       string
	UserID       string
	ModelID      string
	SystemPrompt string
	Messages     []*llm.Message
	Attachments  []*llm.Attachment

	IncludeReasoning bool
	MaxOutputTokens  int
	Temperature      float64
}

// Job is the in-memory authoritative copy of one in-flight response. The
// orchestrator owns it exclusively; only snapshots reach the store.
type Job struct {
	ID                  string
	ChatID              string
	UserID              string
	ModelID             string
	CreatedAt           time.Time
	GenerationStartedAt time.Time
	FirstTokenAt        time.Time
}

func newJob(params Params) *Job {
	return &Job{
		ID:        params.JobID,
		ChatID:    params.ChatID,
		UserID:    params.UserID,
		ModelID:   params.ModelID,
		CreatedAt: time.Now(),
	}
}
