package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/genloop-ai/genloop/internal/tools"
)

// MemoryStore is an in-memory Store used by tests and ephemeral sessions.
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	messages    map[string]*Message
	invocations map[string]*ToolInvocation
	documents   []memoryDocument
}

type memoryDocument struct {
	id      string
	title   string
	content string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*Job),
		messages:    make(map[string]*Message),
		invocations: make(map[string]*ToolInvocation),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	if copied.Status == "" {
		copied.Status = JobPending
	}
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = copied.CreatedAt
	s.jobs[copied.ID] = &copied
	return nil
}

func (s *MemoryStore) JobStatus(_ context.Context, jobID string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return "", ErrNotFound
	}
	return job.Status, nil
}

func (s *MemoryStore) SetJobStatus(_ context.Context, jobID string, status JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *msg
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = copied.CreatedAt
	s.messages[copied.ID] = &copied
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (s *MemoryStore) PatchMessage(_ context.Context, messageID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	for key, value := range fields {
		switch key {
		case "content":
			msg.Content, _ = value.(string)
		case "reasoning":
			msg.Reasoning, _ = value.(string)
		case "status":
			msg.Status, _ = value.(string)
		case "error":
			msg.Error, _ = value.(string)
		case "metadata":
			if m, ok := value.(map[string]interface{}); ok {
				msg.Metadata = m
			}
		}
	}
	msg.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) InsertToolInvocation(_ context.Context, inv *ToolInvocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *inv
	if copied.State == "" {
		copied.State = InvocationPartial
	}
	copied.StartedAt = time.Now()
	s.invocations[copied.CallID] = &copied
	return nil
}

func (s *MemoryStore) PatchToolInvocation(_ context.Context, callID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invocations[callID]
	if !ok {
		return ErrNotFound
	}
	for key, value := range fields {
		switch key {
		case "result":
			inv.Result = value
		case "error":
			inv.Error, _ = value.(string)
		case "state":
			inv.State, _ = value.(string)
		case "completed_at":
			if t, ok := value.(time.Time); ok {
				inv.CompletedAt = t
			}
		}
	}
	return nil
}

func (s *MemoryStore) DeleteToolInvocation(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invocations[callID]; !ok {
		return ErrNotFound
	}
	delete(s.invocations, callID)
	return nil
}

func (s *MemoryStore) ListToolInvocations(_ context.Context, messageID string) ([]*ToolInvocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*ToolInvocation
	for _, inv := range s.invocations {
		if inv.MessageID == messageID {
			copied := *inv
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].CallID < result[j].CallID
		}
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

func (s *MemoryStore) SearchDocuments(_ context.Context, query string, limit int) ([]tools.DocumentMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	var matches []tools.DocumentMatch
	for _, doc := range s.documents {
		score := 0.0
		if strings.Contains(strings.ToLower(doc.title), needle) {
			score = 1.0
		} else if strings.Contains(strings.ToLower(doc.content), needle) {
			score = 0.5
		}
		if score == 0 {
			continue
		}
		matches = append(matches, tools.DocumentMatch{
			ID:      doc.id,
			Title:   doc.title,
			Snippet: snippetAround(doc.content, query),
			Score:   score,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// AddDocument stores a document for local search.
func (s *MemoryStore) AddDocument(_ context.Context, id, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, memoryDocument{id: id, title: title, content: content})
	return nil
}
