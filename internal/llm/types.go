package llm

import (
	"context"
	"io"
)

// Message represents a chat message
type Message struct {
	Role      string                   `json:"role"`
	Content   string                   `json:"content"`
	ToolCalls []map[string]interface{} `json:"tool_calls,omitempty"`
	ToolID    string                   `json:"tool_id,omitempty"`
	ToolName  string                   `json:"tool_name,omitempty"` // Name of the tool for tool responses
}

// ToolSpec describes a callable tool offered to the model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Attachment is a binary blob (image or file) attached to the request.
type Attachment struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Request describes one generation turn.
type Request struct {
	ModelID          string        `json:"model_id"`
	Messages         []*Message    `json:"messages"`
	SystemPrompt     string        `json:"system_prompt,omitempty"`
	Tools            []ToolSpec    `json:"tools,omitempty"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float64       `json:"temperature,omitempty"`
	IncludeReasoning bool          `json:"include_reasoning,omitempty"`
	Attachments      []*Attachment `json:"attachments,omitempty"`
}

// ChunkKind tags one streamed unit of provider output.
type ChunkKind int

const (
	// ChunkTextDelta carries a fragment of answer text
	ChunkTextDelta ChunkKind = iota
	// ChunkReasoningDelta carries a fragment of visible reasoning text
	ChunkReasoningDelta
	// ChunkToolCallStart announces a provider-issued tool invocation
	ChunkToolCallStart
	// ChunkToolCallResult carries the result of a provider-executed tool
	ChunkToolCallResult
	// ChunkStreamEnd closes the stream with usage and response metadata
	ChunkStreamEnd
)

// ToolCallEvent describes a tool invocation or its result.
type ToolCallEvent struct {
	CallID string
	Name   string
	Args   map[string]interface{}
	Result interface{}
	Err    string
}

// Usage counts tokens for one request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Source is a citation attached to the response.
type Source struct {
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	Position int    `json:"position,omitempty"` // offset into the answer text, -1 when unknown
}

// FileOutput is a provider-generated file or image.
type FileOutput struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// StreamEnd carries end-of-stream metadata.
type StreamEnd struct {
	Usage      Usage
	StopReason string
	Sources    []Source
	Files      []FileOutput
}

// Chunk is a tagged union over the chunk kinds. Exactly the fields implied by
// Kind are populated.
type Chunk struct {
	Kind     ChunkKind
	Text     string
	ToolCall *ToolCallEvent
	End      *StreamEnd
}

// Stream is an abortable sequence of chunks. Recv returns io.EOF after the
// ChunkStreamEnd chunk has been delivered. Close aborts the underlying
// provider request; it is safe to call at any time and more than once.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Completion is the result of a non-streaming request, used for the
// continuation path.
type Completion struct {
	Content    string
	StopReason string
	Usage      Usage
}

// Provider opens streams against a model backend.
type Provider interface {
	// Name identifies the backend (for logs and error messages)
	Name() string
	// OpenStream starts a streaming generation
	OpenStream(ctx context.Context, req *Request) (Stream, error)
	// Complete performs a one-shot, non-streaming generation
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// streamProducer feeds chunks into a channel-backed Stream.
type streamProducer func(ctx context.Context, chunks chan<- Chunk) error

// eventStream adapts a producer goroutine to the pull-based Stream interface.
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	chunks chan Chunk
	errCh  chan error
	done   bool
}

// newEventStream runs produce in a goroutine; the producer's return error (or
// nil for clean end) is surfaced by Recv once the chunk channel drains.
func newEventStream(ctx context.Context, produce streamProducer) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		ctx:    ctx,
		cancel: cancel,
		chunks: make(chan Chunk, 16),
		errCh:  make(chan error, 1),
	}
	go func() {
		err := produce(ctx, s.chunks)
		close(s.chunks)
		s.errCh <- err
	}()
	return s
}

func (s *eventStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	chunk, ok := <-s.chunks
	if !ok {
		s.done = true
		if err := <-s.errCh; err != nil {
			return Chunk{}, err
		}
		return Chunk{}, io.EOF
	}
	return chunk, nil
}

func (s *eventStream) Close() error {
	s.cancel()
	return nil
}

// sendChunk delivers a chunk unless the stream has been aborted. Producers
// must use it for every send so Close never leaves them blocked.
func sendChunk(ctx context.Context, chunks chan<- Chunk, chunk Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
