package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStreamDeliversChunksThenEOF(t *testing.T) {
	s := newEventStream(context.Background(), func(ctx context.Context, chunks chan<- Chunk) error {
		sendChunk(ctx, chunks, Chunk{Kind: ChunkTextDelta, Text: "hello"})
		sendChunk(ctx, chunks, Chunk{Kind: ChunkStreamEnd, End: &StreamEnd{StopReason: "end_turn"}})
		return nil
	})

	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, ChunkTextDelta, chunk.Kind)
	assert.Equal(t, "hello", chunk.Text)

	chunk, err = s.Recv()
	require.NoError(t, err)
	assert.Equal(t, ChunkStreamEnd, chunk.Kind)
	assert.Equal(t, "end_turn", chunk.End.StopReason)

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)

	// Recv keeps returning EOF after exhaustion.
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestEventStreamSurfacesProducerError(t *testing.T) {
	boom := errors.New("boom")
	s := newEventStream(context.Background(), func(ctx context.Context, chunks chan<- Chunk) error {
		sendChunk(ctx, chunks, Chunk{Kind: ChunkTextDelta, Text: "partial"})
		return boom
	})

	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", chunk.Text)

	_, err = s.Recv()
	assert.ErrorIs(t, err, boom)
}

func TestEventStreamCloseUnblocksProducer(t *testing.T) {
	produced := make(chan struct{})
	s := newEventStream(context.Background(), func(ctx context.Context, chunks chan<- Chunk) error {
		defer close(produced)
		// More chunks than the buffer holds; Close must not strand us.
		for i := 0; i < 100; i++ {
			if !sendChunk(ctx, chunks, Chunk{Kind: ChunkTextDelta, Text: "x"}) {
				return ctx.Err()
			}
		}
		return nil
	})

	_, err := s.Recv()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	<-produced
}

func TestToolUseAccumulatorAssemblesFragments(t *testing.T) {
	acc := newToolUseAccumulator()
	acc.start(0, "toolu_01", "webSearch")
	acc.appendJSON(0, `{"query":`)
	acc.appendJSON(0, `"go generics"}`)

	call, ok := acc.finish(0)
	require.True(t, ok)
	assert.Equal(t, "toolu_01", call.CallID)
	assert.Equal(t, "webSearch", call.Name)
	assert.Equal(t, "go generics", call.Args["query"])

	// A second finish for the same index yields nothing.
	_, ok = acc.finish(0)
	assert.False(t, ok)
}

func TestToolUseAccumulatorKeepsMalformedJSONRaw(t *testing.T) {
	acc := newToolUseAccumulator()
	acc.start(1, "toolu_02", "calculator")
	acc.appendJSON(1, `{"expression": 1+`)

	call, ok := acc.finish(1)
	require.True(t, ok)
	assert.Equal(t, `{"expression": 1+`, call.Args["_raw"])
}

func TestChatToolAccumulatorDrainsInOrder(t *testing.T) {
	acc := newChatToolAccumulator()
	acc.add(0, "call_a", "webSearch", "")
	acc.add(1, "call_b", "calculator", "")
	acc.add(0, "", "", `{"query":"rust`)
	acc.add(0, "", "", ` vs go"}`)
	acc.add(1, "", "", `{"expression":"2+2"}`)

	calls := acc.drain()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].CallID)
	assert.Equal(t, "rust vs go", calls[0].Args["query"])
	assert.Equal(t, "call_b", calls[1].CallID)
	assert.Equal(t, "2+2", calls[1].Args["expression"])

	assert.Empty(t, acc.drain())
}

func TestEstimateRequestTokensGrowsWithContent(t *testing.T) {
	small := &Request{
		ModelID:  "gpt-4o",
		Messages: []*Message{{Role: "user", Content: "hi"}},
	}
	large := &Request{
		ModelID:      "gpt-4o",
		SystemPrompt: "You are a careful assistant.",
		Messages: []*Message{
			{Role: "user", Content: "Explain the Go memory model in detail."},
			{Role: "assistant", Content: "The Go memory model specifies the conditions under which reads observe writes."},
		},
	}

	assert.Greater(t, EstimateRequestTokens(large), EstimateRequestTokens(small))
	assert.Zero(t, EstimateRequestTokens(nil))
}
