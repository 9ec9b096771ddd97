package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the same assertions against both implementations.
func storeImplementations(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "genloop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestJobLifecycle(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.CreateJob(ctx, &Job{ID: "job-1", ChatID: "chat-1"}))

			status, err := s.JobStatus(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, JobPending, status)

			require.NoError(t, s.SetJobStatus(ctx, "job-1", JobGenerating))
			status, err = s.JobStatus(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, JobGenerating, status)

			_, err = s.JobStatus(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.SetJobStatus(ctx, "missing", JobStopped), ErrNotFound)
		})
	}
}

func TestMessageCreateAndPatch(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.CreateMessage(ctx, &Message{
				ID:     "msg-1",
				JobID:  "job-1",
				Role:   "assistant",
				Status: "generating",
			}))

			require.NoError(t, s.PatchMessage(ctx, "msg-1", map[string]interface{}{
				"content": "partial answer",
				"status":  "generating",
			}))
			require.NoError(t, s.PatchMessage(ctx, "msg-1", map[string]interface{}{
				"content": "full answer",
				"status":  "complete",
				"metadata": map[string]interface{}{
					"stop_reason": "end_turn",
				},
			}))

			msg, err := s.GetMessage(ctx, "msg-1")
			require.NoError(t, err)
			assert.Equal(t, "full answer", msg.Content)
			assert.Equal(t, "complete", msg.Status)

			assert.ErrorIs(t, s.PatchMessage(ctx, "missing", map[string]interface{}{"content": "x"}), ErrNotFound)
		})
	}
}

func TestSQLitePatchRejectsUnknownColumn(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "genloop.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CreateMessage(ctx, &Message{ID: "msg-1", Role: "assistant"}))

	err = s.PatchMessage(ctx, "msg-1", map[string]interface{}{"id": "evil"})
	assert.ErrorContains(t, err, "cannot patch column")
}

func TestToolInvocationLifecycle(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.InsertToolInvocation(ctx, &ToolInvocation{
				CallID:    "call-1",
				MessageID: "msg-1",
				Name:      "webSearch",
				Args:      map[string]interface{}{"query": "go"},
			}))
			require.NoError(t, s.InsertToolInvocation(ctx, &ToolInvocation{
				CallID:    "call-2",
				MessageID: "msg-1",
				Name:      "calculator",
			}))

			require.NoError(t, s.PatchToolInvocation(ctx, "call-1", map[string]interface{}{
				"state":        InvocationComplete,
				"result":       map[string]interface{}{"hits": 3},
				"completed_at": time.Now(),
			}))

			invocations, err := s.ListToolInvocations(ctx, "msg-1")
			require.NoError(t, err)
			require.Len(t, invocations, 2)

			states := map[string]string{}
			for _, inv := range invocations {
				states[inv.CallID] = inv.State
			}
			assert.Equal(t, InvocationComplete, states["call-1"])
			assert.Equal(t, InvocationPartial, states["call-2"])

			require.NoError(t, s.DeleteToolInvocation(ctx, "call-2"))
			invocations, err = s.ListToolInvocations(ctx, "msg-1")
			require.NoError(t, err)
			assert.Len(t, invocations, 1)

			assert.ErrorIs(t, s.DeleteToolInvocation(ctx, "call-2"), ErrNotFound)
		})
	}
}

func TestSearchDocumentsRanksTitleMatches(t *testing.T) {
	ctx := context.Background()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "genloop.db"))
	require.NoError(t, err)
	defer sqlite.Close()
	mem := NewMemoryStore()

	for name, s := range map[string]interface {
		Store
		AddDocument(ctx context.Context, id, title, content string) error
	}{"sqlite": sqlite, "memory": mem} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AddDocument(ctx, "d1", "Meeting notes", "Quarterly planning discussion."))
			require.NoError(t, s.AddDocument(ctx, "d2", "Recipes", "Notes on sourdough baking."))

			matches, err := s.SearchDocuments(ctx, "notes", 10)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "d1", matches[0].ID)
			assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)

			matches, err = s.SearchDocuments(ctx, "zebra", 10)
			require.NoError(t, err)
			assert.Empty(t, matches)
		})
	}
}

func TestGoSchedulerRecoversPanics(t *testing.T) {
	sched := NewGoScheduler(context.Background())

	ran := make(chan struct{})
	sched.Schedule("panics", func(context.Context) {
		defer close(ran)
		panic("boom")
	})

	sched.Wait()
	<-ran
}
