package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/genloop-ai/genloop/internal/budget"
	"github.com/genloop-ai/genloop/internal/consts"
	"github.com/genloop-ai/genloop/internal/llm"
	"github.com/genloop-ai/genloop/internal/store"
)

// toolRecord tracks one invocation from partial to complete.
type toolRecord struct {
	callID    string
	name      string
	args      map[string]interface{}
	result    interface{}
	errText   string
	hasResult bool
	partial   bool
	textPos   int
}

// ToolOutcome summarizes a finished call for continuation and fallback text.
type ToolOutcome struct {
	CallID string
	Name   string
	Args   map[string]interface{}
	Result interface{}
	Err    string
}

// ToolLifecycleManager moves invocations through none, partial, complete. It
// persists every transition immediately; tool events are rare and the UI
// wants them without throttling delay.
type ToolLifecycleManager struct {
	st        store.Store
	jobID     string
	messageID string

	records []*toolRecord
	index   map[string]*toolRecord

	completedResults int
}

func NewToolLifecycleManager(st store.Store, jobID, messageID string) *ToolLifecycleManager {
	return &ToolLifecycleManager{
		st:        st,
		jobID:     jobID,
		messageID: messageID,
		index:     make(map[string]*toolRecord),
	}
}

// Begin creates the partial record for a call-start event. textPos is the
// offset into the accumulated answer text at the moment the call was issued.
func (m *ToolLifecycleManager) Begin(ctx context.Context, call *llm.ToolCallEvent, textPos int) error {
	if _, exists := m.index[call.CallID]; exists {
		return fmt.Errorf("duplicate tool call id %s", call.CallID)
	}

	rec := &toolRecord{
		callID:  call.CallID,
		name:    call.Name,
		args:    call.Args,
		partial: true,
		textPos: textPos,
	}
	m.records = append(m.records, rec)
	m.index[call.CallID] = rec

	return m.st.InsertToolInvocation(ctx, &store.ToolInvocation{
		CallID:    call.CallID,
		MessageID: m.messageID,
		JobID:     m.jobID,
		Name:      call.Name,
		Args:      call.Args,
		State:     store.InvocationPartial,
	})
}

// Complete records the result (or error) for a pending call. When the
// context is getting full and at least two earlier calls already produced
// results, the result is truncated before storage.
func (m *ToolLifecycleManager) Complete(ctx context.Context, callID string, result interface{}, errText string, state budget.State) error {
	rec, ok := m.index[callID]
	if !ok {
		return fmt.Errorf("tool result for unknown call id %s", callID)
	}
	if rec.hasResult {
		return fmt.Errorf("duplicate tool result for call id %s", callID)
	}

	if errText == "" && state.IsContextGettingFull() && m.completedResults >= 2 {
		result = budget.TruncateToolResult(result, consts.DefaultTruncateChars)
	}

	rec.result = result
	rec.errText = errText
	rec.hasResult = true
	rec.partial = false
	m.completedResults++

	invState := store.InvocationComplete
	if errText != "" {
		invState = store.InvocationFailed
	}
	return m.st.PatchToolInvocation(ctx, callID, map[string]interface{}{
		"result":       result,
		"error":        errText,
		"state":        invState,
		"completed_at": time.Now(),
	})
}

// Outcomes returns the calls that produced a result, in call order.
func (m *ToolLifecycleManager) Outcomes() []ToolOutcome {
	outcomes := make([]ToolOutcome, 0, len(m.records))
	for _, rec := range m.records {
		if !rec.hasResult {
			continue
		}
		outcomes = append(outcomes, ToolOutcome{
			CallID: rec.callID,
			Name:   rec.name,
			Args:   rec.args,
			Result: rec.result,
			Err:    rec.errText,
		})
	}
	return outcomes
}

// Position returns the answer-text offset at which a call was issued, -1
// for unknown call ids.
func (m *ToolLifecycleManager) Position(callID string) int {
	if rec, ok := m.index[callID]; ok {
		return rec.textPos
	}
	return -1
}

// CompletedCount returns how many calls have produced a result.
func (m *ToolLifecycleManager) CompletedCount() int {
	return m.completedResults
}

// FinishJob sweeps state at job end: still-partial records holding a result
// flip to complete, and partial records without a result are deleted rather
// than left half-written.
func (m *ToolLifecycleManager) FinishJob(ctx context.Context) error {
	for _, rec := range m.records {
		switch {
		case rec.partial && rec.hasResult:
			rec.partial = false
			if err := m.st.PatchToolInvocation(ctx, rec.callID, map[string]interface{}{
				"state": store.InvocationComplete,
			}); err != nil {
				return err
			}
		case rec.partial:
			delete(m.index, rec.callID)
			if err := m.st.DeleteToolInvocation(ctx, rec.callID); err != nil {
				return err
			}
		}
	}
	return nil
}
