package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/genloop-ai/genloop/internal/budget"
	"github.com/genloop-ai/genloop/internal/config"
	"github.com/genloop-ai/genloop/internal/consts"
	"github.com/genloop-ai/genloop/internal/llm"
	"github.com/genloop-ai/genloop/internal/logger"
	"github.com/genloop-ai/genloop/internal/store"
	"github.com/genloop-ai/genloop/internal/streambuf"
	"github.com/genloop-ai/genloop/internal/tools"
)

// Deps are the collaborators an orchestrator needs. All of them are
// injected; the orchestrator never reaches for globals.
type Deps struct {
	Provider   llm.Provider
	Store      store.Store
	Scheduler  store.Scheduler
	Tools      *tools.Registry
	Config     *config.Config
	HTTPClient *http.Client
	Hooks      Hooks
}

// Hooks are optional post-completion callbacks run through the Scheduler
// after the terminal write. Nil hooks are skipped.
type Hooks struct {
	ChatMetadataRefresh func(ctx context.Context, chatID string)
	UsageAnalysis       func(ctx context.Context, jobID string, usage llm.Usage, costUSD float64)
}

// Orchestrator drives one generation job end to end. Create a fresh instance
// per job; it holds the job's loop timers and accumulators as instance state.
type Orchestrator struct {
	provider llm.Provider
	st       store.Store
	sched    store.Scheduler
	registry *tools.Registry
	cfg      *config.Config
	hooks    Hooks

	params Params
	job    *Job

	budget       budget.State
	textBuf      *streambuf.Buffer
	reasoningBuf *streambuf.Buffer
	text         strings.Builder
	reasoning    strings.Builder

	toolMgr   *ToolLifecycleManager
	cancelMon *CancellationMonitor
	fetcher   *attachmentFetcher

	messageID string
	lastFlush time.Time

	req        *llm.Request
	usage      llm.Usage
	stopReason string
	sources    []llm.Source
	files      []llm.FileOutput

	stopped   bool
	finalized bool
}

// New builds a per-job orchestrator. cfg must be non-nil; use
// config.Default() when no file-backed configuration exists.
func New(deps Deps, params Params) *Orchestrator {
	return &Orchestrator{
		provider:     deps.Provider,
		st:           deps.Store,
		sched:        deps.Scheduler,
		registry:     deps.Tools,
		cfg:          deps.Config,
		hooks:        deps.Hooks,
		params:       params,
		job:          newJob(params),
		budget:       budget.NewState(llm.ContextWindow(params.ModelID)),
		textBuf:      streambuf.New(),
		reasoningBuf: streambuf.New(),
		fetcher:      newAttachmentFetcher(deps.HTTPClient),
	}
}

// MessageID returns the id of the assistant message this job writes. Empty
// until Run has started.
func (o *Orchestrator) MessageID() string {
	return o.messageID
}

// Run executes the job. A user-initiated stop is a clean termination: Run
// returns nil and whatever partial content was already persisted stays
// untouched. All other failures come back classified.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.begin(ctx); err != nil {
		return o.fail(ctx, err)
	}

	if err := o.fetcher.Prefetch(ctx, o.params.Attachments); err != nil {
		return o.fail(ctx, err)
	}

	o.req = o.buildRequest()

	for iteration := 0; iteration < consts.MaxToolIterations; iteration++ {
		pending, err := o.consumeStream(ctx)
		if o.stopped {
			logger.Info("job %s stopped by user after %d iterations", o.job.ID, iteration)
			return nil
		}
		if err != nil {
			return o.fail(ctx, err)
		}
		if len(pending) == 0 {
			break
		}

		if err := o.executeToolCalls(ctx, pending); err != nil {
			return o.fail(ctx, err)
		}
		if o.stopped {
			logger.Info("job %s stopped by user during tool execution", o.job.ID)
			return nil
		}
		if !o.budget.Allows() {
			logger.Warn("job %s: context budget exhausted (%d%%), skipping further tool iterations",
				o.job.ID, o.budget.ContextPercent())
			break
		}
	}

	o.text.WriteString(o.textBuf.Flush())
	o.reasoning.WriteString(o.reasoningBuf.Flush())

	if err := o.resolveEmptyAnswer(ctx); err != nil {
		return o.fail(ctx, err)
	}
	if err := o.toolMgr.FinishJob(ctx); err != nil {
		return o.fail(ctx, err)
	}
	if err := o.finalize(ctx); err != nil {
		return o.fail(ctx, err)
	}
	return nil
}

func (o *Orchestrator) begin(ctx context.Context) error {
	o.job.GenerationStartedAt = time.Now()

	err := o.st.SetJobStatus(ctx, o.job.ID, store.JobGenerating)
	if errors.Is(err, store.ErrNotFound) {
		err = o.st.CreateJob(ctx, &store.Job{
			ID:     o.job.ID,
			ChatID: o.job.ChatID,
			Status: store.JobGenerating,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to mark job generating: %w", err)
	}

	o.messageID = uuid.NewString()
	if err := o.st.CreateMessage(ctx, &store.Message{
		ID:     o.messageID,
		JobID:  o.job.ID,
		ChatID: o.job.ChatID,
		Role:   "assistant",
		Status: "generating",
	}); err != nil {
		return fmt.Errorf("failed to create assistant message: %w", err)
	}

	o.toolMgr = NewToolLifecycleManager(o.st, o.job.ID, o.messageID)
	o.cancelMon = NewCancellationMonitor(o.st, o.job.ID, o.cfg.CancelCheckInterval())
	return nil
}

func (o *Orchestrator) buildRequest() *llm.Request {
	maxTokens := o.params.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = o.cfg.MaxOutputTokens
	}

	var specs []llm.ToolSpec
	if o.registry != nil {
		specs = o.registry.Specs()
	}

	return &llm.Request{
		ModelID:          o.params.ModelID,
		Messages:         o.params.Messages,
		SystemPrompt:     o.params.SystemPrompt,
		Tools:            specs,
		MaxTokens:        maxTokens,
		Temperature:      o.params.Temperature,
		IncludeReasoning: o.params.IncludeReasoning,
		Attachments:      o.params.Attachments,
	}
}

// consumeStream processes one provider stream to completion, returning the
// tool calls the model issued. It dispatches strictly in arrival order; the
// cancel poll and the write throttle run inside the same loop so a stop and
// a write can never race.
func (o *Orchestrator) consumeStream(ctx context.Context) ([]*llm.ToolCallEvent, error) {
	stream, err := o.provider.OpenStream(ctx, o.req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var pending []*llm.ToolCallEvent
	for {
		if o.cancelMon.ShouldStop(ctx) {
			o.stopped = true
			stream.Close()
			return nil, nil
		}

		chunk, err := stream.Recv()
		if err == io.EOF {
			return pending, nil
		}
		if err != nil {
			return nil, err
		}

		switch chunk.Kind {
		case llm.ChunkTextDelta:
			if chunk.Text != "" && o.job.FirstTokenAt.IsZero() {
				o.job.FirstTokenAt = time.Now()
			}
			o.text.WriteString(o.textBuf.Process(chunk.Text))
			if err := o.maybeFlush(ctx); err != nil {
				return nil, err
			}

		case llm.ChunkReasoningDelta:
			if !o.params.IncludeReasoning {
				continue
			}
			o.reasoning.WriteString(o.reasoningBuf.Process(chunk.Text))
			if err := o.maybeFlush(ctx); err != nil {
				return nil, err
			}

		case llm.ChunkToolCallStart:
			if err := o.toolMgr.Begin(ctx, chunk.ToolCall, o.text.Len()); err != nil {
				return nil, err
			}
			pending = append(pending, chunk.ToolCall)

		case llm.ChunkToolCallResult:
			// Provider-executed tool: the result arrives in-band.
			if err := o.handleProviderResult(ctx, chunk.ToolCall); err != nil {
				return nil, err
			}

		case llm.ChunkStreamEnd:
			o.recordStreamEnd(chunk.End)
		}
	}
}

func (o *Orchestrator) handleProviderResult(ctx context.Context, event *llm.ToolCallEvent) error {
	if _, ok := o.toolMgr.index[event.CallID]; !ok {
		if err := o.toolMgr.Begin(ctx, event, o.text.Len()); err != nil {
			return err
		}
	}
	o.budget = o.budget.RecordToolCall(event.Name).RecordUsage(budget.EstimateToolCost(event.Name))
	return o.toolMgr.Complete(ctx, event.CallID, event.Result, event.Err, o.budget)
}

func (o *Orchestrator) recordStreamEnd(end *llm.StreamEnd) {
	if end == nil {
		return
	}
	o.usage.InputTokens += end.Usage.InputTokens
	o.usage.OutputTokens += end.Usage.OutputTokens
	o.budget = o.budget.RecordUsage(end.Usage.InputTokens + end.Usage.OutputTokens)
	if end.StopReason != "" {
		o.stopReason = end.StopReason
	}
	o.sources = append(o.sources, end.Sources...)
	o.files = append(o.files, end.Files...)
}

// executeToolCalls runs the pending calls and feeds results back into the
// conversation so the next stream iteration can use them.
func (o *Orchestrator) executeToolCalls(ctx context.Context, pending []*llm.ToolCallEvent) error {
	assistant := &llm.Message{Role: "assistant"}
	var results []*llm.Message

	for _, call := range pending {
		if o.cancelMon.ShouldStop(ctx) {
			o.stopped = true
			return nil
		}

		result, errText := o.runSingleTool(ctx, call)

		o.budget = o.budget.RecordToolCall(call.Name).RecordUsage(budget.EstimateToolCost(call.Name))
		if search, ok := result.(*tools.WebSearchOutput); ok && errText == "" {
			o.budget = o.budget.RecordSearch(search.Query, len(search.Results), search.TopScore())
			o.collectSearchSources(call.CallID, search)
		}

		if err := o.toolMgr.Complete(ctx, call.CallID, result, errText, o.budget); err != nil {
			return err
		}

		assistant.ToolCalls = append(assistant.ToolCalls, map[string]interface{}{
			"id": call.CallID,
			"function": map[string]interface{}{
				"name":      call.Name,
				"arguments": call.Args,
			},
		})
		results = append(results, &llm.Message{
			Role:     "tool",
			ToolID:   call.CallID,
			ToolName: call.Name,
			Content:  o.renderToolContent(call.Name, result, errText),
		})
	}

	o.req.Messages = append(o.req.Messages, assistant)
	o.req.Messages = append(o.req.Messages, results...)
	return nil
}

func (o *Orchestrator) runSingleTool(ctx context.Context, call *llm.ToolCallEvent) (interface{}, string) {
	if o.registry == nil {
		logger.Warn("job %s: no executor registered for tool %s", o.job.ID, call.Name)
		return nil, fmt.Sprintf("tool %s is not available", call.Name)
	}
	if limited, msg := o.budget.IsToolRateLimited(call.Name); limited {
		logger.Info("job %s: tool %s rate limited", o.job.ID, call.Name)
		return nil, msg
	}

	result, err := o.registry.Execute(ctx, call.Name, call.Args, o.cfg.ToolTimeout(call.Name))
	if err != nil {
		// A failing tool call never aborts the job; the error rides back to
		// the model as the call's result.
		var timeout *tools.TimeoutError
		if errors.As(err, &timeout) {
			logger.Warn("job %s: %v", o.job.ID, timeout)
		} else {
			logger.Warn("job %s: tool %s failed: %v", o.job.ID, call.Name, err)
		}
		return nil, err.Error()
	}
	return result, ""
}

// renderToolContent serializes a result for the model and appends budget
// advisories so the model can adjust course.
func (o *Orchestrator) renderToolContent(toolName string, result interface{}, errText string) string {
	content := renderOutcome(ToolOutcome{Result: result, Err: errText})

	if isSearchTool(toolName) {
		if warning := o.budget.FormatSearchWarning(); warning != "" {
			content += "\n\n" + warning
		}
	}
	if status := o.budget.FormatStatus(); status != "" {
		content += "\n\n" + status
	}
	if o.budget.ShouldSuggestAskUser() {
		content += "\n\nIf the gathered information is insufficient, ask the user how to proceed instead of continuing to search."
	}
	return content
}

func isSearchTool(name string) bool {
	return name == "webSearch" || name == "searchAll"
}

func (o *Orchestrator) collectSearchSources(callID string, search *tools.WebSearchOutput) {
	position := o.toolMgr.Position(callID)
	for _, hit := range search.Results {
		o.sources = append(o.sources, llm.Source{
			Title:    hit.Title,
			URL:      hit.URL,
			Position: position,
		})
	}
}

// resolveEmptyAnswer handles the tool-only response: completed tool calls
// but no visible text. One continuation attempt, then the deterministic
// fallback.
func (o *Orchestrator) resolveEmptyAnswer(ctx context.Context) error {
	if o.toolMgr.CompletedCount() == 0 || strings.TrimSpace(o.text.String()) != "" {
		return nil
	}

	outcomes := o.toolMgr.Outcomes()
	content, err := runContinuation(ctx, o.provider, o.req, outcomes)
	if err != nil {
		logger.Warn("job %s: continuation failed, using fallback summary: %v", o.job.ID, err)
		content = fallbackSummary(outcomes)
	}

	o.text.Reset()
	o.text.WriteString(content)
	return nil
}

// maybeFlush persists the partial accumulators, at most once per throttle
// interval.
func (o *Orchestrator) maybeFlush(ctx context.Context) error {
	if time.Since(o.lastFlush) < o.cfg.WriteThrottleInterval() {
		return nil
	}
	o.lastFlush = time.Now()

	fields := map[string]interface{}{
		"content": o.text.String(),
		"status":  "generating",
	}
	if o.params.IncludeReasoning {
		fields["reasoning"] = o.reasoning.String()
	}
	return o.st.PatchMessage(ctx, o.messageID, fields)
}

// finalize writes the terminal message exactly once.
func (o *Orchestrator) finalize(ctx context.Context) error {
	if o.finalized {
		return nil
	}

	cost := llm.Cost(o.params.ModelID, o.usage)

	var throughput float64
	if !o.job.FirstTokenAt.IsZero() {
		elapsed := time.Since(o.job.FirstTokenAt).Seconds()
		if elapsed > 0 {
			throughput = float64(o.usage.OutputTokens) / elapsed
		}
	}

	metadata := map[string]interface{}{
		"model_id":       o.params.ModelID,
		"input_tokens":   o.usage.InputTokens,
		"output_tokens":  o.usage.OutputTokens,
		"cost_usd":       cost,
		"throughput_tps": throughput,
		"stop_reason":    o.stopReason,
	}
	if len(o.sources) > 0 {
		// Provider-native and tool-produced sources merge by answer offset.
		sort.SliceStable(o.sources, func(i, j int) bool {
			return o.sources[i].Position < o.sources[j].Position
		})
		metadata["sources"] = o.sources
	}
	if len(o.files) > 0 {
		files := make([]map[string]interface{}, 0, len(o.files))
		for _, f := range o.files {
			files = append(files, map[string]interface{}{
				"name":      f.Name,
				"mime_type": f.MimeType,
				"size":      len(f.Data),
			})
		}
		metadata["files"] = files
	}

	fields := map[string]interface{}{
		"content":  o.text.String(),
		"status":   "complete",
		"metadata": metadata,
	}
	if o.params.IncludeReasoning {
		fields["reasoning"] = o.reasoning.String()
	}
	if err := o.st.PatchMessage(ctx, o.messageID, fields); err != nil {
		return fmt.Errorf("failed to finalize message: %w", err)
	}
	if err := o.st.SetJobStatus(ctx, o.job.ID, store.JobComplete); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	o.finalized = true

	logger.Info("job %s complete: %d in / %d out tokens, $%.6f, %.1f tok/s",
		o.job.ID, o.usage.InputTokens, o.usage.OutputTokens, cost, throughput)

	// Fire-and-forget side effects; finalization never waits on them.
	if hook := o.hooks.ChatMetadataRefresh; hook != nil {
		chatID := o.job.ChatID
		o.sched.Schedule("chat-metadata-refresh", func(ctx context.Context) {
			hook(ctx, chatID)
		})
	}
	if hook := o.hooks.UsageAnalysis; hook != nil {
		jobID, usage := o.job.ID, o.usage
		o.sched.Schedule("usage-analysis", func(ctx context.Context) {
			hook(ctx, jobID, usage, cost)
		})
	}
	return nil
}

// fail classifies the error and writes the terminal error state. A stop
// observed on the way down stays a clean termination with no extra writes.
func (o *Orchestrator) fail(ctx context.Context, err error) error {
	if err == nil || o.stopped {
		return nil
	}

	classified := llm.Classify(err)

	wasted := llm.WastedCost(o.params.ModelID, llm.EstimateRequestTokens(o.req), o.usage.OutputTokens)
	logger.Error("job %s failed (%s, ~$%.6f wasted): %v", o.job.ID, classified.Category, wasted, err)

	if o.messageID != "" {
		if patchErr := o.st.PatchMessage(ctx, o.messageID, map[string]interface{}{
			"status": "error",
			"error":  classified.UserMessage,
		}); patchErr != nil {
			logger.Error("job %s: failed to persist error state: %v", o.job.ID, patchErr)
		}
	}
	if statusErr := o.st.SetJobStatus(ctx, o.job.ID, store.JobError); statusErr != nil {
		logger.Error("job %s: failed to mark job errored: %v", o.job.ID, statusErr)
	}
	return classified
}
