package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/genloop-ai/genloop/internal/llm"
	"github.com/genloop-ai/genloop/internal/logger"
)

// Tool is a callable action offered to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// TimeoutError reports a tool that exceeded its execution deadline. Callers
// can distinguish it from tool-internal failures with errors.As.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Op, e.Limit)
}

// Registry holds the tools available to a generation.
type Registry struct {
	entries map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.entries[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.entries[name]
	return tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs converts the registry to the wire format sent to providers.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.entries))
	for _, name := range r.Names() {
		tool := r.entries[name]
		specs = append(specs, llm.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return specs
}

// Execute runs a named tool under a deadline. The tool goroutine keeps its
// own context so a timed-out tool is cancelled rather than leaked.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}, timeout time.Duration) (interface{}, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		result, err := tool.Execute(toolCtx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		logger.Debug("tool %s finished in %s (err=%v)", name, time.Since(start), out.err)
		return out.result, out.err
	case <-toolCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("tool %s exceeded its %s deadline", name, timeout)
		return nil, &TimeoutError{Op: name, Limit: timeout}
	}
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]interface{}, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("parameter %q is required and must be a non-empty string", key)
	}
	return value, nil
}
