package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/genloop-ai/genloop/internal/consts"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicProvider implements Provider on the official Anthropic SDK.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(apiKey, modelName string) (*AnthropicProvider, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("anthropic provider requires an API key")
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultAnthropicModel
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(key)),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// OpenStream starts a streaming generation. Tool-call input JSON arrives in
// fragments; the call chunk is emitted once its block closes and the
// arguments are complete.
func (p *AnthropicProvider) OpenStream(ctx context.Context, req *Request) (Stream, error) {
	params, err := p.buildMessageParams(req)
	if err != nil {
		return nil, err
	}

	return newEventStream(ctx, func(ctx context.Context, chunks chan<- Chunk) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		if stream == nil {
			return fmt.Errorf("anthropic stream failed: no stream returned")
		}
		defer stream.Close()

		acc := newToolUseAccumulator()
		var usage Usage
		var stopReason string

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						if !sendChunk(ctx, chunks, Chunk{Kind: ChunkTextDelta, Text: delta.Text}) {
							return ctx.Err()
						}
					}
				case anthropic.ThinkingDelta:
					if req.IncludeReasoning && delta.Thinking != "" {
						if !sendChunk(ctx, chunks, Chunk{Kind: ChunkReasoningDelta, Text: delta.Thinking}) {
							return ctx.Err()
						}
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						acc.appendJSON(variant.Index, delta.PartialJSON)
					}
				}
			case anthropic.ContentBlockStartEvent:
				if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					acc.start(variant.Index, block.ID, block.Name)
				}
			case anthropic.ContentBlockStopEvent:
				if call, ok := acc.finish(variant.Index); ok {
					if !sendChunk(ctx, chunks, Chunk{Kind: ChunkToolCallStart, ToolCall: call}) {
						return ctx.Err()
					}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.InputTokens > 0 {
					usage.InputTokens = int(variant.Usage.InputTokens)
				}
				if variant.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(variant.Usage.OutputTokens)
				}
				if variant.Delta.StopReason != "" {
					stopReason = string(variant.Delta.StopReason)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic stream failed: %w", err)
		}

		end := &StreamEnd{Usage: usage, StopReason: stopReason}
		if !sendChunk(ctx, chunks, Chunk{Kind: ChunkStreamEnd, End: end}) {
			return ctx.Err()
		}
		return nil
	}), nil
}

// Complete performs the one-shot request used by the continuation path.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	params, err := p.buildMessageParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &Completion{
		Content:    sb.String(),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicProvider) buildMessageParams(req *Request) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic request cannot be nil")
	}

	chatMessages, err := convertMessagesToAnthropic(req)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	if len(chatMessages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic request requires at least one user or assistant message")
	}

	model := req.ModelID
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = consts.DefaultMaxOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  chatMessages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if tools := convertAnthropicTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

func convertMessagesToAnthropic(req *Request) ([]anthropic.MessageParam, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case "assistant":
			blocks, err := buildAnthropicAssistantBlocks(msg)
			if err != nil {
				return nil, err
			}
			if len(blocks) == 0 {
				continue
			}
			chatMessages = append(chatMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case "tool":
			toolMsg, err := buildAnthropicToolMessage(msg)
			if err != nil {
				return nil, err
			}
			if toolMsg.Role != "" {
				chatMessages = append(chatMessages, toolMsg)
			}
		default:
			if msg.Content == "" {
				continue
			}
			chatMessages = append(chatMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
			})
		}
	}

	// Downloaded attachments ride on a trailing user turn.
	if blocks := buildAnthropicAttachmentBlocks(req.Attachments); len(blocks) > 0 {
		chatMessages = append(chatMessages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: blocks,
		})
	}

	return chatMessages, nil
}

func buildAnthropicAssistantBlocks(msg *Message) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))

	if msg.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}

	for idx, call := range msg.ToolCalls {
		if call == nil {
			continue
		}
		function, ok := call["function"].(map[string]interface{})
		if !ok || function == nil {
			return nil, fmt.Errorf("tool call %d is missing function details", idx)
		}
		name, _ := function["name"].(string)
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("tool call %d is missing a function name", idx)
		}
		callID, _ := call["id"].(string)
		if strings.TrimSpace(callID) == "" {
			callID = fmt.Sprintf("tool_call_%d", idx)
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(callID, function["arguments"], name))
	}

	return blocks, nil
}

func buildAnthropicToolMessage(msg *Message) (anthropic.MessageParam, error) {
	toolID := strings.TrimSpace(msg.ToolID)
	if toolID == "" {
		// No tool reference: fall back to plain user text.
		if msg.Content == "" {
			return anthropic.MessageParam{}, nil
		}
		return anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		}, nil
	}

	block := anthropic.NewToolResultBlock(toolID, msg.Content, false)
	return anthropic.MessageParam{
		Role:    anthropic.MessageParamRoleUser,
		Content: []anthropic.ContentBlockParamUnion{block},
	}, nil
}

func buildAnthropicAttachmentBlocks(attachments []*Attachment) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, att := range attachments {
		if att == nil || len(att.Data) == 0 || !strings.HasPrefix(att.MimeType, "image/") {
			continue
		}
		encoded := base64.StdEncoding.EncodeToString(att.Data)
		blocks = append(blocks, anthropic.NewImageBlockBase64(att.MimeType, encoded))
	}
	return blocks
}

func convertAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, spec := range tools {
		if strings.TrimSpace(spec.Name) == "" {
			continue
		}

		schema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if spec.Parameters != nil {
			if props, ok := spec.Parameters["properties"]; ok {
				schema.Properties = props
			}
			if req, ok := spec.Parameters["required"].([]string); ok {
				schema.Required = req
			}
		}

		tool := &anthropic.ToolParam{
			Name:        spec.Name,
			InputSchema: schema,
			Type:        anthropic.ToolTypeCustom,
		}
		if spec.Description != "" {
			tool.Description = anthropic.String(spec.Description)
		}

		result = append(result, anthropic.ToolUnionParam{OfTool: tool})
	}
	return result
}

// toolUseAccumulator assembles streamed tool-use blocks: the ID and name
// arrive on block start, the input JSON in fragments, and the block stop
// marks the call complete.
type toolUseAccumulator struct {
	calls map[int64]*pendingToolUse
}

type pendingToolUse struct {
	id   string
	name string
	json strings.Builder
}

func newToolUseAccumulator() *toolUseAccumulator {
	return &toolUseAccumulator{calls: make(map[int64]*pendingToolUse)}
}

func (a *toolUseAccumulator) start(index int64, id, name string) {
	a.calls[index] = &pendingToolUse{id: id, name: name}
}

func (a *toolUseAccumulator) appendJSON(index int64, fragment string) {
	if pending, ok := a.calls[index]; ok {
		pending.json.WriteString(fragment)
	}
}

func (a *toolUseAccumulator) finish(index int64) (*ToolCallEvent, bool) {
	pending, ok := a.calls[index]
	if !ok {
		return nil, false
	}
	delete(a.calls, index)

	args := map[string]interface{}{}
	if raw := pending.json.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = map[string]interface{}{"_raw": raw}
		}
	}
	return &ToolCallEvent{CallID: pending.id, Name: pending.name, Args: args}, true
}
