package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/genloop-ai/genloop/internal/consts"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider implements Provider on the official OpenAI SDK. It also
// serves OpenAI-compatible endpoints via a custom base URL.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI-backed provider. baseURL is optional
// and points the client at a compatible gateway when set.
func NewOpenAIProvider(apiKey, modelName, baseURL string) (*OpenAIProvider, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("openai provider requires an API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if url := strings.TrimSpace(baseURL); url != "" {
		opts = append(opts, option.WithBaseURL(url))
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// OpenStream starts a streaming chat completion. Tool-call arguments arrive
// in fragments keyed by delta index; each call is emitted once a later delta
// moves past it or the stream finishes.
func (p *OpenAIProvider) OpenStream(ctx context.Context, req *Request) (Stream, error) {
	params, err := p.buildChatParams(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	return newEventStream(ctx, func(ctx context.Context, chunks chan<- Chunk) error {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		if stream == nil {
			return fmt.Errorf("openai stream failed: no stream returned")
		}
		defer stream.Close()

		acc := newChatToolAccumulator()
		var usage Usage
		var stopReason string

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage.InputTokens = int(chunk.Usage.PromptTokens)
				usage.OutputTokens = int(chunk.Usage.CompletionTokens)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				if !sendChunk(ctx, chunks, Chunk{Kind: ChunkTextDelta, Text: choice.Delta.Content}) {
					return ctx.Err()
				}
			}
			for _, toolDelta := range choice.Delta.ToolCalls {
				acc.add(toolDelta.Index, toolDelta.ID, toolDelta.Function.Name, toolDelta.Function.Arguments)
			}
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai stream failed: %w", err)
		}

		for _, call := range acc.drain() {
			if !sendChunk(ctx, chunks, Chunk{Kind: ChunkToolCallStart, ToolCall: call}) {
				return ctx.Err()
			}
		}

		end := &StreamEnd{Usage: usage, StopReason: stopReason}
		if !sendChunk(ctx, chunks, Chunk{Kind: ChunkStreamEnd, End: end}) {
			return ctx.Err()
		}
		return nil
	}), nil
}

// Complete performs the one-shot request used by the continuation path.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	params, err := p.buildChatParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion returned no choices")
	}

	choice := resp.Choices[0]
	return &Completion{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (p *OpenAIProvider) buildChatParams(req *Request) (openai.ChatCompletionNewParams, error) {
	if req == nil {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("openai request cannot be nil")
	}

	messages, err := convertMessagesToOpenAI(req)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	if len(messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("openai request requires at least one message")
	}

	model := req.ModelID
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = consts.DefaultMaxOutputTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if tools := convertOpenAITools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

func convertMessagesToOpenAI(req *Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case "assistant":
			assistant, err := buildOpenAIAssistantMessage(msg)
			if err != nil {
				return nil, err
			}
			messages = append(messages, assistant)
		case "tool":
			if strings.TrimSpace(msg.ToolID) == "" {
				return nil, fmt.Errorf("tool message is missing its call id")
			}
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolID))
		default:
			if msg.Content == "" {
				continue
			}
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	// Downloaded attachments ride on a trailing user turn as data URLs.
	if parts := buildOpenAIAttachmentParts(req.Attachments); len(parts) > 0 {
		messages = append(messages, openai.UserMessage(parts))
	}

	return messages, nil
}

func buildOpenAIAssistantMessage(msg *Message) (openai.ChatCompletionMessageParamUnion, error) {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content.OfString = openai.String(msg.Content)
	}

	for idx, call := range msg.ToolCalls {
		if call == nil {
			continue
		}
		function, ok := call["function"].(map[string]interface{})
		if !ok || function == nil {
			return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("tool call %d is missing function details", idx)
		}
		name, _ := function["name"].(string)
		if strings.TrimSpace(name) == "" {
			return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("tool call %d is missing a function name", idx)
		}
		callID, _ := call["id"].(string)
		if strings.TrimSpace(callID) == "" {
			callID = fmt.Sprintf("tool_call_%d", idx)
		}

		arguments := "{}"
		switch raw := function["arguments"].(type) {
		case string:
			if raw != "" {
				arguments = raw
			}
		default:
			if raw != nil {
				if data, err := json.Marshal(raw); err == nil {
					arguments = string(data)
				}
			}
		}

		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: callID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      name,
				Arguments: arguments,
			},
		})
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, nil
}

func buildOpenAIAttachmentParts(attachments []*Attachment) []openai.ChatCompletionContentPartUnionParam {
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, att := range attachments {
		if att == nil || !strings.HasPrefix(att.MimeType, "image/") {
			continue
		}
		url := att.URL
		if len(att.Data) > 0 {
			url = dataURL(att.MimeType, att.Data)
		}
		if url == "" {
			continue
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: url,
		}))
	}
	return parts
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func convertOpenAITools(tools []ToolSpec) []openai.ChatCompletionToolParam {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, spec := range tools {
		if strings.TrimSpace(spec.Name) == "" {
			continue
		}
		fn := shared.FunctionDefinitionParam{Name: spec.Name}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		if spec.Parameters != nil {
			fn.Parameters = shared.FunctionParameters(spec.Parameters)
		}
		result = append(result, openai.ChatCompletionToolParam{Function: fn})
	}
	return result
}

// chatToolAccumulator assembles streamed tool calls. Each delta carries an
// index; the ID and name arrive on the first delta for that index and the
// argument JSON accumulates across the rest.
type chatToolAccumulator struct {
	order []int64
	calls map[int64]*pendingChatTool
}

type pendingChatTool struct {
	id   string
	name string
	args strings.Builder
}

func newChatToolAccumulator() *chatToolAccumulator {
	return &chatToolAccumulator{calls: make(map[int64]*pendingChatTool)}
}

func (a *chatToolAccumulator) add(index int64, id, name, arguments string) {
	pending, ok := a.calls[index]
	if !ok {
		pending = &pendingChatTool{}
		a.calls[index] = pending
		a.order = append(a.order, index)
	}
	if id != "" {
		pending.id = id
	}
	if name != "" {
		pending.name = name
	}
	if arguments != "" {
		pending.args.WriteString(arguments)
	}
}

func (a *chatToolAccumulator) drain() []*ToolCallEvent {
	events := make([]*ToolCallEvent, 0, len(a.order))
	for _, index := range a.order {
		pending := a.calls[index]
		if pending == nil || pending.name == "" {
			continue
		}
		args := map[string]interface{}{}
		if raw := pending.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]interface{}{"_raw": raw}
			}
		}
		callID := pending.id
		if callID == "" {
			callID = fmt.Sprintf("tool_call_%d", index)
		}
		events = append(events, &ToolCallEvent{CallID: callID, Name: pending.name, Args: args})
	}
	a.order = nil
	a.calls = make(map[int64]*pendingChatTool)
	return events
}
