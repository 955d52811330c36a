// Package openai implements model.Model on top of the OpenAI Chat
// Completions API with streaming and function/tool calling. It adapts the
// normalized Request into the SDK's message format and converts streamed
// chunks back into model.Delta events.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openai/openai-go"

	"chatloop/message"
	"chatloop/model"
)

// aggCall tracks which streamed tool call indexes have announced their id and
// name, so completion events can be emitted per invocation when the finish
// reason arrives.
type aggCall struct {
	id   string
	name string
}

// Options configure the OpenAI adapter. Generation parameters from the
// request override these defaults when set.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind model.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

// New creates an adapter using the default client, which reads its API key
// from the environment.
func New(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an adapter from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req model.Request) (<-chan model.Delta, <-chan error) {
	out := make(chan model.Delta, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req)
		m.handleStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

// buildParams assembles the request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	opts := m.opts
	if req.Params.Model != "" {
		opts.Model = req.Params.Model
	}
	if req.Params.Temperature != 0 {
		opts.Temperature = req.Params.Temperature
	}
	if req.Params.MaxTokens != 0 {
		opts.MaxCompletionTokens = req.Params.MaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               opts.Model,
		Temperature:         openai.Float(opts.Temperature),
		MaxCompletionTokens: openai.Int(opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts system prompts and projected turns into chat
// messages, expanding tool call turns into the paired assistant tool call
// and tool response messages the API requires.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, prompt := range req.SystemPrompts {
		messages = append(messages, openai.SystemMessage(prompt))
	}
	for _, t := range req.Turns {
		switch t.Role {
		case message.RoleUser:
			messages = append(messages, openai.UserMessage(t.Text))
		case message.RoleAssistant:
			if t.ToolCall == nil {
				messages = append(messages, openai.AssistantMessage(t.Text))
				continue
			}
			messages = append(
				messages,
				openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role: "assistant",
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID:   t.ToolCall.CallID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      t.ToolCall.Name,
							Arguments: t.ToolCall.Arguments,
						},
					}},
				}},
			)
			messages = append(messages, openai.ToolMessage(resultText(t.ToolCall.Result), t.ToolCall.CallID))
		default:
			if t.Text != "" {
				messages = append(messages, openai.UserMessage(t.Text))
			}
		}
	}
	return messages
}

// resultText renders a tool result for the tool response message.
func resultText(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

// handleStreaming forwards streamed chunks as deltas. Tool call argument
// fragments flow through as they arrive; the finish reason closes out every
// open invocation with a completion event in index order.
func (m *Model) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Delta,
	errCh chan<- error,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	toolAgg := map[int64]*aggCall{}
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				out <- model.Delta{Text: ch.Delta.Content}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				out <- model.Delta{ToolCall: &model.ToolCallDelta{
					Index:            int(tc.Index),
					CallID:           ac.id,
					Name:             ac.name,
					ArgumentFragment: tc.Function.Arguments,
				}}
			}
			if ch.FinishReason != "" {
				emitCompletions(toolAgg, out)
				toolAgg = map[int64]*aggCall{}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
	}
}

func emitCompletions(toolAgg map[int64]*aggCall, out chan<- model.Delta) {
	indexes := make([]int64, 0, len(toolAgg))
	for idx := range toolAgg {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for _, idx := range indexes {
		ac := toolAgg[idx]
		out <- model.Delta{ToolCall: &model.ToolCallDelta{
			Index:    int(idx),
			CallID:   ac.id,
			Name:     ac.name,
			Complete: true,
		}}
	}
}
