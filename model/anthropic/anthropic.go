// Package anthropic implements model.Model on top of the Anthropic Messages
// API. Streaming content block events are converted into model.Delta events:
// text deltas flow through directly, tool use blocks become incremental tool
// call fragments with a completion event when the block closes.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"chatloop/message"
	"chatloop/model"
	"chatloop/tool"
)

// Options configure the Anthropic adapter. Generation parameters from the
// request override these defaults when set.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind model.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// New creates an adapter using the official client.
func New(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewFromClient creates an adapter from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
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
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	opts := m.opts
	if req.Params.Model != "" {
		opts.Model = anthropic.Model(req.Params.Model)
	}
	if req.Params.Temperature != 0 {
		opts.Temperature = req.Params.Temperature
	}
	if req.Params.MaxTokens != 0 {
		opts.MaxTokens = req.Params.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       opts.Model,
		Messages:    buildMessages(req.Turns),
		MaxTokens:   opts.MaxTokens,
		Temperature: anthropic.Float(opts.Temperature),
	}

	for _, prompt := range req.SystemPrompts {
		if prompt == "" {
			continue
		}
		params.System = append(params.System, anthropic.TextBlockParam{Text: prompt})
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	return params
}

// buildMessages converts projected turns to the Anthropic message format.
// Assistant tool call turns expand into a tool_use block followed by a user
// message carrying the matching tool_result block.
func buildMessages(turns []model.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, t := range turns {
		switch t.Role {
		case message.RoleAssistant:
			if t.ToolCall == nil {
				if t.Text != "" {
					messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
				}
				continue
			}

			var input any
			if t.ToolCall.Arguments != "" {
				if err := json.Unmarshal([]byte(t.ToolCall.Arguments), &input); err != nil {
					input = t.ToolCall.Arguments
				}
			}
			content := []anthropic.ContentBlockParamUnion{
				anthropic.NewToolUseBlock(t.ToolCall.CallID, input, t.ToolCall.Name),
			}
			if t.Text != "" {
				content = append([]anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(t.Text)}, content...)
			}
			messages = append(messages, anthropic.NewAssistantMessage(content...))
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(t.ToolCall.CallID, resultText(t.ToolCall.Result), false),
			))
		default:
			if t.Text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
			}
		}
	}

	return messages
}

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

// buildTools converts tool declarations to the Anthropic tool format.
func buildTools(tools []tool.Definition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tdef.Parameters != nil {
			if properties, exists := tdef.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tdef.Parameters["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
	}

	return anthropicTools
}

// handleStreaming converts content block events into deltas. A tool_use
// block start announces the id and name, input_json deltas carry argument
// fragments, and the block stop emits the completion event.
func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Delta,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)

	// Maps content block index to tool call index for blocks that are tool use.
	toolIndex := map[int64]int{}
	nextTool := 0

	for stream.Next() {
		event := stream.Current()

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := eventVariant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				idx := nextTool
				nextTool++
				toolIndex[eventVariant.Index] = idx
				out <- model.Delta{ToolCall: &model.ToolCallDelta{
					Index:  idx,
					CallID: block.ID,
					Name:   block.Name,
				}}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text != "" {
					out <- model.Delta{Text: deltaVariant.Text}
				}
			case anthropic.InputJSONDelta:
				if idx, ok := toolIndex[eventVariant.Index]; ok && deltaVariant.PartialJSON != "" {
					out <- model.Delta{ToolCall: &model.ToolCallDelta{
						Index:            idx,
						ArgumentFragment: deltaVariant.PartialJSON,
					}}
				}
			}
		case anthropic.ContentBlockStopEvent:
			if idx, ok := toolIndex[eventVariant.Index]; ok {
				out <- model.Delta{ToolCall: &model.ToolCallDelta{
					Index:    idx,
					Complete: true,
				}}
				delete(toolIndex, eventVariant.Index)
			}
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
	}
}
