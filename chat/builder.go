package chat

import (
	"context"
	"fmt"
	"sync"

	"chatloop/agent"
	"chatloop/message"
	"chatloop/model"
)

// defaultMaxRound bounds the chain of follow-up turns a single user message
// can trigger through tool calls.
const defaultMaxRound = 10

// TurnSink is the controller surface a Builder mutates messages through.
// All content updates flow through UpdateProcessingMessage so subscribers
// observe every incremental change.
type TurnSink interface {
	UpdateProcessingMessage(id string, by func(message.Message) message.Message)
	ProcessingMessage(id string) (message.WithMetadata, bool)
	EnqueueTurn(b Builder)
}

// Builder produces one message: Create makes the shell inserted into the
// processing stage, Build fills it in through the sink.
type Builder interface {
	Create(chatID string) message.Message
	Build(ctx context.Context, messageID string, sink TurnSink) error
}

// assistantTurnBuilder streams one assistant turn. It is transient: all
// state lives in its closure over the history window and the agent, and
// every mutation goes through the sink.
type assistantTurnBuilder struct {
	agent    *agent.Agent
	history  []message.Message
	maxRound int
}

// NewAssistantTurnBuilder creates a builder for the next assistant turn,
// seeded with the bounded prior-message window in oldest-first order.
func NewAssistantTurnBuilder(a *agent.Agent, history []message.Message, maxRound int) Builder {
	return &assistantTurnBuilder{agent: a, history: history, maxRound: maxRound}
}

// Create implements Builder.
func (b *assistantTurnBuilder) Create(chatID string) message.Message {
	return message.NewStreamText(chatID, message.RoleAssistant)
}

// pendingCall tracks the single tool call of the turn while its fragments
// stream in.
type pendingCall struct {
	started  bool
	index    int
	callID   string
	name     string
	args     string
	notFound bool
	ran      bool
}

// Build implements Builder. The stream is read to completion without
// pausing for tool execution; the tool runs concurrently and the build only
// settles once the tool has, so the message is still in processing when the
// follow-up turn is seeded from it.
func (b *assistantTurnBuilder) Build(ctx context.Context, messageID string, sink TurnSink) error {
	req := model.Request{
		SystemPrompts: b.agent.SystemPrompts(),
		Turns:         projectHistory(b.history),
		Tools:         b.agent.Tools().Declarations(),
		Params:        b.agent.ModelParams(),
	}

	deltas, errs := b.agent.Model().Stream(ctx, req)

	var call pendingCall
	var toolWG sync.WaitGroup
	for d := range deltas {
		if d.Text != "" {
			text := d.Text
			sink.UpdateProcessingMessage(messageID, func(m message.Message) message.Message {
				return m.AppendFragment(text)
			})
		}
		if d.ToolCall != nil {
			b.handleToolCallDelta(ctx, messageID, sink, &call, &toolWG, d.ToolCall)
		}
	}
	toolWG.Wait()

	if err := <-errs; err != nil {
		return err
	}

	sink.UpdateProcessingMessage(messageID, func(m message.Message) message.Message {
		return m.Collapse()
	})
	return nil
}

// handleToolCallDelta applies one tool call fragment. The first fragment
// carrying a name resolves the tool; an unknown name writes a terminal
// failed record and never consumes round budget. Argument fragments are
// concatenated as raw text since only the final concatenation is guaranteed
// to be valid JSON.
func (b *assistantTurnBuilder) handleToolCallDelta(
	ctx context.Context,
	messageID string,
	sink TurnSink,
	call *pendingCall,
	toolWG *sync.WaitGroup,
	d *model.ToolCallDelta,
) {
	if !call.started {
		call.started = true
		call.index = d.Index
	}
	// Only the turn's first tool call is tracked.
	if d.Index != call.index || call.notFound {
		return
	}

	if d.CallID != "" {
		call.callID = d.CallID
	}

	if call.name == "" && d.Name != "" {
		call.name = d.Name
		t, ok := b.agent.Tools().Get(call.name)
		if !ok {
			call.notFound = true
			name := call.name
			sink.UpdateProcessingMessage(messageID, func(m message.Message) message.Message {
				return m.WithToolCall(message.ToolCall{
					Title:        name,
					ToolName:     name,
					Parameter:    "{}",
					Result:       map[string]any{"error": fmt.Sprintf("tool %s not found", name)},
					ResultStatus: message.ToolCallFailed,
				})
			})
			return
		}
		title := t.Title()
		if title == "" {
			title = call.name
		}
		record := message.ToolCall{
			Title:      title,
			ToolID:     t.ID(),
			ToolName:   call.name,
			ToolCallID: call.callID,
			Parameter:  call.args,
		}
		sink.UpdateProcessingMessage(messageID, func(m message.Message) message.Message {
			return m.WithToolCall(record)
		})
	}

	if d.ArgumentFragment != "" {
		call.args += d.ArgumentFragment
		args := call.args
		callID := call.callID
		sink.UpdateProcessingMessage(messageID, func(m message.Message) message.Message {
			if m.Extra.ToolCall == nil {
				return m
			}
			tc := *m.Extra.ToolCall
			tc.Parameter = args
			tc.ToolCallID = callID
			return m.WithToolCall(tc)
		})
	}

	if d.Complete && !call.ran && call.name != "" {
		call.ran = true
		toolWG.Add(1)
		go func(name, args string) {
			defer toolWG.Done()
			b.runTool(ctx, messageID, sink, name, args)
		}(call.name, call.args)
	}
}

// runTool executes the settled tool call, attaches the result, and chains
// the next turn. It outlives the stream, so the turn context's cancellation
// is stripped and replaced with the tool timeout.
func (b *assistantTurnBuilder) runTool(ctx context.Context, messageID string, sink TurnSink, name, args string) {
	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.agent.ToolTimeout())
	defer cancel()

	result, err := b.agent.Tools().Run(toolCtx, name, args)

	sink.UpdateProcessingMessage(messageID, func(m message.Message) message.Message {
		if m.Extra.ToolCall == nil {
			return m
		}
		tc := *m.Extra.ToolCall
		if err != nil {
			tc.Result = map[string]any{"error": err.Error()}
			tc.ResultStatus = message.ToolCallFailed
		} else {
			tc.Result = result
			tc.ResultStatus = message.ToolCallSuccess
		}
		return m.WithToolCall(tc)
	})

	if b.maxRound <= 0 {
		return
	}
	current, ok := sink.ProcessingMessage(messageID)
	if !ok {
		return
	}

	next := append(append([]message.Message{}, b.history...), current.Msg)
	sink.EnqueueTurn(NewAssistantTurnBuilder(b.agent, next, b.maxRound-1))
}

// projectHistory converts the prior-message window into provider turns.
// Assistant messages contribute their finished text and, when a settled tool
// call is attached, the paired invocation and result. Error messages are
// replayed as assistant text so the model sees the conversation as rendered.
func projectHistory(history []message.Message) []model.Turn {
	var turns []model.Turn
	for _, msg := range history {
		switch {
		case msg.Role == message.RoleAssistant:
			text := ""
			if msg.IsText() {
				text = msg.Text
			}
			if msg.IsError() && msg.Reason != "" {
				text = fmt.Sprintf("Error: %s", msg.Reason)
			}
			tc := msg.Extra.ToolCall
			if tc != nil && tc.ResultStatus != "" {
				turns = append(turns, model.Turn{
					Role: message.RoleAssistant,
					Text: text,
					ToolCall: &model.ToolCallTurn{
						CallID:    tc.ToolCallID,
						Name:      tc.ToolName,
						Arguments: tc.Parameter,
						Result:    tc.Result,
					},
				})
				continue
			}
			if text != "" {
				turns = append(turns, model.Turn{Role: message.RoleAssistant, Text: text})
			}
		case msg.IsText() && msg.Text != "":
			turns = append(turns, model.Turn{Role: msg.Role, Text: msg.Text})
		}
	}
	return turns
}
