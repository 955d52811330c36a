package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatloop/agent"
	"chatloop/message"
	"chatloop/model"
)

// fakeSink backs builder tests with a single tracked message.
type fakeSink struct {
	mu       sync.Mutex
	msg      message.Message
	enqueued []Builder
}

func newFakeSink(msg message.Message) *fakeSink {
	return &fakeSink{msg: msg}
}

func (s *fakeSink) UpdateProcessingMessage(id string, by func(message.Message) message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msg.ID == id {
		s.msg = by(s.msg)
	}
}

func (s *fakeSink) ProcessingMessage(id string) (message.WithMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msg.ID != id {
		return message.WithMetadata{}, false
	}
	return message.WithMetadata{Msg: s.msg, Status: message.StatusBuilding, Stage: message.StageProcessing}, true
}

func (s *fakeSink) EnqueueTurn(b Builder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, b)
}

func (s *fakeSink) current() message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msg
}

func (s *fakeSink) enqueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enqueued)
}

func testAgent(t *testing.T, m *model.MockModel) *agent.Agent {
	t.Helper()
	a, err := agent.New("tester", m)
	require.NoError(t, err)
	return a
}

func toolCallScript(name string) model.Script {
	return model.Script{Deltas: []model.Delta{
		{ToolCall: &model.ToolCallDelta{Index: 0, CallID: "call_1", Name: name}},
		{ToolCall: &model.ToolCallDelta{Index: 0, ArgumentFragment: "{}"}},
		{ToolCall: &model.ToolCallDelta{Index: 0, Complete: true}},
	}}
}

func TestBuild_StreamsTextAndCollapses(t *testing.T) {
	m := model.NewMockModel(model.Script{Deltas: []model.Delta{{Text: "Hel"}, {Text: "lo"}}})
	a := testAgent(t, m)

	b := NewAssistantTurnBuilder(a, nil, defaultMaxRound)
	msg := b.Create("chat-1")
	sink := newFakeSink(msg)

	require.NoError(t, b.Build(context.Background(), msg.ID, sink))

	got := sink.current()
	assert.True(t, got.IsText())
	assert.Equal(t, "Hello", got.Text)
}

func TestBuild_ToolCallExecutesAndChains(t *testing.T) {
	m := model.NewMockModel(toolCallScript("get_current_time"))
	a := testAgent(t, m)

	b := NewAssistantTurnBuilder(a, nil, defaultMaxRound)
	msg := b.Create("chat-1")
	sink := newFakeSink(msg)

	require.NoError(t, b.Build(context.Background(), msg.ID, sink))

	got := sink.current()
	tc := got.Extra.ToolCall
	require.NotNil(t, tc)
	assert.Equal(t, "get_current_time", tc.ToolName)
	assert.Equal(t, "call_1", tc.ToolCallID)
	assert.Equal(t, message.ToolCallSuccess, tc.ResultStatus)
	result, ok := tc.Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result, "timestamp")
	assert.Contains(t, result, "utc_format")

	assert.Equal(t, 1, sink.enqueuedCount())
}

func TestBuild_RoundBudgetZeroStopsChaining(t *testing.T) {
	m := model.NewMockModel(toolCallScript("get_current_time"))
	a := testAgent(t, m)

	b := NewAssistantTurnBuilder(a, nil, 0)
	msg := b.Create("chat-1")
	sink := newFakeSink(msg)

	require.NoError(t, b.Build(context.Background(), msg.ID, sink))

	got := sink.current()
	require.NotNil(t, got.Extra.ToolCall)
	assert.Equal(t, message.ToolCallSuccess, got.Extra.ToolCall.ResultStatus)
	assert.Equal(t, 0, sink.enqueuedCount())
}

func TestBuild_UnknownToolWritesFailedRecord(t *testing.T) {
	m := model.NewMockModel(toolCallScript("bogus_tool"))
	a := testAgent(t, m)

	b := NewAssistantTurnBuilder(a, nil, defaultMaxRound)
	msg := b.Create("chat-1")
	sink := newFakeSink(msg)

	require.NoError(t, b.Build(context.Background(), msg.ID, sink))

	got := sink.current()
	tc := got.Extra.ToolCall
	require.NotNil(t, tc)
	assert.Equal(t, message.ToolCallFailed, tc.ResultStatus)
	result, ok := tc.Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result["error"], "bogus_tool")

	// An unresolvable tool never starts a follow-up turn.
	assert.Equal(t, 0, sink.enqueuedCount())
}

func TestBuild_StreamErrorPropagates(t *testing.T) {
	wantErr := errors.New("connection dropped")
	m := model.NewMockModel(model.Script{Deltas: []model.Delta{{Text: "par"}}, Err: wantErr})
	a := testAgent(t, m)

	b := NewAssistantTurnBuilder(a, nil, defaultMaxRound)
	msg := b.Create("chat-1")
	sink := newFakeSink(msg)

	err := b.Build(context.Background(), msg.ID, sink)
	require.ErrorIs(t, err, wantErr)

	// The message is left uncollapsed; the controller replaces it.
	assert.True(t, sink.current().IsStreamText())
}

func TestBuild_ArgumentFragmentsConcatenate(t *testing.T) {
	m := model.NewMockModel(model.Script{Deltas: []model.Delta{
		{ToolCall: &model.ToolCallDelta{Index: 0, CallID: "call_7", Name: "get_current_time"}},
		{ToolCall: &model.ToolCallDelta{Index: 0, ArgumentFragment: "{"}},
		{ToolCall: &model.ToolCallDelta{Index: 0, ArgumentFragment: "}"}},
		{ToolCall: &model.ToolCallDelta{Index: 0, Complete: true}},
	}})
	a := testAgent(t, m)

	b := NewAssistantTurnBuilder(a, nil, 0)
	msg := b.Create("chat-1")
	sink := newFakeSink(msg)

	require.NoError(t, b.Build(context.Background(), msg.ID, sink))

	tc := sink.current().Extra.ToolCall
	require.NotNil(t, tc)
	assert.Equal(t, "{}", tc.Parameter)
	assert.Equal(t, message.ToolCallSuccess, tc.ResultStatus)
}

func TestProjectHistory(t *testing.T) {
	settled := message.NewText("chat-1", message.RoleAssistant, "Checked the time.")
	settled = settled.WithToolCall(message.ToolCall{
		ToolCallID:   "call_9",
		ToolName:     "get_current_time",
		Parameter:    "{}",
		Result:       map[string]any{"timestamp": 1},
		ResultStatus: message.ToolCallSuccess,
	})

	history := []message.Message{
		message.NewText("chat-1", message.RoleUser, "hi"),
		message.NewText("chat-1", message.RoleAssistant, "hello"),
		settled,
		message.NewError("chat-1", message.RoleAssistant, "stream fault"),
		message.NewText("chat-1", message.RoleUser, "and now?"),
	}

	turns := projectHistory(history)
	require.Len(t, turns, 5)

	assert.Equal(t, message.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Text)
	assert.Equal(t, "hello", turns[1].Text)

	require.NotNil(t, turns[2].ToolCall)
	assert.Equal(t, "call_9", turns[2].ToolCall.CallID)
	assert.Equal(t, "Checked the time.", turns[2].Text)

	assert.Equal(t, "Error: stream fault", turns[3].Text)
	assert.Nil(t, turns[3].ToolCall)

	assert.Equal(t, "and now?", turns[4].Text)
}

func TestProjectHistory_PendingToolCallOmitted(t *testing.T) {
	pending := message.NewStreamText("chat-1", message.RoleAssistant)
	pending = pending.WithToolCall(message.ToolCall{ToolName: "get_current_time", Parameter: "{"})

	turns := projectHistory([]message.Message{pending})
	assert.Empty(t, turns)
}
