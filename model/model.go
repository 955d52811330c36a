package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chatloop/message"
	"chatloop/tool"
)

// Turn is one entry in the projected conversation history sent to the
// provider. Assistant turns that invoked a tool carry a ToolCall describing
// both the invocation and its result, which adapters expand into the
// provider-specific paired messages.
type Turn struct {
	Role     message.Role
	Text     string
	ToolCall *ToolCallTurn
}

// ToolCallTurn records a completed tool invocation inside an assistant turn.
type ToolCallTurn struct {
	CallID    string
	Name      string
	Arguments string
	Result    any
}

// Params carries the generation parameters resolved from the agent
// configuration.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Request is the normalized input to a single streaming generation.
type Request struct {
	SystemPrompts []string
	Turns         []Turn
	Tools         []tool.Definition
	Params        Params
}

// ToolCallDelta is an incremental fragment of a tool invocation emitted by
// the provider. Fragments for the same invocation share an Index; CallID and
// Name arrive on the first fragment, argument JSON accumulates across
// ArgumentFragment values, and Complete marks the fragment after which the
// accumulated arguments form a full JSON document.
type ToolCallDelta struct {
	Index            int
	CallID           string
	Name             string
	ArgumentFragment string
	Complete         bool
}

// Delta is a single streaming event. Exactly one of Text or ToolCall is set.
type Delta struct {
	Text     string
	ToolCall *ToolCallDelta
}

// Info describes a model adapter.
type Info struct {
	Name          string
	Provider      string
	SupportsTools bool
}

// Model is a streaming language model. Stream returns a delta channel and an
// error channel; the delta channel closes when the generation ends, and at
// most one error is sent before both channels close.
type Model interface {
	Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error)
	Info() Info
}

// Script is one canned generation for the MockModel: the deltas to emit in
// order, followed by an optional terminal error.
type Script struct {
	Deltas []Delta
	Err    error
}

// MockModel is a Model for tests. Scripted generations are consumed in FIFO
// order; once exhausted it echoes the last user turn as character-level text
// deltas. Every request is recorded for inspection.
type MockModel struct {
	mu       sync.Mutex
	scripts  []Script
	requests []Request
}

// NewMockModel returns a MockModel preloaded with the given scripts.
func NewMockModel(scripts ...Script) *MockModel {
	return &MockModel{scripts: scripts}
}

// Enqueue appends another scripted generation.
func (m *MockModel) Enqueue(s Script) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, s)
}

// Requests returns a copy of all requests seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Stream implements Model.
func (m *MockModel) Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltaCh := make(chan Delta)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var script Script
	scripted := len(m.scripts) > 0
	if scripted {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	}
	m.mu.Unlock()

	if !scripted {
		script.Deltas = echoDeltas(req)
	}

	go func() {
		defer close(deltaCh)
		defer close(errCh)
		for _, d := range script.Deltas {
			select {
			case deltaCh <- d:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if script.Err != nil {
			errCh <- script.Err
		}
	}()

	return deltaCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info {
	return Info{Name: "mock", Provider: "mock", SupportsTools: true}
}

func echoDeltas(req Request) []Delta {
	lastUser := ""
	for _, t := range req.Turns {
		if t.Role == message.RoleUser {
			lastUser = t.Text
		}
	}
	text := fmt.Sprintf("Mock response to: %s", strings.TrimSpace(lastUser))
	deltas := make([]Delta, 0, len(text))
	for _, r := range text {
		deltas = append(deltas, Delta{Text: string(r)})
	}
	return deltas
}
