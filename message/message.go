// Package message defines the chat message data model shared by the lifecycle
// controller, the streaming turn builder and the storage layer. A Message is a
// tagged union of three content kinds (text, streaming text, error) carrying
// common identity fields plus an optional attached tool call record.
package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the conversational author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Type discriminates the content variant of a Message.
type Type string

const (
	// TypeText is a finished plain text message.
	TypeText Type = "text"
	// TypeStreamText is an in-flight message whose text arrives as an
	// append-only sequence of fragments. It collapses to TypeText when the
	// producing stream ends.
	TypeStreamText Type = "stream_text"
	// TypeError is a terminal message carrying a failure reason.
	TypeError Type = "error"
)

// ToolCallStatus reports the outcome of an attached tool call.
type ToolCallStatus string

const (
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallFailed  ToolCallStatus = "failed"
)

// ToolCall records one tool invocation attached to a message. It becomes
// visible as soon as the call's name is known and is filled in incrementally:
// first name and title, then the raw argument payload, finally the result.
type ToolCall struct {
	Title        string         `json:"title"`
	ToolID       string         `json:"tool_id"`
	ToolName     string         `json:"tool_name"`
	ToolCallID   string         `json:"tool_call_id"`
	Parameter    string         `json:"parameter"`
	Result       any            `json:"result,omitempty"`
	ResultStatus ToolCallStatus `json:"result_status,omitempty"`
}

// Extra holds optional attachments on a message.
type Extra struct {
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Message is a single chat message. The Type field selects which content
// field is meaningful: Text for TypeText, Buffer for TypeStreamText, Reason
// for TypeError. ID is immutable and unique within a chat; a message never
// reverts from TypeText back to TypeStreamText once collapsed.
type Message struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	ChatID     string    `json:"chat_id"`
	Role       Role      `json:"role"`
	SearchTerm string    `json:"search_term"`
	Type       Type      `json:"type"`

	Text   string   `json:"text,omitempty"`
	Buffer []string `json:"buffer,omitempty"`
	Reason string   `json:"reason,omitempty"`

	Extra Extra `json:"extra"`
}

// NewID generates a new unique message identifier.
func NewID() string { return uuid.NewString() }

// NewText builds a finished text message.
func NewText(chatID string, role Role, text string) Message {
	return Message{
		ID:     NewID(),
		Time:   time.Now(),
		ChatID: chatID,
		Role:   role,
		Type:   TypeText,
		Text:   text,
	}
}

// NewStreamText builds an empty streaming message ready to receive fragments.
func NewStreamText(chatID string, role Role) Message {
	return Message{
		ID:     NewID(),
		Time:   time.Now(),
		ChatID: chatID,
		Role:   role,
		Type:   TypeStreamText,
		Buffer: []string{},
	}
}

// NewError builds a terminal error message.
func NewError(chatID string, role Role, reason string) Message {
	return Message{
		ID:     NewID(),
		Time:   time.Now(),
		ChatID: chatID,
		Role:   role,
		Type:   TypeError,
		Reason: reason,
	}
}

// IsText reports whether the message is a finished text message.
func (m Message) IsText() bool { return m.Type == TypeText }

// IsStreamText reports whether the message is still streaming.
func (m Message) IsStreamText() bool { return m.Type == TypeStreamText }

// IsError reports whether the message is a terminal error.
func (m Message) IsError() bool { return m.Type == TypeError }

// AppendFragment returns a copy of the message with one more fragment in its
// buffer. It is a no-op for non-streaming messages.
func (m Message) AppendFragment(text string) Message {
	if m.Type != TypeStreamText {
		return m
	}
	buf := make([]string, 0, len(m.Buffer)+1)
	buf = append(buf, m.Buffer...)
	buf = append(buf, text)
	m.Buffer = buf
	return m
}

// Collapse converts a streaming message into a finished text message by
// joining its buffer. Messages of any other type pass through unchanged, so a
// collapsed message can never revert.
func (m Message) Collapse() Message {
	if m.Type != TypeStreamText {
		return m
	}
	m.Type = TypeText
	m.Text = strings.Join(m.Buffer, "")
	m.Buffer = nil
	return m
}

// WithToolCall returns a copy of the message carrying the given tool call.
func (m Message) WithToolCall(tc ToolCall) Message {
	m.Extra.ToolCall = &tc
	return m
}

// TextContent returns the display text of a message regardless of its type.
func (m Message) TextContent() string {
	switch m.Type {
	case TypeText:
		return m.Text
	case TypeStreamText:
		return strings.Join(m.Buffer, "")
	case TypeError:
		return m.Reason
	default:
		return ""
	}
}

// IsEmpty reports whether a message carries no content at all. A message with
// an attached tool call is never empty.
func (m Message) IsEmpty() bool {
	if m.Extra.ToolCall != nil {
		return false
	}
	switch m.Type {
	case TypeText:
		return m.Text == ""
	case TypeStreamText:
		return len(m.Buffer) == 0
	case TypeError:
		return m.Reason == ""
	default:
		return false
	}
}

// DeriveSearchTerm returns the lowercase text content used for search
// indexing at persist time.
func DeriveSearchTerm(m Message) string {
	return strings.ToLower(m.TextContent())
}
