package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapse_JoinsBuffer(t *testing.T) {
	m := NewStreamText("chat-1", RoleAssistant)
	m = m.AppendFragment("Hel")
	m = m.AppendFragment("lo")

	collapsed := m.Collapse()
	assert.Equal(t, TypeText, collapsed.Type)
	assert.Equal(t, "Hello", collapsed.Text)
	assert.Nil(t, collapsed.Buffer)

	// Collapsing again must not change the message.
	assert.Equal(t, collapsed, collapsed.Collapse())
}

func TestAppendFragment_DoesNotMutateOriginal(t *testing.T) {
	m := NewStreamText("chat-1", RoleAssistant)
	m1 := m.AppendFragment("a")
	m2 := m1.AppendFragment("b")

	assert.Empty(t, m.Buffer)
	assert.Equal(t, []string{"a"}, m1.Buffer)
	assert.Equal(t, []string{"a", "b"}, m2.Buffer)
}

func TestAppendFragment_IgnoredAfterCollapse(t *testing.T) {
	m := NewStreamText("chat-1", RoleAssistant).AppendFragment("hi").Collapse()
	assert.Equal(t, m, m.AppendFragment("more"))
}

func TestTextContent(t *testing.T) {
	assert.Equal(t, "plain", NewText("c", RoleUser, "plain").TextContent())
	assert.Equal(t, "ab", NewStreamText("c", RoleAssistant).AppendFragment("a").AppendFragment("b").TextContent())
	assert.Equal(t, "boom", NewError("c", RoleAssistant, "boom").TextContent())
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, NewText("c", RoleUser, "").IsEmpty())
	assert.False(t, NewText("c", RoleUser, "x").IsEmpty())
	assert.True(t, NewStreamText("c", RoleAssistant).IsEmpty())
	assert.True(t, NewError("c", RoleAssistant, "").IsEmpty())

	// A tool call attachment makes an otherwise empty message non-empty.
	withCall := NewStreamText("c", RoleAssistant).WithToolCall(ToolCall{ToolName: "get_current_time"})
	assert.False(t, withCall.IsEmpty())
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestDeriveSearchTerm(t *testing.T) {
	m := NewText("c", RoleUser, "Hello World")
	assert.Equal(t, "hello world", DeriveSearchTerm(m))
}
