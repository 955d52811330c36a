package chatloop

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatloop/message"
	"chatloop/model"
)

func newTestLoop(t *testing.T, m *model.MockModel) *ChatLoop {
	t.Helper()
	loop, err := New("tester", m, func(o *Options) {
		o.DatabasePath = filepath.Join(t.TempDir(), "chatloop.db")
	})
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })
	return loop
}

func TestSend_RoundTrip(t *testing.T) {
	m := model.NewMockModel(model.Script{Deltas: []model.Delta{{Text: "Hello "}, {Text: "back"}}})
	loop := newTestLoop(t, m)
	ctx := context.Background()

	chatRecord, err := loop.NewChat(ctx)
	require.NoError(t, err)

	controller, err := loop.Send(ctx, chatRecord.ID, "hello there")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return controller.Total() == 2
	}, 3*time.Second, 10*time.Millisecond)

	// Rows are durably recorded.
	count, err := loop.Messages().CountByChatID(ctx, chatRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The chat preview reflects the assistant reply.
	got, err := loop.Chats().GetByID(ctx, chatRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, message.RoleAssistant, got.Extra.LastMessageRole)
	assert.Equal(t, "Hello back", got.Extra.LastMessageText)
}

func TestOpen_ReloadsHistoryAcrossControllers(t *testing.T) {
	m := model.NewMockModel(
		model.Script{Deltas: []model.Delta{{Text: "first reply"}}},
		model.Script{Deltas: []model.Delta{{Text: "second reply"}}},
	)
	loop := newTestLoop(t, m)
	ctx := context.Background()

	chatRecord, err := loop.NewChat(ctx)
	require.NoError(t, err)

	controller, err := loop.Send(ctx, chatRecord.ID, "hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return controller.Total() == 2
	}, 3*time.Second, 10*time.Millisecond)

	// Reopen the chat: history comes back from storage, and the next turn's
	// window includes the reloaded messages.
	loop.CloseChat(chatRecord.ID)
	reopened, err := loop.Send(ctx, chatRecord.ID, "again")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return reopened.Total() == 4
	}, 3*time.Second, 10*time.Millisecond)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	texts := make([]string, 0, len(reqs[1].Turns))
	for _, turn := range reqs[1].Turns {
		texts = append(texts, turn.Text)
	}
	assert.Contains(t, texts, "hi")
	assert.Contains(t, texts, "first reply")
	assert.Contains(t, texts, "again")
}

func TestOpen_CachesControllerPerChat(t *testing.T) {
	loop := newTestLoop(t, model.NewMockModel())
	ctx := context.Background()

	chatRecord, err := loop.NewChat(ctx)
	require.NoError(t, err)

	first, err := loop.Open(ctx, chatRecord.ID)
	require.NoError(t, err)
	second, err := loop.Open(ctx, chatRecord.ID)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
