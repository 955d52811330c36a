package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatloop/agent"
	"chatloop/asynclock"
	"chatloop/logging"
	"chatloop/message"
	"chatloop/store"
)

// DefaultPageSize is the history page size used by Init and LoadMore.
const DefaultPageSize = 32

const truncatedSummaryLen = 100

// MessageStorage persists chat messages. GetByChatID returns pages ordered
// newest first.
type MessageStorage interface {
	Insert(ctx context.Context, msgs []message.Message) error
	GetByChatID(ctx context.Context, chatID string, offset, limit int) ([]message.Message, error)
	CountByChatID(ctx context.Context, chatID string) (int, error)
}

// Summary is the denormalized last-message preview stored on the parent
// chat record.
type Summary struct {
	LastRole message.Role
	LastText string
}

// SummaryUpdater writes the chat list preview alongside a flush.
type SummaryUpdater interface {
	UpdateSummary(ctx context.Context, chatID string, s Summary) error
}

// Stores exposes the three staged stores for read and subscribe access.
// History is ordered newest first; processing and just finished hold entries
// in insertion order.
type Stores struct {
	Processing   *store.Store[[]message.WithMetadata]
	JustFinished *store.Store[[]message.WithMetadata]
	History      *store.Store[[]message.WithMetadata]
}

// ControllerOptions configure a Controller.
type ControllerOptions struct {
	PageSize    int
	TurnTimeout time.Duration
	Logger      logging.Logger
}

// Controller orchestrates the message lifecycle for a single chat. It owns
// the staged stores, runs turns off a serial queue, and performs the
// finished-to-history flush under a mutual exclusion lock.
type Controller struct {
	chatID   string
	agent    *agent.Agent
	messages MessageStorage
	chats    SummaryUpdater
	logger   logging.Logger

	stages    Stores
	flushLock *asynclock.Lock

	pageSize    int
	turnTimeout time.Duration

	mu    sync.Mutex
	total int

	turns  chan Builder
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	unsubProcessing   func()
	unsubJustFinished func()
}

// NewController creates a controller for one chat. Call Init before use and
// Release when done.
func NewController(
	chatID string,
	a *agent.Agent,
	messages MessageStorage,
	chats SummaryUpdater,
	optFns ...func(o *ControllerOptions),
) *Controller {
	opts := ControllerOptions{
		PageSize:    DefaultPageSize,
		TurnTimeout: 5 * time.Minute,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	emptyStage := func() []message.WithMetadata { return nil }

	return &Controller{
		chatID:   chatID,
		agent:    a,
		messages: messages,
		chats:    chats,
		logger:   opts.Logger,
		stages: Stores{
			Processing:   store.NewMemory(emptyStage),
			JustFinished: store.NewMemory(emptyStage),
			History:      store.NewMemory(emptyStage),
		},
		flushLock:   asynclock.New(1, asynclock.PolicyLatest),
		pageSize:    opts.PageSize,
		turnTimeout: opts.TurnTimeout,
		turns:       make(chan Builder, 16),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ChatID returns the chat this controller drives.
func (c *Controller) ChatID() string { return c.chatID }

// Agent returns the controller's conversation configuration.
func (c *Controller) Agent() *agent.Agent { return c.agent }

// Stores returns the staged stores.
func (c *Controller) Stores() Stores { return c.stages }

// Init loads the initial history page and total count, subscribes the stage
// transition handlers, and starts the turn worker. The initial page covers
// at least the agent's lookup depth.
func (c *Controller) Init(ctx context.Context) error {
	limit := c.pageSize
	if d := c.agent.MaxLookupHistory(); d > limit {
		limit = d
	}

	msgs, err := c.messages.GetByChatID(ctx, c.chatID, 0, limit)
	if err != nil {
		return err
	}
	total, err := c.messages.CountByChatID(ctx, c.chatID)
	if err != nil {
		return err
	}

	entries := make([]message.WithMetadata, len(msgs))
	for i, m := range msgs {
		entries[i] = message.WithMetadata{
			Msg:    m,
			Status: message.StatusFinished,
			Stage:  message.StageHistory,
		}
	}
	c.stages.History.Set(entries)

	c.mu.Lock()
	c.total = total
	c.mu.Unlock()

	c.unsubProcessing = c.stages.Processing.Subscribe(c.onProcessingChange)
	c.unsubJustFinished = c.stages.JustFinished.Subscribe(c.onJustFinishedChange)

	c.wg.Add(1)
	go c.runTurns()
	return nil
}

// Release unsubscribes the transition handlers, stops the turn worker and
// joins any in-flight flush. No transitions happen after Release returns.
func (c *Controller) Release() {
	if c.unsubProcessing != nil {
		c.unsubProcessing()
	}
	if c.unsubJustFinished != nil {
		c.unsubJustFinished()
	}
	c.cancel()
	close(c.turns)
	c.wg.Wait()
}

// AppendUserMessage inserts the user's message as finished and queues the
// assistant turn it triggers. The turn is seeded with the lookup window:
// the most recent history entries, oldest first, plus the new message.
func (c *Controller) AppendUserMessage(msg message.Message) {
	// Window snapshot precedes the insert so a fast flush cannot land this
	// message in history before the window is taken.
	window := c.lookupWindow()
	window = append(window, msg)

	c.stages.Processing.Update(func(old []message.WithMetadata) []message.WithMetadata {
		return append(copyEntries(old), message.WithMetadata{
			Msg:    msg,
			Status: message.StatusFinished,
			Stage:  message.StageProcessing,
		})
	})
	c.EnqueueTurn(NewAssistantTurnBuilder(c.agent, window, defaultMaxRound))
}

// lookupWindow projects the newest maxLookupHistory history messages into
// oldest-first order.
func (c *Controller) lookupWindow() []message.Message {
	entries := c.stages.History.GetValue()
	depth := c.agent.MaxLookupHistory()
	if depth > len(entries) {
		depth = len(entries)
	}
	window := make([]message.Message, 0, depth)
	for i := depth - 1; i >= 0; i-- {
		window = append(window, entries[i].Msg)
	}
	return window
}

// EnqueueTurn hands a builder to the serial turn queue. Turns dropped after
// Release are logged and discarded.
func (c *Controller) EnqueueTurn(b Builder) {
	select {
	case c.turns <- b:
	case <-c.ctx.Done():
		c.logger.Warn("chat.turn.dropped", "chat_id", c.chatID)
	}
}

func (c *Controller) runTurns() {
	defer c.wg.Done()
	for b := range c.turns {
		if c.ctx.Err() != nil {
			return
		}
		c.applyMessageBuilder(b)
	}
}

// applyMessageBuilder inserts the builder's message shell as building, runs
// the builder, and marks the entry finished. A builder failure replaces the
// entry with a terminal error message so nothing stays stuck in building.
func (c *Controller) applyMessageBuilder(b Builder) {
	msg := b.Create(c.chatID)
	c.stages.Processing.Update(func(old []message.WithMetadata) []message.WithMetadata {
		return append(copyEntries(old), message.WithMetadata{
			Msg:    msg,
			Status: message.StatusBuilding,
			Stage:  message.StageProcessing,
		})
	})

	ctx, cancel := context.WithTimeout(c.ctx, c.turnTimeout)
	defer cancel()

	err := b.Build(ctx, msg.ID, c)
	if err != nil {
		c.logger.Error("chat.turn.failed", "chat_id", c.chatID, "message_id", msg.ID, "error", err)
	}

	c.stages.Processing.Update(func(old []message.WithMetadata) []message.WithMetadata {
		updated := copyEntries(old)
		for i := range updated {
			if updated[i].Msg.ID != msg.ID {
				continue
			}
			if err != nil {
				failed := message.NewError(c.chatID, message.RoleAssistant, err.Error())
				failed.ID = msg.ID
				failed.Time = msg.Time
				updated[i].Msg = failed
			}
			updated[i].Status = message.StatusFinished
		}
		return updated
	})
}

// UpdateProcessingMessage replaces the identified processing entry's message
// through a pure mutator. Entries with other ids are untouched.
func (c *Controller) UpdateProcessingMessage(id string, by func(message.Message) message.Message) {
	c.stages.Processing.Update(func(old []message.WithMetadata) []message.WithMetadata {
		updated := copyEntries(old)
		for i := range updated {
			if updated[i].Msg.ID == id {
				updated[i].Msg = by(updated[i].Msg)
			}
		}
		return updated
	})
}

// ProcessingMessage returns the processing entry with the given id.
func (c *Controller) ProcessingMessage(id string) (message.WithMetadata, bool) {
	for _, entry := range c.stages.Processing.GetValue() {
		if entry.Msg.ID == id {
			return entry, true
		}
	}
	return message.WithMetadata{}, false
}

// onProcessingChange partitions processing entries by status on every
// update: finished entries move to just finished in insertion order, the
// rest stay. Runs synchronously inside the store's notification.
func (c *Controller) onProcessingChange(entries, _ []message.WithMetadata) {
	anyFinished := false
	for _, entry := range entries {
		if entry.Status == message.StatusFinished {
			anyFinished = true
			break
		}
	}
	if !anyFinished {
		return
	}

	// The removal reads the live value inside the update, not the
	// notification snapshot: a concurrent update may already have moved
	// some of these entries, and a move must happen exactly once.
	var moved []message.WithMetadata
	c.stages.Processing.Update(func(old []message.WithMetadata) []message.WithMetadata {
		moved = nil
		rest := make([]message.WithMetadata, 0, len(old))
		for _, entry := range old {
			if entry.Status == message.StatusFinished {
				entry.Stage = message.StageJustFinished
				moved = append(moved, entry)
			} else {
				rest = append(rest, entry)
			}
		}
		return rest
	})
	if len(moved) == 0 {
		return
	}
	c.stages.JustFinished.Update(func(old []message.WithMetadata) []message.WithMetadata {
		return append(copyEntries(old), moved...)
	})
}

// onJustFinishedChange schedules a flush whenever the just finished batch is
// non-empty. The lock admits one flush at a time and keeps only the newest
// pending request; a rejected request's data is carried by the survivor.
func (c *Controller) onJustFinishedChange(entries, _ []message.WithMetadata) {
	if len(entries) == 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.flushLock.Do(c.ctx, c.flushJustFinished)
		if err != nil && !errors.Is(err, asynclock.ErrQueueLimit) && !errors.Is(err, context.Canceled) {
			c.logger.Error("chat.flush.failed", "chat_id", c.chatID, "error", err)
		}
	}()
}

// flushJustFinished durably writes the current just finished batch. Empty
// messages are dropped before persisting and never reach history. The batch
// stays queued on failure so the next flush retries it; on success it is
// prepended to history (newest first) and the total advances by the number
// of persisted messages.
func (c *Controller) flushJustFinished() error {
	batch := c.stages.JustFinished.GetValue()
	if len(batch) == 0 {
		return nil
	}

	var kept []message.WithMetadata
	for _, entry := range batch {
		if entry.Msg.IsEmpty() {
			continue
		}
		entry.Msg.SearchTerm = message.DeriveSearchTerm(entry.Msg)
		entry.Stage = message.StageHistory
		kept = append(kept, entry)
	}

	if len(kept) > 0 {
		msgs := make([]message.Message, len(kept))
		for i, entry := range kept {
			msgs[i] = entry.Msg
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 30*time.Second)
		defer cancel()

		if err := c.messages.Insert(ctx, msgs); err != nil {
			return err
		}

		last := kept[len(kept)-1].Msg
		if err := c.chats.UpdateSummary(ctx, c.chatID, Summary{
			LastRole: last.Role,
			LastText: truncate(last.TextContent(), truncatedSummaryLen),
		}); err != nil {
			c.logger.Warn("chat.summary.failed", "chat_id", c.chatID, "error", err)
		}

		c.stages.History.Update(func(old []message.WithMetadata) []message.WithMetadata {
			updated := make([]message.WithMetadata, 0, len(kept)+len(old))
			for i := len(kept) - 1; i >= 0; i-- {
				updated = append(updated, kept[i])
			}
			return append(updated, old...)
		})

		c.mu.Lock()
		c.total += len(kept)
		c.mu.Unlock()
	}

	// Entries appended while the write was in flight survive the clear; the
	// resulting update schedules their flush.
	flushed := len(batch)
	c.stages.JustFinished.Update(func(old []message.WithMetadata) []message.WithMetadata {
		if len(old) <= flushed {
			return nil
		}
		return copyEntries(old[flushed:])
	})
	return nil
}

// LoadMore fetches the next page of older messages and appends them to
// history.
func (c *Controller) LoadMore(ctx context.Context) error {
	offset := len(c.stages.History.GetValue())
	msgs, err := c.messages.GetByChatID(ctx, c.chatID, offset, c.pageSize)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	c.stages.History.Update(func(old []message.WithMetadata) []message.WithMetadata {
		updated := copyEntries(old)
		for _, m := range msgs {
			updated = append(updated, message.WithMetadata{
				Msg:    m,
				Status: message.StatusFinished,
				Stage:  message.StageHistory,
			})
		}
		return updated
	})
	return nil
}

// HasMore reports whether older messages remain beyond the loaded history.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	total := c.total
	c.mu.Unlock()
	return total > len(c.stages.History.GetValue())
}

// Total returns the running count of durably recorded messages.
func (c *Controller) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func copyEntries(entries []message.WithMetadata) []message.WithMetadata {
	out := make([]message.WithMetadata, len(entries))
	copy(out, entries)
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
