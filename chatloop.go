// Package chatloop provides a high-level façade over the chat lifecycle
// controller and its collaborators (storage, agents, models, tools, logging)
// for driving streaming tool-augmented conversations. Most applications
// interact with this package by:
//  1. Creating a ChatLoop via New() (optionally overriding storage and logging)
//  2. Configuring an agent with a model and tools
//  3. Opening chats and sending user messages with Send, observing the
//     staged stores for streamed updates
//
// The façade delegates orchestration to chat.Controller while keeping setup
// ergonomics concise. Defaults use an on-disk SQLite database and a no-op
// logger; applications typically supply a structured logger.
package chatloop

import (
	"context"
	"fmt"
	"sync"

	"chatloop/agent"
	"chatloop/chat"
	"chatloop/logging"
	"chatloop/message"
	"chatloop/model"
	"chatloop/storage"
	"chatloop/tool"
)

// Options configure the ChatLoop instance.
type Options struct {
	// DatabasePath locates the SQLite database file.
	DatabasePath string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// AgentOptions are applied when constructing the agent.
	AgentOptions []func(o *agent.Options)
}

// ChatLoop is the high-level façade aggregating storage, the agent, and the
// per-chat controllers.
type ChatLoop struct {
	opts     Options
	db       *storage.DB
	messages *storage.MessageStore
	chats    *storage.ChatStore
	agent    *agent.Agent

	mu          sync.Mutex
	controllers map[string]*chat.Controller
}

// New creates a ChatLoop backed by SQLite, with the given agent name and
// model.
func New(agentName string, llm model.Model, optFns ...func(o *Options)) (*ChatLoop, error) {
	opts := Options{
		DatabasePath: "chatloop.db",
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := storage.Open(opts.DatabasePath)
	if err != nil {
		return nil, err
	}
	messages, err := storage.NewMessageStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	chats, err := storage.NewChatStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	agentOpts := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Logger = opts.Logger
	}}, opts.AgentOptions...)
	a, err := agent.New(agentName, llm, agentOpts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ChatLoop{
		opts:        opts,
		db:          db,
		messages:    messages,
		chats:       chats,
		agent:       a,
		controllers: map[string]*chat.Controller{},
	}, nil
}

// Agent returns the configured agent.
func (l *ChatLoop) Agent() *agent.Agent { return l.agent }

// Chats returns the chat record store.
func (l *ChatLoop) Chats() *storage.ChatStore { return l.chats }

// Messages returns the message record store.
func (l *ChatLoop) Messages() *storage.MessageStore { return l.messages }

// NewChat creates an empty chat record.
func (l *ChatLoop) NewChat(ctx context.Context) (storage.Chat, error) {
	return l.chats.CreateEmpty(ctx)
}

// Open returns the controller for a chat, creating and initializing it on
// first use. Controllers are cached per chat id.
func (l *ChatLoop) Open(ctx context.Context, chatID string) (*chat.Controller, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.controllers[chatID]; ok {
		return c, nil
	}

	c := chat.NewController(chatID, l.agent, l.messages, l.chats, func(o *chat.ControllerOptions) {
		o.Logger = l.opts.Logger
	})
	if err := c.Init(ctx); err != nil {
		return nil, fmt.Errorf("init chat %s: %w", chatID, err)
	}
	l.controllers[chatID] = c
	return c, nil
}

// Send appends a user text message to the chat, triggering the assistant
// turn. The returned controller's stores stream the response.
func (l *ChatLoop) Send(ctx context.Context, chatID, text string) (*chat.Controller, error) {
	c, err := l.Open(ctx, chatID)
	if err != nil {
		return nil, err
	}
	msg := message.NewText(chatID, message.RoleUser, text)
	msg.SearchTerm = message.DeriveSearchTerm(msg)
	c.AppendUserMessage(msg)
	return c, nil
}

// CloseChat releases the controller for a chat, if open.
func (l *ChatLoop) CloseChat(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.controllers[chatID]; ok {
		c.Release()
		delete(l.controllers, chatID)
	}
}

// Close releases every open controller and the database.
func (l *ChatLoop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, c := range l.controllers {
		c.Release()
		delete(l.controllers, id)
	}
	return l.db.Close()
}

// RegisterTool adds a tool to the agent's registry.
func (l *ChatLoop) RegisterTool(t tool.Tool) error {
	return l.agent.Tools().Register(t)
}
