// Package agent binds a language model, a system prompt set, and a tool
// collection into a named configuration that the chat controller drives.
package agent

import (
	"fmt"
	"time"

	"chatloop/logging"
	"chatloop/model"
	"chatloop/tool"
)

// Options configure an Agent.
//
// Use functional options with New to override defaults.
type Options struct {
	SystemPrompts    []string
	MaxLookupHistory int
	Tools            []tool.Tool
	UseBuiltinTools  bool
	ModelParams      model.Params
	ToolTimeout      time.Duration
	Logger           logging.Logger
}

// Agent is an immutable conversation configuration: the model to stream
// from, the prompts framing every request, the history window, and the
// registry of tools the model may invoke.
type Agent struct {
	name             string
	llm              model.Model
	systemPrompts    []string
	maxLookupHistory int
	modelParams      model.Params
	toolTimeout      time.Duration
	registry         *tool.Registry
}

// New creates an agent. Builtin tools are registered first when enabled;
// a configured tool that collides with a builtin name is a construction
// error rather than a silent override.
func New(name string, llm model.Model, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{
		MaxLookupHistory: 20,
		UseBuiltinTools:  true,
		ToolTimeout:      15 * time.Second,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Logger = opts.Logger
	})

	if opts.UseBuiltinTools {
		for _, b := range tool.Builtins() {
			if err := registry.Register(b); err != nil {
				return nil, fmt.Errorf("agent %q: %w", name, err)
			}
		}
	}
	for _, t := range opts.Tools {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("agent %q: %w", name, err)
		}
	}

	return &Agent{
		name:             name,
		llm:              llm,
		systemPrompts:    opts.SystemPrompts,
		maxLookupHistory: opts.MaxLookupHistory,
		modelParams:      opts.ModelParams,
		toolTimeout:      opts.ToolTimeout,
		registry:         registry,
	}, nil
}

// Name returns the agent's configured name.
func (a *Agent) Name() string { return a.name }

// Model returns the language model this agent streams from.
func (a *Agent) Model() model.Model { return a.llm }

// SystemPrompts returns the prompts prefixed to every model request.
func (a *Agent) SystemPrompts() []string { return a.systemPrompts }

// MaxLookupHistory returns the number of recent messages projected into a
// model request.
func (a *Agent) MaxLookupHistory() int { return a.maxLookupHistory }

// ModelParams returns the generation parameters for this agent.
func (a *Agent) ModelParams() model.Params { return a.modelParams }

// ToolTimeout bounds a single tool execution.
func (a *Agent) ToolTimeout() time.Duration { return a.toolTimeout }

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *tool.Registry { return a.registry }
