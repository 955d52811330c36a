package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"chatloop/internal/schema"
	"chatloop/logging"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// HTTPClient issues requests for HTTP-backed tools.
	HTTPClient *http.Client
	// Logger receives execution telemetry.
	Logger logging.Logger
}

// Registry owns the set of invocable tools for a chat session. It validates
// arguments against each tool's declared schema using validators compiled
// once at registration, dispatches execution and normalizes results and
// errors. All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	order      []string
	validators map[string]*schema.Validator

	client *http.Client
	logger logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		tools:      map[string]Tool{},
		validators: map[string]*schema.Validator{},
		client:     opts.HTTPClient,
		logger:     opts.Logger,
	}
}

// Register adds a tool. A duplicate name or an uncompilable schema is a
// configuration error surfaced here, at construction time, never at call time.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return &Error{Tool: name, Message: "tool has already been registered", Code: CodeRegistration}
	}

	validator, err := schema.Compile(t.Schema())
	if err != nil {
		return &Error{Tool: name, Message: fmt.Sprintf("invalid schema: %v", err), Code: CodeRegistration, cause: err}
	}

	r.tools[name] = t
	r.order = append(r.order, name)
	r.validators[name] = validator
	return nil
}

// MustRegister is Register panicking on error, for static tool sets wired at
// startup.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a tool, reporting whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return false
	}
	delete(r.tools, name)
	delete(r.validators, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Declarations projects every registered tool into the provider declaration
// shape, in registration order, for inclusion in the next model request.
func (r *Registry) Declarations() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Run executes the named tool with the raw argument payload. The payload is
// parsed as JSON (empty means {}), validated against the compiled schema and
// dispatched to the tool's implementation. Every failure comes back as a
// *Error carrying one of the taxonomy codes.
func (r *Registry) Run(ctx context.Context, name, rawArgs string) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	validator := r.validators[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &Error{Tool: name, Message: fmt.Sprintf("tool %s not found", name), Code: CodeNotFound}
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, &Error{
				Tool:    name,
				Message: fmt.Sprintf("arguments are not valid json: %v", err),
				Code:    CodeMalformedArguments,
				cause:   err,
			}
		}
	}

	if err := validator.Validate(args); err != nil {
		r.logger.Warn("tool.run.validation_failed", "tool", name, "error", err.Error())
		return nil, &Error{
			Tool:    name,
			Message: fmt.Sprintf("arguments do not match the schema: %v", err),
			Code:    CodeSchemaViolation,
			Details: err,
			cause:   err,
		}
	}

	start := time.Now()
	r.logger.Debug("tool.run.start", "tool", name)

	var (
		result any
		err    error
	)
	switch impl := t.(type) {
	case *BuiltinTool:
		result, err = impl.run(ctx, args)
	case *HTTPTool:
		result, err = r.runHTTP(ctx, impl, rawArgs)
	default:
		err = fmt.Errorf("unsupported tool variant %T", t)
	}

	if err != nil {
		r.logger.Error("tool.run.error", "tool", name, "error", err.Error())
		if te, ok := err.(*Error); ok {
			return nil, te
		}
		return nil, &Error{Tool: name, Message: err.Error(), Code: CodeExecutionFailed, cause: err}
	}

	r.logger.Info("tool.run.success", "tool", name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// runHTTP issues one request per call, sending the raw argument payload as
// the body and parsing the response as JSON.
func (r *Registry) runHTTP(ctx context.Context, t *HTTPTool, rawArgs string) (any, error) {
	if rawArgs == "" {
		rawArgs = "{}"
	}

	req, err := http.NewRequestWithContext(ctx, t.method, t.url, bytes.NewReader([]byte(rawArgs)))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var result any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("response is not valid json: %w", err)
	}
	return result, nil
}
