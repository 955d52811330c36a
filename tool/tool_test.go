package tool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumTool() *BuiltinTool {
	return NewBuiltinTool(
		"calculate_sum",
		"Sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)
}

func TestRegistry_RunBuiltin(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool()))

	result, err := r.Run(context.Background(), "calculate_sum", `{"a": 2, "b": 3}`)
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestRegistry_DuplicateNameFailsAtRegistration(t *testing.T) {
	r := NewRegistry()

	first := NewBuiltinTool("x", "X", "first", nil, func(context.Context, map[string]any) (any, error) { return nil, nil })
	second := NewBuiltinTool("x", "X", "second", nil, func(context.Context, map[string]any) (any, error) { return nil, nil })

	require.NoError(t, r.Register(first))
	err := r.Register(second)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeRegistration))

	// The first registration must remain in place.
	got, ok := r.Get("x")
	require.True(t, ok)
	assert.Equal(t, "first", got.Description())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RunUnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Run(context.Background(), "missing_tool", "{}")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNotFound))
	assert.Contains(t, err.Error(), "missing_tool")
}

func TestRegistry_MalformedArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool()))

	_, err := r.Run(context.Background(), "calculate_sum", `{"a": `)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeMalformedArguments))
}

func TestRegistry_SchemaViolation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool()))

	_, err := r.Run(context.Background(), "calculate_sum", `{"a": "two"}`)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeSchemaViolation))

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.NotNil(t, te.Details)
}

func TestRegistry_ExecutionFailure(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	failing := NewBuiltinTool("fail", "Fail", "always fails", nil,
		func(context.Context, map[string]any) (any, error) { return nil, boom })
	require.NoError(t, r.Register(failing))

	_, err := r.Run(context.Background(), "fail", "{}")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeExecutionFailed))
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_EmptyArgumentsMeanEmptyObject(t *testing.T) {
	r := NewRegistry()
	var got map[string]any
	echo := NewBuiltinTool("echo", "Echo", "returns args", nil,
		func(_ context.Context, args map[string]any) (any, error) {
			got = args
			return args, nil
		})
	require.NoError(t, r.Register(echo))

	_, err := r.Run(context.Background(), "echo", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistry_Declarations(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewCurrentTimeTool()))
	require.NoError(t, r.Register(sumTool()))

	defs := r.Declarations()
	require.Len(t, defs, 2)
	assert.Equal(t, "get_current_time", defs[0].Name)
	assert.Equal(t, "calculate_sum", defs[1].Name)
	assert.NotNil(t, defs[1].Parameters)
}

func TestRegistry_HTTPTool(t *testing.T) {
	var gotBody string
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		gotBody = string(body)
		gotHeader = req.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	r := NewRegistry()
	remote := NewHTTPTool("remote:lookup", "lookup", "Lookup", "Remote lookup",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"q": map[string]any{"type": "string"},
			},
			"required": []string{"q"},
		},
		HTTPToolSpec{URL: server.URL, Headers: map[string]string{"X-Api-Key": "secret"}},
	)
	require.NoError(t, r.Register(remote))

	result, err := r.Run(context.Background(), "lookup", `{"q": "golang"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
	assert.JSONEq(t, `{"q": "golang"}`, gotBody)
	assert.Equal(t, "secret", gotHeader)
}

func TestRegistry_HTTPToolNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewRegistry()
	remote := NewHTTPTool("remote:broken", "broken", "Broken", "Always 500", nil, HTTPToolSpec{URL: server.URL})
	require.NoError(t, r.Register(remote))

	_, err := r.Run(context.Background(), "broken", "{}")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeExecutionFailed))
}

func TestRegistry_HTTPToolMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	r := NewRegistry()
	remote := NewHTTPTool("remote:garbled", "garbled", "Garbled", "Returns junk", nil, HTTPToolSpec{URL: server.URL})
	require.NoError(t, r.Register(remote))

	_, err := r.Run(context.Background(), "garbled", "{}")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeExecutionFailed))
}

func TestCurrentTimeTool(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewCurrentTimeTool()))

	before := time.Now().UnixMilli()
	result, err := r.Run(context.Background(), "get_current_time", "{}")
	require.NoError(t, err)
	after := time.Now().UnixMilli()

	m, ok := result.(map[string]any)
	require.True(t, ok)

	ts, ok := m["timestamp"].(int64)
	require.True(t, ok, "timestamp must be numeric")
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)

	utc, ok := m["utc_format"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, utc)
	assert.NoError(t, err, "utc_format must be a parseable timestamp")
}

func TestNewBuiltinToolFromStruct(t *testing.T) {
	type args struct {
		City string `json:"city" description:"City name"`
	}
	weather := NewBuiltinToolFromStruct("get_weather", "Weather", "Get weather", args{},
		func(_ context.Context, a map[string]any) (any, error) { return a["city"], nil })

	r := NewRegistry()
	require.NoError(t, r.Register(weather))

	// Missing required field derived from the struct.
	_, err := r.Run(context.Background(), "get_weather", "{}")
	assert.True(t, IsCode(err, CodeSchemaViolation))

	result, err := r.Run(context.Background(), "get_weather", `{"city": "Berlin"}`)
	require.NoError(t, err)
	assert.Equal(t, "Berlin", result)
}
