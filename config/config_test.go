package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatloop/logging"
)

const sampleConfig = `
default_agent: assistant
agents:
  - name: assistant
    system_prompts:
      - You are a helpful assistant.
    max_lookup_history: 30
    model:
      provider: openai
      name: gpt-4o-mini
      temperature: 0.5
      max_tokens: 2048
    tools:
      - name: weather_lookup
        title: Weather Lookup
        description: Fetches the current weather for a city.
        url: https://api.example.com/weather
        method: POST
        headers:
          X-Api-Key: secret
        schema:
          type: object
          properties:
            city:
              type: string
          required:
            - city
  - name: minimal
    model:
      provider: anthropic
storage:
  path: chatloop.db
logging:
  level: warn
  format: json
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "assistant", cfg.DefaultAgent)
	require.Len(t, cfg.Agents, 2)

	a := cfg.Agents[0]
	assert.Equal(t, 30, a.MaxLookupHistory)
	assert.Equal(t, "gpt-4o-mini", a.Model.Name)
	assert.Equal(t, 0.5, a.Model.Temperature)

	require.Len(t, a.Tools, 1)
	assert.Equal(t, "https://api.example.com/weather", a.Tools[0].URL)
	assert.Equal(t, "secret", a.Tools[0].Headers["X-Api-Key"])

	assert.Equal(t, "chatloop.db", cfg.Storage.Path)
	assert.Equal(t, logging.LogLevelWarn, cfg.Logging.LogLevel())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "assistant", cfg.DefaultAgent)
}

func TestAgentLookup(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	byName, err := cfg.Agent("minimal")
	require.NoError(t, err)
	assert.Equal(t, "minimal", byName.Name)

	byDefault, err := cfg.Agent("")
	require.NoError(t, err)
	assert.Equal(t, "assistant", byDefault.Name)

	_, err = cfg.Agent("ghost")
	assert.Error(t, err)
}

func TestBuildTools(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	a, err := cfg.Agent("assistant")
	require.NoError(t, err)

	tools := a.BuildTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "weather_lookup", tools[0].Name())
	assert.Equal(t, "http:weather_lookup", tools[0].ID())

	schema := tools[0].Schema()
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"no agents", `agents: []`, "at least one agent"},
		{"duplicate names", "agents:\n  - name: a\n  - name: a", "duplicate agent name"},
		{"unnamed tool", "agents:\n  - name: a\n    tools:\n      - url: http://x", "tool without a name"},
		{"tool without url", "agents:\n  - name: a\n    tools:\n      - name: t", "has no url"},
		{"unknown default", "default_agent: ghost\nagents:\n  - name: a", "not defined"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("agents:\n  - name: a\n    surprise: true"))
	assert.Error(t, err)
}
