package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleArgs struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestCreateSchema(t *testing.T) {
	s := CreateSchema(sampleArgs{})

	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")

	// Required only includes non-pointer, non-omitempty exported fields.
	req, _ := s["required"].([]string)
	assert.ElementsMatch(t, []string{"a"}, req)
}

func TestCompileAndValidate(t *testing.T) {
	v, err := Compile(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		// Use []any to mirror the JSON decoded schema shape.
		"required": []any{"x"},
	})
	require.NoError(t, err)

	assert.NoError(t, v.Validate(map[string]any{"x": 5}))
	// JSON decoding yields float64 for numbers; whole values count as integers.
	assert.NoError(t, v.Validate(map[string]any{"x": float64(5)}))

	err = v.Validate(map[string]any{})
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	assert.Equal(t, "x", verrs[0].Field)

	err = v.Validate(map[string]any{"x": "not-int"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected type integer")
}

func TestValidate_Enum(t *testing.T) {
	v, err := Compile(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{"type": "string", "enum": []any{"fast", "slow"}},
		},
	})
	require.NoError(t, err)

	assert.NoError(t, v.Validate(map[string]any{"mode": "fast"}))
	assert.Error(t, v.Validate(map[string]any{"mode": "medium"}))
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	v, err := Compile(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"type": "boolean"},
		},
		"required": []string{"a", "b"},
	})
	require.NoError(t, err)

	err = v.Validate(map[string]any{"b": 1})
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	assert.Len(t, verrs, 2)
}

func TestValidate_AllowsExtraFields(t *testing.T) {
	v, err := Compile(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	require.NoError(t, err)
	assert.NoError(t, v.Validate(map[string]any{"unknown": true}))
}

func TestCompile_RejectsNonObjectRoot(t *testing.T) {
	_, err := Compile(map[string]any{"type": "array"})
	assert.Error(t, err)
}
