// Package schema implements the minimal JSON-Schema subset used to validate
// tool call arguments: object schemas with typed properties, required fields
// and enums. Schemas are compiled once into a Validator that can be reused
// concurrently; compiled validators hold no mutable state.
package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError describes a single structural violation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors aggregates every violation found in one Validate pass.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = (&v).Error()
	}
	return strings.Join(msgs, "; ")
}

type property struct {
	typ  string
	enum []any
}

// Validator is a compiled object schema.
type Validator struct {
	required   []string
	properties map[string]property
}

// Compile parses a JSON-Schema-like map into a reusable Validator. Only the
// subset actually enforced needs to be present (type, properties, required,
// enum); unknown keywords are ignored.
func Compile(s map[string]any) (*Validator, error) {
	if s == nil {
		return &Validator{properties: map[string]property{}}, nil
	}
	if typ, ok := s["type"].(string); ok && typ != "object" {
		return nil, fmt.Errorf("schema: unsupported root type %q", typ)
	}

	v := &Validator{properties: map[string]property{}}

	switch req := s["required"].(type) {
	case []string:
		v.required = append(v.required, req...)
	case []any:
		for _, r := range req {
			name, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("schema: required entry %v is not a string", r)
			}
			v.required = append(v.required, name)
		}
	case nil:
	default:
		return nil, fmt.Errorf("schema: invalid required clause %T", req)
	}

	props, _ := s["properties"].(map[string]any)
	for name, raw := range props {
		propMap, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: property %q is not an object", name)
		}
		p := property{}
		p.typ, _ = propMap["type"].(string)
		if enum, ok := propMap["enum"].([]any); ok {
			p.enum = enum
		}
		v.properties[name] = p
	}

	return v, nil
}

// Validate checks params against the compiled schema, returning every
// violation found as a ValidationErrors value. Extra fields not covered by
// the schema are allowed.
func (v *Validator) Validate(params map[string]any) error {
	var errs ValidationErrors

	for _, name := range v.required {
		if _, exists := params[name]; !exists {
			errs = append(errs, ValidationError{Field: name, Message: "required field is missing"})
		}
	}

	for name, value := range params {
		prop, exists := v.properties[name]
		if !exists {
			continue
		}
		if prop.typ != "" && !isValidType(value, prop.typ) {
			errs = append(errs, ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", prop.typ, value),
			})
			continue
		}
		if len(prop.enum) > 0 && !enumContains(prop.enum, value) {
			errs = append(errs, ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("value %v is not one of the allowed values", value),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CreateSchema creates a JSON schema from a Go struct using reflection. It is
// a convenience for declaring tool argument schemas from plain types.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}

	properties := make(map[string]any)
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				fieldName = parts[0]
			}
		}

		fieldSchema := map[string]any{
			"type": getJSONType(field.Type),
		}
		if description := field.Tag.Get("description"); description != "" {
			fieldSchema["description"] = description
		}
		properties[fieldName] = fieldSchema

		if !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr {
			required = append(required, fieldName)
		}
	}

	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// getJSONType returns the JSON schema type for a given Go type.
func getJSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return getJSONType(t.Elem())
	default:
		return "string"
	}
}

// hasOmitEmpty checks if a JSON tag has the "omitempty" option.
func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

// isValidType checks if a value is valid according to the expected JSON schema type.
func isValidType(value any, expectedType string) bool {
	if value == nil {
		return true
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON unmarshaling produces float64 for numbers
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func enumContains(enum []any, value any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(e, value) {
			return true
		}
	}
	return false
}
