package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ObjectSchema accepts any JSON object and nothing else.
var ObjectSchema = []byte(`{"type":"object"}`)

// ErrNotObject is returned when a payload that must be a JSON object is not one.
var ErrNotObject = errors.New("must be a JSON object")

var compiled sync.Map // resource id -> *jsonschema.Schema

// ValidateSchema validates a value against a JSON schema payload.
// Compiled schemas are cached by id.
func ValidateSchema(id string, schema []byte, value any) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema is empty")
	}
	sch, err := compile(schemaID(id), schema)
	if err != nil {
		return err
	}
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := sch.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// RequireObject checks that raw decodes to a JSON object. field names the
// payload in the returned error.
func RequireObject(field string, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%s %w", field, ErrNotObject)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%s is not valid JSON: %w", field, err)
	}
	if err := ValidateSchema("object", ObjectSchema, payload); err != nil {
		return fmt.Errorf("%s %w", field, ErrNotObject)
	}
	return nil
}

func compile(resourceID string, schema []byte) (*jsonschema.Schema, error) {
	if cached, ok := compiled.Load(resourceID); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	actual, _ := compiled.LoadOrStore(resourceID, sch)
	return actual.(*jsonschema.Schema), nil
}

func normalizeValue(value any) (any, error) {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return value, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
