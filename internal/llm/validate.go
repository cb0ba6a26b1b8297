package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompileSchema checks that raw is a usable JSON schema.
func CompileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateData validates extracted data against the schema. Partial chunks
// legitimately miss required fields, so "required" violations are not checked:
// the data is validated against a copy of the schema with them removed.
func ValidateData(raw json.RawMessage, data map[string]any) error {
	relaxed, err := withoutRequired(raw)
	if err != nil {
		return err
	}
	schema, err := CompileSchema(relaxed)
	if err != nil {
		return err
	}
	// Round-trip so numbers have the types the validator expects.
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

func withoutRequired(raw json.RawMessage) (json.RawMessage, error) {
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	stripRequired(node)
	return json.Marshal(node)
}

func stripRequired(node any) {
	switch t := node.(type) {
	case map[string]any:
		if _, ok := t["required"].([]any); ok {
			delete(t, "required")
		}
		for _, v := range t {
			stripRequired(v)
		}
	case []any:
		for _, v := range t {
			stripRequired(v)
		}
	}
}
