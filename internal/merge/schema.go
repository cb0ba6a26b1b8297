package merge

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Field is a schema property the merge policy is applied to.
type Field struct {
	Name       string
	Type       string
	Properties []Field
}

type schemaNode struct {
	Type       any                   `json:"type"`
	Properties map[string]schemaNode `json:"properties"`
}

// FieldsFromSchema reads the top-level properties of a JSON schema, sorted by
// name. A schema without properties yields no fields, meaning every key the
// model returns is merged.
func FieldsFromSchema(schema json.RawMessage) ([]Field, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	var root schemaNode
	if err := json.Unmarshal(schema, &root); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return fieldsOf(root.Properties), nil
}

func fieldsOf(props map[string]schemaNode) []Field {
	if len(props) == 0 {
		return nil
	}
	fields := make([]Field, 0, len(props))
	for name, node := range props {
		fields = append(fields, Field{
			Name:       name,
			Type:       typeOf(node.Type),
			Properties: fieldsOf(node.Properties),
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

// typeOf handles both "type": "array" and "type": ["array", "null"].
func typeOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}
