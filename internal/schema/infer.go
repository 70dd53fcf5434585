package schema

import (
	"encoding/json"
	"sort"
)

// InferSchema derives a JSON schema from an example variables object, for
// versions created from a templated prompt without an explicit
// input_variables_schema. Every observed field becomes required.
func InferSchema(variables json.RawMessage) (json.RawMessage, error) {
	var value any
	if err := json.Unmarshal(variables, &value); err != nil {
		return nil, err
	}
	return json.Marshal(inferNode(value))
}

func inferNode(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		props := make(map[string]any, len(v))
		required := make([]string, 0, len(v))
		for name, sub := range v {
			props[name] = inferNode(sub)
			required = append(required, name)
		}
		sort.Strings(required)
		schemaNode := map[string]any{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			schemaNode["required"] = required
		}
		return schemaNode
	case []any:
		schemaNode := map[string]any{"type": "array"}
		if len(v) > 0 {
			schemaNode["items"] = inferNode(v[0])
		}
		return schemaNode
	case string:
		return map[string]any{"type": "string"}
	case bool:
		return map[string]any{"type": "boolean"}
	case float64:
		if v == float64(int64(v)) {
			return map[string]any{"type": "integer"}
		}
		return map[string]any{"type": "number"}
	case nil:
		return map[string]any{"type": "null"}
	default:
		return map[string]any{}
	}
}
