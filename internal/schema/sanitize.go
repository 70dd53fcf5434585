package schema

import (
	"encoding/json"
)

// SanitizeSchema rewrites a model-facing JSON schema into the strict
// subset vendors accept for structured generation: additionalProperties
// pinned to false on objects, unsupported annotation keywords dropped,
// and every property marked required (strict mode rejects optionals).
func SanitizeSchema(schemaBytes json.RawMessage) json.RawMessage {
	var node any
	if err := json.Unmarshal(schemaBytes, &node); err != nil {
		return schemaBytes
	}
	sanitized := sanitizeSchemaNode(node)
	out, err := json.Marshal(sanitized)
	if err != nil {
		return schemaBytes
	}
	return out
}

// droppedKeywords are schema annotations strict structured-generation
// endpoints reject.
var droppedKeywords = map[string]bool{
	"default":  true,
	"examples": true,
	"format":   true,
	"$schema":  true,
}

func sanitizeSchemaNode(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if droppedKeywords[k] {
			continue
		}
		out[k] = v
	}
	if props, ok := out["properties"].(map[string]any); ok {
		cleaned := make(map[string]any, len(props))
		required := make([]any, 0, len(props))
		for name, sub := range props {
			cleaned[name] = sanitizeSchemaNode(sub)
			required = append(required, name)
		}
		out["properties"] = cleaned
		out["additionalProperties"] = false
		if _, has := out["required"]; !has {
			out["required"] = required
		}
	}
	if items, ok := out["items"]; ok {
		out["items"] = sanitizeSchemaNode(items)
	}
	return out
}

// SanitizeEmptyValues prunes null values and empty strings from an object
// when the schema does not require the field, so that a model emitting
// `"notes": null` for an optional string field still validates.
func SanitizeEmptyValues(value any, schemaBytes json.RawMessage) any {
	var schemaNode map[string]any
	if err := json.Unmarshal(schemaBytes, &schemaNode); err != nil {
		return value
	}
	return sanitizeValueNode(value, schemaNode)
}

func sanitizeValueNode(value any, schemaNode map[string]any) any {
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}
	props, _ := schemaNode["properties"].(map[string]any)
	required := map[string]bool{}
	if reqs, ok := schemaNode["required"].([]any); ok {
		for _, r := range reqs {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	out := make(map[string]any, len(obj))
	for name, v := range obj {
		if !required[name] {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok && s == "" {
				continue
			}
		}
		if sub, ok := props[name].(map[string]any); ok {
			v = sanitizeValueNode(v, sub)
		}
		out[name] = v
	}
	return out
}
