package runner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RenderTemplate substitutes {{variable}} and {{variable.path}} references
// in a prompt template with values from the variables object, and resolves
// {% if name %}...{% endif %} blocks on the truthiness of a variable.
// Unknown references render as empty strings rather than failing, so a
// prompt survives partial inputs.
func RenderTemplate(template string, variables json.RawMessage) (string, error) {
	var vars map[string]any
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &vars); err != nil {
			return "", fmt.Errorf("runner: variables are not a JSON object: %w", err)
		}
	}

	out, err := renderConditionals(template, vars)
	if err != nil {
		return "", err
	}
	return renderSubstitutions(out, vars), nil
}

// TemplateVariables lists the distinct {{...}} references of a template,
// in first-appearance order. Used to infer an input schema for versions
// created from a raw templated prompt.
func TemplateVariables(template string) []string {
	var names []string
	seen := map[string]bool{}
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			break
		}
		name := strings.TrimSpace(rest[start+2 : start+end])
		root := strings.SplitN(name, ".", 2)[0]
		if root != "" && !seen[root] {
			seen[root] = true
			names = append(names, root)
		}
		rest = rest[start+end+2:]
	}
	return names
}

// HasTemplateReferences reports whether the text contains any {{...}}
// placeholder.
func HasTemplateReferences(text string) bool {
	start := strings.Index(text, "{{")
	return start >= 0 && strings.Contains(text[start:], "}}")
}

func renderConditionals(template string, vars map[string]any) (string, error) {
	var out strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{%")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])
		end := strings.Index(rest[start:], "%}")
		if end < 0 {
			return "", fmt.Errorf("runner: unterminated {%% block in template")
		}
		tag := strings.TrimSpace(rest[start+2 : start+end])
		rest = rest[start+end+2:]

		if !strings.HasPrefix(tag, "if ") {
			return "", fmt.Errorf("runner: unsupported template tag %q", tag)
		}
		name := strings.TrimSpace(strings.TrimPrefix(tag, "if "))

		endIdx := strings.Index(rest, "{% endif %}")
		if endIdx < 0 {
			endIdx = strings.Index(rest, "{%endif%}")
			if endIdx < 0 {
				return "", fmt.Errorf("runner: {%% if %%} without {%% endif %%}")
			}
		}
		body := rest[:endIdx]
		rest = rest[endIdx:]
		if closing := strings.Index(rest, "%}"); closing >= 0 {
			rest = rest[closing+2:]
		}

		if truthy(lookupPath(vars, name)) {
			rendered, err := renderConditionals(body, vars)
			if err != nil {
				return "", err
			}
			out.WriteString(rendered)
		}
	}
}

func renderSubstitutions(template string, vars map[string]any) string {
	var out strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+2 : start+end])
		out.WriteString(stringify(lookupPath(vars, name)))
		rest = rest[start+end+2:]
	}
}

func lookupPath(vars map[string]any, path string) any {
	var current any = vars
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}
