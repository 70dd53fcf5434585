package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseTolerant decodes model-produced text that is supposed to be a JSON
// document but often is not quite one: fenced in markdown, prefixed with
// prose, carrying raw control characters inside strings, or followed by
// trailing garbage. It tries progressively looser strategies and returns
// the decoded value.
func ParseTolerant(raw string) (any, error) {
	text := strings.TrimSpace(raw)
	text = stripCodeFences(text)

	var value any
	if err := json.Unmarshal([]byte(text), &value); err == nil {
		return value, nil
	}

	// Raw control characters (tabs, newlines) inside string literals are
	// the most common model slip; escape them and retry strict parsing.
	if escaped := escapeControlChars(text); escaped != text {
		if err := json.Unmarshal([]byte(escaped), &value); err == nil {
			return value, nil
		}
		text = escaped
	}

	// Trailing garbage after a valid document: decode just the first value.
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&value); err == nil {
		return value, nil
	}

	// Last resort: run the streaming parser over whatever is there and
	// take the partial object it recovered.
	start := strings.IndexAny(text, "{[")
	if start >= 0 {
		p := NewJSONStreamParser()
		p.Feed(text[start:])
		p.Finish()
		if v := p.Value(); v != nil {
			return v, nil
		}
	}

	return nil, fmt.Errorf("schema: text is not parseable as JSON")
}

// stripCodeFences removes a surrounding markdown code fence
// (```json ... ``` or plain ``` ... ```), plus anything before the fence.
func stripCodeFences(text string) string {
	idx := strings.Index(text, "```")
	if idx < 0 {
		return text
	}
	rest := text[idx+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		lang := strings.TrimSpace(rest[:nl])
		if lang == "" || lang == "json" {
			rest = rest[nl+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// escapeControlChars escapes raw control characters that appear inside
// string literals, which strict JSON rejects.
func escapeControlChars(text string) string {
	var out strings.Builder
	out.Grow(len(text))
	inString := false
	escaped := false
	for _, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
				out.WriteRune(r)
				continue
			case r == '\\':
				escaped = true
				out.WriteRune(r)
				continue
			case r == '"':
				inString = false
				out.WriteRune(r)
				continue
			case r == '\n':
				out.WriteString(`\n`)
				continue
			case r == '\t':
				out.WriteString(`\t`)
				continue
			case r == '\r':
				out.WriteString(`\r`)
				continue
			case r < 0x20:
				fmt.Fprintf(&out, `\u%04x`, r)
				continue
			}
			out.WriteRune(r)
			continue
		}
		if r == '"' {
			inString = true
		}
		out.WriteRune(r)
	}
	return out.String()
}
