package domain

import (
	"encoding/json"
	"strings"
)

// Tool describes a function the model may call. Internal hosted tools
// (executed by the runner rather than surfaced to the caller) are named
// with a leading "@", e.g. "@web_search".
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Strict       bool            `json:"strict,omitempty"`
}

// IsHosted reports whether the runner, not the caller, must execute this tool.
func (t Tool) IsHosted() bool {
	return strings.HasPrefix(t.Name, "@")
}

// ToolCallRequest is the model's request to invoke a tool.
type ToolCallRequest struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
	Index *int            `json:"index,omitempty"`
}

// IsHosted mirrors Tool.IsHosted for a concrete call.
func (c ToolCallRequest) IsHosted() bool {
	return strings.HasPrefix(c.Name, "@")
}

// ToolChoiceMode selects how the model is constrained to use tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice is either one of the bare modes or a forced single function.
type ToolChoice struct {
	Mode         ToolChoiceMode `json:"mode"`
	FunctionName string         `json:"function_name,omitempty"`
}

var ToolChoiceAutoValue = ToolChoice{Mode: ToolChoiceAuto}
