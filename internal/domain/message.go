// Package domain holds the neutral request/response model shared by every
// provider adapter, the retry pipeline, the runner, and the playground
// orchestrator. Values here are immutable once constructed; identity for
// Version and AgentInput comes from a content hash (see version.go, input.go).
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
)

// Message is an ordered sequence of content parts attributed to a single role.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// PartKind tags which field of ContentPart is populated.
type PartKind string

const (
	PartText           PartKind = "text"
	PartStructured     PartKind = "structured"
	PartFile           PartKind = "file"
	PartToolCallReq    PartKind = "tool_call_request"
	PartToolCallResult PartKind = "tool_call_result"
	PartReasoning      PartKind = "reasoning"
)

// ContentPart is a tagged union: exactly one of the typed fields is set,
// selected by Kind. Use the NewXPart constructors rather than building one
// by hand so the each-part-holds-exactly-one-kind invariant is enforced at
// construction time instead of scattered through call sites.
type ContentPart struct {
	Kind PartKind `json:"kind"`

	Text           string          `json:"text,omitempty"`
	Structured     json.RawMessage `json:"structured,omitempty"`
	File           *File           `json:"file,omitempty"`
	ToolCallReq    *ToolCallRequest `json:"tool_call_request,omitempty"`
	ToolCallResult *ToolCallResult  `json:"tool_call_result,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
}

// ToolCallResult carries the outcome of a previously requested tool call.
type ToolCallResult struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func NewTextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

func NewStructuredPart(v json.RawMessage) ContentPart {
	return ContentPart{Kind: PartStructured, Structured: v}
}

func NewFilePart(f *File) ContentPart {
	return ContentPart{Kind: PartFile, File: f}
}

func NewToolCallRequestPart(tc *ToolCallRequest) ContentPart {
	return ContentPart{Kind: PartToolCallReq, ToolCallReq: tc}
}

func NewToolCallResultPart(tr *ToolCallResult) ContentPart {
	return ContentPart{Kind: PartToolCallResult, ToolCallResult: tr}
}

func NewReasoningPart(text string) ContentPart {
	return ContentPart{Kind: PartReasoning, Reasoning: text}
}

// Validate checks the single-kind invariant. Adapters call this defensively
// on messages they did not construct themselves (e.g. round-tripped from
// storage) rather than trusting the Kind tag blindly.
func (p ContentPart) Validate() error {
	set := 0
	if p.Text != "" {
		set++
	}
	if len(p.Structured) > 0 {
		set++
	}
	if p.File != nil {
		set++
	}
	if p.ToolCallReq != nil {
		set++
	}
	if p.ToolCallResult != nil {
		set++
	}
	if p.Reasoning != "" {
		set++
	}
	// Empty text part (Kind==PartText, Text=="") is valid (empty string leaf);
	// only reject when more than one field is populated.
	if set > 1 {
		return fmt.Errorf("domain: content part holds more than one kind (%d populated)", set)
	}
	return nil
}

// TextContent concatenates every text part of the message, ignoring files,
// tool calls and reasoning. Used by adapters that flatten a message to a
// single string (e.g. vendors without native multi-part content).
func (m Message) TextContent() string {
	var out string
	for _, p := range m.Content {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ErrEmptyMessages is raised when an adapter or the runner receives a
// request with no messages to send upstream.
var ErrEmptyMessages = errors.New("domain: no messages to send")
