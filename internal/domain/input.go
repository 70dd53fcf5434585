package domain

import "encoding/json"

// AgentInput supplies the variables used to render a Version's prompt
// template and/or extra messages appended after the rendered prompt.
// Its ID is a content hash, same rules as Version.ID.
type AgentInput struct {
	Variables json.RawMessage `json:"variables,omitempty"`
	Messages  []Message       `json:"messages,omitempty"`
}

// ID returns the content hash identifying this AgentInput.
func (i AgentInput) ID() string {
	return contentHash(i)
}

// IsEmpty reports whether the input contributes no messages and no
// variables. The playground pre-flight check uses it: an empty Version
// prompt paired with an empty Input would produce a zero-message call.
func (i AgentInput) IsEmpty() bool {
	return len(i.Variables) == 0 && len(i.Messages) == 0
}
