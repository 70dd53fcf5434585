package domain

import "time"

// LLMCompletion traces a single request/response exchange with one
// provider adapter, win or lose. A tool-call loop in the runner produces
// one LLMCompletion per round trip; AgentCompletion.Trace holds them all
// in call order.
type LLMCompletion struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	Output   []ContentPart `json:"output,omitempty"`
	Usage    LLMUsage      `json:"usage"`
	Duration time.Duration `json:"duration"`

	// ProviderRequestIncursCost mirrors RunError.IncursCost for the success
	// path: some providers charge even when the response is later discarded
	// (e.g. a retried structured-generation failure on the same provider).
	ProviderRequestIncursCost bool `json:"provider_request_incurs_cost"`

	Error *RunError `json:"error,omitempty"`
}

// AgentCompletion is one full run of a Version against an AgentInput:
// the rendered prompt, every LLM round trip attempted (including ones
// abandoned to fallback), and the final output or terminal error.
type AgentCompletion struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Version        Version   `json:"version"`
	Input          AgentInput `json:"input"`

	Output   []Message `json:"output,omitempty"`
	Error    *RunError `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	CostUSD  *float64  `json:"cost_usd,omitempty"`

	Trace []LLMCompletion `json:"trace,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TotalUsage sums token/image/audio usage across every traced LLM call,
// including ones that were later discarded by fallback.
func (c AgentCompletion) TotalUsage() LLMUsage {
	var total LLMUsage
	for _, t := range c.Trace {
		total.Add(t.Usage)
	}
	return total
}

// Succeeded reports whether the run produced output rather than a
// terminal error.
func (c AgentCompletion) Succeeded() bool {
	return c.Error == nil
}
