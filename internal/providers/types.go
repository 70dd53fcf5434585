// Package providers implements one Adapter per LLM vendor, translating
// between the neutral internal/domain request/response model and each
// vendor's wire format.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() or Stream() simultaneously for different requests.
//
// See Also:
//   - providers.AnthropicAdapter for Anthropic Claude
//   - providers.OpenAIAdapter for OpenAI, Azure OpenAI, and the
//     OpenAI-compatible vendors (Mistral, Fireworks, Groq)
package providers

import (
	"context"

	"github.com/anotherai/gateway/internal/domain"
)

// Adapter is the interface every vendor implementation satisfies. The
// retry/fallback pipeline (internal/pipeline) and runner (internal/runner)
// depend only on this interface, never on a concrete vendor type.
type Adapter interface {
	// Name returns the adapter's provider identifier (e.g. "anthropic").
	Name() string

	// SupportsModel reports whether this adapter can serve modelID at all.
	SupportsModel(modelID string) bool

	// DefaultModel returns the model id used when a Version leaves Model
	// unset for this provider.
	DefaultModel() string

	// RequiresDownloadingFile reports whether a given file attachment must
	// be downloaded and inlined (as opposed to passed by URL) for this
	// provider, per domain.RequiresDownload's rules.
	RequiresDownloadingFile(f domain.File) bool

	// IsStreamable reports whether modelID supports Stream at all; some
	// reasoning-only models only support Complete.
	IsStreamable(modelID string) bool

	// SanitizeModelData adjusts a catalog entry for provider-specific
	// quirks (e.g. clamping MaxOutputTokens, disabling parallel tool
	// calls for a given family) before it is surfaced to callers.
	SanitizeModelData(data domain.ModelData) domain.ModelData

	// ValidateRequest checks that req is something this adapter can
	// attempt at all (e.g. rejects an empty message list) before an HTTP
	// call is made. A non-nil error is always a *domain.RunError.
	ValidateRequest(req *CompletionRequest) error

	// CheckValid pings the provider with the adapter's credential (a
	// cheap metadata call, never an inference) and reports whether the
	// credential is usable.
	CheckValid(ctx context.Context) bool

	// Complete performs one non-streaming round trip.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)

	// Stream performs one streaming round trip, delivering incremental
	// chunks over the returned channel. The channel is always closed by
	// the adapter, with the final chunk carrying Done=true (and Error set
	// if the stream ended abnormally).
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// CompletionRequest is the adapter-facing view of one LLM call: a
// resolved model id, the message history to send, and generation
// parameters lifted from domain.Version.
type CompletionRequest struct {
	Model    string
	Messages []domain.Message

	Tools      []domain.Tool
	ToolChoice domain.ToolChoice

	MaxOutputTokens *int
	Temperature     *float64
	TopP            *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64

	OutputSchema         []byte
	StructuredGeneration bool

	ReasoningEffort domain.ReasoningEffort
	ReasoningBudget *int

	ParallelToolCalls *bool
}

// CompletionResult is one complete (non-streaming) adapter response.
type CompletionResult struct {
	Output []domain.ContentPart
	Usage  domain.LLMUsage

	// IncursCost mirrors domain.RunError.IncursCost for the success path.
	IncursCost bool
}

// CompletionChunk is one increment of a streamed adapter response.
//
// Delta carries only what changed since the previous chunk; Aggregate
// carries the full accumulated output so far. Both are always populated,
// letting callers pick whichever model fits without the adapter tracking
// two code paths.
type CompletionChunk struct {
	Delta     []domain.ContentPart
	Aggregate []domain.ContentPart

	Done  bool
	Usage domain.LLMUsage
	Error error
}
