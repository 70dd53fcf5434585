package domain

import "fmt"

// ErrorKind is the canonical error taxonomy. Every adapter classifies its
// raw HTTP/SDK failures into one of these; the retry pipeline matches
// only on Kind, never on adapter-specific error types.
type ErrorKind string

const (
	KindRateLimit            ErrorKind = "rate_limit"
	KindProviderInternal     ErrorKind = "provider_internal_error"
	KindProviderUnavailable  ErrorKind = "provider_unavailable"
	KindReadTimeout          ErrorKind = "read_timeout"
	KindTimeout              ErrorKind = "timeout"
	KindMaxTokensExceeded    ErrorKind = "max_tokens_exceeded"
	KindStructuredGeneration ErrorKind = "structured_generation_error"
	KindInvalidGeneration    ErrorKind = "invalid_generation"
	KindFailedGeneration     ErrorKind = "failed_generation"
	KindContentModeration    ErrorKind = "content_moderation"
	KindTaskBanned           ErrorKind = "task_banned"
	KindInvalidFile          ErrorKind = "invalid_file"
	KindBadRequest           ErrorKind = "bad_request"
	KindModelDoesNotSupport  ErrorKind = "model_does_not_support_mode"
	KindMissingModel         ErrorKind = "missing_model"
	KindNoProviderSupporting ErrorKind = "no_provider_supporting_model"
	KindInvalidProviderConfig ErrorKind = "invalid_provider_config"
	KindMaxToolCallIteration ErrorKind = "max_tool_call_iteration"
	KindAgentRunFailed       ErrorKind = "agent_run_failed"
	KindInternalError        ErrorKind = "internal_error"
	KindUnpriceableRun       ErrorKind = "unpriceable_run"
)

// ErrorSpec is the static policy attached to an ErrorKind: whether the
// pipeline should capture/log it, whether it is ever retryable, and what
// the default retry ceiling is for that kind on the same provider.
type ErrorSpec struct {
	StatusCode             int
	Capture                bool
	Retryable              bool
	MaxAttemptCount        int
	AddExceptionToMessages bool
}

var errorSpecs = map[ErrorKind]ErrorSpec{
	KindRateLimit:             {StatusCode: 429, Capture: true, Retryable: true, MaxAttemptCount: 3},
	KindProviderInternal:      {StatusCode: 500, Capture: true, Retryable: true, MaxAttemptCount: 2},
	KindProviderUnavailable:   {StatusCode: 503, Capture: true, Retryable: true, MaxAttemptCount: 2},
	KindReadTimeout:           {StatusCode: 504, Capture: true, Retryable: true, MaxAttemptCount: 2},
	KindTimeout:               {StatusCode: 504, Capture: true, Retryable: true, MaxAttemptCount: 2},
	KindMaxTokensExceeded:     {StatusCode: 400, Capture: true, Retryable: false},
	KindStructuredGeneration:  {StatusCode: 400, Capture: true, Retryable: true, MaxAttemptCount: 1, AddExceptionToMessages: true},
	KindInvalidGeneration:     {StatusCode: 400, Capture: true, Retryable: true, MaxAttemptCount: 1, AddExceptionToMessages: true},
	KindFailedGeneration:      {StatusCode: 400, Capture: true, Retryable: true, MaxAttemptCount: 1, AddExceptionToMessages: true},
	KindContentModeration:     {StatusCode: 400, Capture: true, Retryable: false},
	KindTaskBanned:            {StatusCode: 403, Capture: true, Retryable: false},
	KindInvalidFile:           {StatusCode: 400, Capture: true, Retryable: false},
	KindBadRequest:            {StatusCode: 400, Capture: true, Retryable: false},
	KindModelDoesNotSupport:   {StatusCode: 400, Capture: true, Retryable: false},
	KindMissingModel:          {StatusCode: 404, Capture: true, Retryable: false},
	KindNoProviderSupporting:  {StatusCode: 404, Capture: true, Retryable: false},
	KindInvalidProviderConfig: {StatusCode: 500, Capture: true, Retryable: false},
	KindMaxToolCallIteration:  {StatusCode: 400, Capture: true, Retryable: false},
	KindAgentRunFailed:        {StatusCode: 500, Capture: true, Retryable: false},
	KindInternalError:         {StatusCode: 500, Capture: true, Retryable: false},
	KindUnpriceableRun:        {StatusCode: 200, Capture: false, Retryable: false},
}

// Spec returns the static policy for k, defaulting to a non-retryable,
// captured internal error if k is somehow unregistered.
func (k ErrorKind) Spec() ErrorSpec {
	if s, ok := errorSpecs[k]; ok {
		return s
	}
	return ErrorSpec{StatusCode: 500, Capture: true, Retryable: false}
}

// RunError is the structured error propagated from an adapter through the
// pipeline to the runner. It enriches the classified ErrorKind with the
// provider/model/config context needed for retry decisions and for
// surfacing the first recorded error to the caller.
type RunError struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Message  string
	Details  map[string]any

	// IncursCost is true when the provider billed for this failed attempt
	// (e.g. HTTP 200 with an error payload). When false the cost engine
	// forces the attempt's cost to 0.
	IncursCost bool

	// Cause is the underlying error (HTTP client error, JSON decode error, …).
	Cause error
}

func (e *RunError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s/%s: %s", e.Kind, e.Provider, e.Model, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s/%s: %s", e.Kind, e.Provider, e.Model, e.Cause.Error())
	}
	return fmt.Sprintf("[%s] %s/%s", e.Kind, e.Provider, e.Model)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether this specific error may be retried on the same
// provider, per its kind's static spec.
func (e *RunError) Retryable() bool {
	return e.Kind.Spec().Retryable
}

// NewRunError builds a RunError from a classified kind and underlying cause.
func NewRunError(kind ErrorKind, provider, model string, cause error) *RunError {
	return &RunError{Kind: kind, Provider: provider, Model: model, Cause: cause}
}
