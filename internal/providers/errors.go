package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anotherai/gateway/internal/domain"
)

// FailoverReason is the adapter-local classification of a provider
// failure, derived from status codes, vendor error codes/params, and the
// message phrasing each vendor actually uses. Each reason maps onto a
// domain.ErrorKind via Kind() for the retry pipeline.
type FailoverReason string

const (
	// FailoverBilling indicates payment/quota issues (HTTP 402)
	FailoverBilling FailoverReason = "billing"

	// FailoverRateLimit indicates rate limiting (HTTP 429)
	FailoverRateLimit FailoverReason = "rate_limit"

	// FailoverAuth indicates authentication failure (HTTP 401, 403)
	FailoverAuth FailoverReason = "auth"

	// FailoverTimeout indicates request timeout
	FailoverTimeout FailoverReason = "timeout"

	// FailoverServerError indicates server-side issues (HTTP 5xx)
	FailoverServerError FailoverReason = "server_error"

	// FailoverInvalidRequest indicates client-side issues (HTTP 400)
	FailoverInvalidRequest FailoverReason = "invalid_request"

	// FailoverModelUnavailable indicates the model is not available
	FailoverModelUnavailable FailoverReason = "model_unavailable"

	// FailoverContentFilter indicates content was blocked by safety filters
	FailoverContentFilter FailoverReason = "content_filter"

	// FailoverMaxTokens indicates the prompt or response exceeded the
	// model's token limits ("prompt is too long", context_length_exceeded)
	FailoverMaxTokens FailoverReason = "max_tokens"

	// FailoverStructuredOutput indicates the provider rejected the
	// structured-generation request itself (bad response_format / schema)
	FailoverStructuredOutput FailoverReason = "structured_output"

	// FailoverUnsupportedMode indicates the model rejected a request
	// feature (tools, response_format, penalties) it does not support
	FailoverUnsupportedMode FailoverReason = "unsupported_mode"

	// FailoverInvalidFile indicates a file the provider could not consume
	// (unreachable URL, broken base64, MIME mismatch)
	FailoverInvalidFile FailoverReason = "invalid_file"

	// FailoverBadGeneration indicates the model produced output the
	// provider itself flagged as malformed (e.g. a malformed function call)
	FailoverBadGeneration FailoverReason = "bad_generation"

	// FailoverBanned indicates the provider banned this task/organization
	FailoverBanned FailoverReason = "banned"

	// FailoverUnknown indicates an unclassified error
	FailoverUnknown FailoverReason = "unknown"
)

// IsRetryable returns true if the failover reason suggests retrying on the
// same provider may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover returns true if the error warrants trying a different
// provider/model.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case FailoverBilling, FailoverAuth, FailoverModelUnavailable, FailoverUnsupportedMode:
		return true
	default:
		return false
	}
}

// ProviderError represents a structured error from an LLM provider.
// It captures context needed for retry logic, failover decisions, and debugging.
type ProviderError struct {
	// Reason categorizes the error for retry/failover logic
	Reason FailoverReason

	// Provider is the name of the provider (e.g., "anthropic", "openai")
	Provider string

	// Model is the model that was requested
	Model string

	// Status is the HTTP status code, if applicable
	Status int

	// Code is the provider-specific error code
	Code string

	// Param is the request parameter the provider blamed, if any
	// (e.g. OpenAI's error.param == "response_format")
	Param string

	// Message is the human-readable error message
	Message string

	// RequestID is the provider's request ID for debugging
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}

	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new ProviderError with the given parameters.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailoverUnknown,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}

	return err
}

// WithStatus adds HTTP status to the error. The status only reclassifies
// when the message/code/param did not already pin a more specific reason:
// a "prompt is too long" 400 stays a token-limit error, not a generic
// invalid request.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	statusReason := classifyStatusCode(status)
	if statusReason == FailoverUnknown || isSpecificReason(e.Reason) {
		return e
	}
	e.Reason = statusReason
	return e
}

// isSpecificReason flags reasons derived from the body's code/param/
// phrasing; they always beat the coarse status buckets.
func isSpecificReason(r FailoverReason) bool {
	switch r {
	case FailoverMaxTokens, FailoverStructuredOutput, FailoverUnsupportedMode,
		FailoverInvalidFile, FailoverContentFilter, FailoverBadGeneration, FailoverBanned:
		return true
	}
	return false
}

// WithCode adds a provider-specific error code. A generic code never
// downgrades a specific reason already derived from the message or param.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	reason := classifyErrorCode(code)
	if reason == FailoverUnknown {
		return e
	}
	if reason == FailoverInvalidRequest && isSpecificReason(e.Reason) {
		return e
	}
	e.Reason = reason
	return e
}

// WithParam records the request parameter the provider blamed. A blamed
// response_format is the canonical structured-generation rejection, and a
// blamed tools/tool_choice parameter means the model lacks the mode.
func (e *ProviderError) WithParam(param string) *ProviderError {
	e.Param = param
	switch param {
	case "response_format", "response_format.json_schema", "response_schema", "response_mime_type":
		e.Reason = FailoverStructuredOutput
	case "tools", "tool_choice", "parallel_tool_calls", "functions":
		e.Reason = FailoverUnsupportedMode
	}
	return e
}

// WithRequestID adds the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message and refines the classification from
// its phrasing when the code/param did not already pin a specific reason.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	if isSpecificReason(e.Reason) {
		return e
	}
	if reason := classifyMessage(msg); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// ClassifyError inspects an error and returns the appropriate FailoverReason.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	if reason := classifyMessage(err.Error()); reason != FailoverUnknown {
		return reason
	}
	return FailoverUnknown
}

// classifyMessage matches the phrasings providers actually put in error
// bodies. Checks run most-specific first so a "context length" message is
// never swallowed by the generic 4xx patterns.
func classifyMessage(msg string) FailoverReason {
	m := strings.ToLower(msg)

	// Token-limit phrasings: OpenAI context_length_exceeded, Anthropic
	// "prompt is too long", Bedrock "input is too long", Google
	// "exceeds the maximum number of tokens", oversized images.
	if strings.Contains(m, "context_length_exceeded") ||
		strings.Contains(m, "context length") ||
		strings.Contains(m, "prompt is too long") ||
		strings.Contains(m, "input is too long") ||
		strings.Contains(m, "string_above_max_length") ||
		strings.Contains(m, "maximum number of tokens") ||
		strings.Contains(m, "image exceeds") {
		return FailoverMaxTokens
	}

	// Structured-generation rejections: bad json_schema, invalid response
	// format, Google response-schema complaints.
	if strings.Contains(m, "response_format") ||
		strings.Contains(m, "response format") ||
		strings.Contains(m, "json_schema") ||
		strings.Contains(m, "invalid schema") ||
		strings.Contains(m, "response_schema") ||
		strings.Contains(m, "response schema") ||
		strings.Contains(m, "response_mime_type") {
		return FailoverStructuredOutput
	}

	// Capability rejections: "Unsupported parameter: 'tools'", "does not
	// support function calling", "model does not support".
	if strings.Contains(m, "unsupported parameter") ||
		strings.Contains(m, "unsupported value") ||
		strings.Contains(m, "does not support") ||
		strings.Contains(m, "not supported with this model") {
		return FailoverUnsupportedMode
	}

	// Provider-flagged malformed generations (Google's
	// MALFORMED_FUNCTION_CALL finish, "failed to generate").
	if strings.Contains(m, "malformed function call") ||
		strings.Contains(m, "malformed_function_call") ||
		strings.Contains(m, "failed to generate") {
		return FailoverBadGeneration
	}

	// File problems: unreachable URLs, broken base64, MIME mismatches.
	if strings.Contains(m, "could not process image") ||
		strings.Contains(m, "invalid base64") ||
		strings.Contains(m, "could not fetch") ||
		strings.Contains(m, "error while downloading") ||
		strings.Contains(m, "unsupported image") ||
		strings.Contains(m, "invalid_image") ||
		strings.Contains(m, "media type") && strings.Contains(m, "does not match") {
		return FailoverInvalidFile
	}

	// Moderation: OpenAI/Azure content policy, Google safety blocks,
	// Anthropic "violated AI practices" family.
	if strings.Contains(m, "content_filter") ||
		strings.Contains(m, "content policy") ||
		strings.Contains(m, "content management policy") ||
		strings.Contains(m, "violated ai practices") ||
		strings.Contains(m, "safety") ||
		strings.Contains(m, "blocked") {
		return FailoverContentFilter
	}

	if strings.Contains(m, "has been banned") ||
		strings.Contains(m, "organization has been disabled") {
		return FailoverBanned
	}

	// Transient classes.
	if strings.Contains(m, "timeout") ||
		strings.Contains(m, "deadline exceeded") ||
		strings.Contains(m, "context deadline") ||
		strings.Contains(m, "etimedout") {
		return FailoverTimeout
	}
	if strings.Contains(m, "rate limit") ||
		strings.Contains(m, "rate_limit") ||
		strings.Contains(m, "too many requests") ||
		strings.Contains(m, "resource exhausted") ||
		strings.Contains(m, "429") {
		return FailoverRateLimit
	}
	if strings.Contains(m, "unauthorized") ||
		strings.Contains(m, "invalid api key") ||
		strings.Contains(m, "invalid_api_key") ||
		strings.Contains(m, "authentication") ||
		strings.Contains(m, "401") ||
		strings.Contains(m, "403") {
		return FailoverAuth
	}
	if strings.Contains(m, "billing") ||
		strings.Contains(m, "payment") ||
		strings.Contains(m, "quota") ||
		strings.Contains(m, "insufficient") ||
		strings.Contains(m, "402") {
		return FailoverBilling
	}
	if strings.Contains(m, "overloaded") ||
		strings.Contains(m, "internal server") ||
		strings.Contains(m, "server error") ||
		strings.Contains(m, "service unavailable") ||
		strings.Contains(m, "500") ||
		strings.Contains(m, "502") ||
		strings.Contains(m, "503") ||
		strings.Contains(m, "504") {
		return FailoverServerError
	}
	if strings.Contains(m, "model not found") ||
		strings.Contains(m, "model_not_found") ||
		strings.Contains(m, "does not exist") ||
		strings.Contains(m, "is not deployed") ||
		strings.Contains(m, "unavailable") {
		return FailoverModelUnavailable
	}

	return FailoverUnknown
}

// classifyStatusCode returns a FailoverReason based on HTTP status code.
func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status == http.StatusRequestEntityTooLarge:
		return FailoverMaxTokens
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

// classifyErrorCode returns a FailoverReason based on provider-specific
// error codes.
func classifyErrorCode(code string) FailoverReason {
	code = strings.ToLower(code)

	switch code {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailoverRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return FailoverAuth
	case "billing_error", "insufficient_quota":
		return FailoverBilling
	case "model_not_found", "model_not_available":
		return FailoverModelUnavailable
	case "content_policy_violation", "content_filter":
		return FailoverContentFilter
	case "server_error", "internal_error", "overloaded_error":
		return FailoverServerError
	case "context_length_exceeded", "string_above_max_length", "max_tokens_exceeded":
		return FailoverMaxTokens
	case "json_schema_invalid", "invalid_response_format":
		return FailoverStructuredOutput
	case "unsupported_parameter", "unsupported_value":
		return FailoverUnsupportedMode
	case "invalid_image", "invalid_image_url", "invalid_file":
		return FailoverInvalidFile
	case "invalid_request_error":
		// Too generic on its own; the param/message usually narrows it
		// (see WithParam/WithMessage), so only fall back to it here.
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// Kind maps this adapter-local failover classification onto the shared
// domain.ErrorKind taxonomy the pipeline and runner reason about.
func (r FailoverReason) Kind() domain.ErrorKind {
	switch r {
	case FailoverRateLimit:
		return domain.KindRateLimit
	case FailoverTimeout:
		return domain.KindTimeout
	case FailoverServerError:
		return domain.KindProviderUnavailable
	case FailoverInvalidRequest:
		return domain.KindBadRequest
	case FailoverModelUnavailable:
		return domain.KindMissingModel
	case FailoverContentFilter:
		return domain.KindContentModeration
	case FailoverMaxTokens:
		return domain.KindMaxTokensExceeded
	case FailoverStructuredOutput:
		return domain.KindStructuredGeneration
	case FailoverUnsupportedMode:
		return domain.KindModelDoesNotSupport
	case FailoverInvalidFile:
		return domain.KindInvalidFile
	case FailoverBadGeneration:
		return domain.KindInvalidGeneration
	case FailoverBanned:
		return domain.KindTaskBanned
	case FailoverBilling, FailoverAuth:
		return domain.KindInvalidProviderConfig
	default:
		return domain.KindInternalError
	}
}

// ToRunError converts a classified ProviderError into the domain.RunError
// the pipeline consumes, preserving the underlying cause for logging.
func (e *ProviderError) ToRunError() *domain.RunError {
	return &domain.RunError{
		Kind:     e.Reason.Kind(),
		Provider: e.Provider,
		Model:    e.Model,
		Message:  e.Message,
		Cause:    e,
	}
}

// IsProviderError checks if an error is a ProviderError.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// ShouldFailover checks if an error warrants trying a different provider.
func ShouldFailover(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.ShouldFailover()
	}
	return ClassifyError(err).ShouldFailover()
}
