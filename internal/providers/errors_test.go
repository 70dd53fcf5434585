package providers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/anotherai/gateway/internal/domain"
)

func TestClassifyErrorPatterns(t *testing.T) {
	cases := []struct {
		msg  string
		want FailoverReason
	}{
		{"request timed out: context deadline exceeded", FailoverTimeout},
		{"429 too many requests", FailoverRateLimit},
		{"invalid api key provided", FailoverAuth},
		{"insufficient quota for this billing period", FailoverBilling},
		{"output blocked by content_filter", FailoverContentFilter},
		{"model not found: gpt-99", FailoverModelUnavailable},
		{"upstream returned 503 service unavailable", FailoverServerError},
		{"something inscrutable", FailoverUnknown},
		// Gateway-specific signals, phrased the way each vendor phrases them.
		{"prompt is too long: 215037 tokens > 200000 maximum", FailoverMaxTokens},
		{"This model's maximum context length is 128000 tokens (context_length_exceeded)", FailoverMaxTokens},
		{"Input is too long for requested model.", FailoverMaxTokens},
		{"Invalid schema for response_format 'output'", FailoverStructuredOutput},
		{"The response_schema field is not supported for this request", FailoverStructuredOutput},
		{"Unsupported parameter: 'tools' is not supported with this model.", FailoverUnsupportedMode},
		{"this model does not support function calling", FailoverUnsupportedMode},
		{"MALFORMED_FUNCTION_CALL: the model produced a malformed function call", FailoverBadGeneration},
		{"Timeout while downloading https://example.com/a.png: error while downloading file", FailoverInvalidFile},
		{"Could not process image: invalid base64 payload", FailoverInvalidFile},
		{"The prompt triggered Azure OpenAI's content management policy", FailoverContentFilter},
	}
	for _, tc := range cases {
		if got := ClassifyError(errors.New(tc.msg)); got != tc.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestProviderErrorStatusClassification(t *testing.T) {
	err := NewProviderError("openai", "gpt-4.1", errors.New("boom")).WithStatus(http.StatusTooManyRequests)
	if err.Reason != FailoverRateLimit {
		t.Errorf("reason = %s", err.Reason)
	}
	if !err.Reason.IsRetryable() {
		t.Error("rate limit should be retryable")
	}

	err = NewProviderError("openai", "gpt-4.1", errors.New("boom")).WithStatus(http.StatusBadRequest)
	if err.Reason != FailoverInvalidRequest {
		t.Errorf("reason = %s", err.Reason)
	}
	if err.Reason.IsRetryable() {
		t.Error("bad request should not be retryable")
	}
}

func TestStructuredGenerationRejectionClassifies(t *testing.T) {
	// The wire shape OpenAI uses for a rejected response_format:
	// {"error":{"code":"invalid_request_error","param":"response_format",
	//  "message":"Invalid schema"}}
	providerErr := (&ProviderError{Provider: "openai", Model: "gpt-4.1", Reason: FailoverUnknown}).
		WithStatus(http.StatusBadRequest).
		WithCode("invalid_request_error").
		WithMessage("Invalid schema").
		WithParam("response_format")

	if providerErr.Reason != FailoverStructuredOutput {
		t.Fatalf("reason = %s, want structured_output", providerErr.Reason)
	}
	if got := providerErr.ToRunError().Kind; got != domain.KindStructuredGeneration {
		t.Errorf("kind = %s, want structured_generation_error", got)
	}
}

func TestBlamedToolsParamMeansUnsupportedMode(t *testing.T) {
	providerErr := (&ProviderError{Provider: "openai", Model: "o1-mini", Reason: FailoverUnknown}).
		WithStatus(http.StatusBadRequest).
		WithCode("invalid_request_error").
		WithMessage("Unsupported parameter: 'tools' is not supported with this model.").
		WithParam("tools")

	if providerErr.Reason != FailoverUnsupportedMode {
		t.Fatalf("reason = %s", providerErr.Reason)
	}
	if got := providerErr.ToRunError().Kind; got != domain.KindModelDoesNotSupport {
		t.Errorf("kind = %s", got)
	}
}

func TestSpecificReasonSurvivesStatusAndCode(t *testing.T) {
	// A 400 whose message pins a token overflow must not degrade to a
	// generic bad request.
	providerErr := (&ProviderError{Provider: "anthropic", Model: "claude-3-5-haiku-20241022", Reason: FailoverUnknown}).
		WithMessage("prompt is too long: 215037 tokens > 200000 maximum").
		WithStatus(http.StatusBadRequest)

	if providerErr.Reason != FailoverMaxTokens {
		t.Fatalf("reason = %s, want max_tokens", providerErr.Reason)
	}
	if got := providerErr.ToRunError().Kind; got != domain.KindMaxTokensExceeded {
		t.Errorf("kind = %s", got)
	}
}

func TestFailoverReasonKindMapping(t *testing.T) {
	cases := []struct {
		reason FailoverReason
		want   domain.ErrorKind
	}{
		{FailoverRateLimit, domain.KindRateLimit},
		{FailoverTimeout, domain.KindTimeout},
		{FailoverServerError, domain.KindProviderUnavailable},
		{FailoverInvalidRequest, domain.KindBadRequest},
		{FailoverModelUnavailable, domain.KindMissingModel},
		{FailoverContentFilter, domain.KindContentModeration},
		{FailoverMaxTokens, domain.KindMaxTokensExceeded},
		{FailoverStructuredOutput, domain.KindStructuredGeneration},
		{FailoverUnsupportedMode, domain.KindModelDoesNotSupport},
		{FailoverInvalidFile, domain.KindInvalidFile},
		{FailoverBadGeneration, domain.KindInvalidGeneration},
		{FailoverBanned, domain.KindTaskBanned},
		{FailoverAuth, domain.KindInvalidProviderConfig},
		{FailoverUnknown, domain.KindInternalError},
	}
	for _, tc := range cases {
		if got := tc.reason.Kind(); got != tc.want {
			t.Errorf("%s.Kind() = %s, want %s", tc.reason, got, tc.want)
		}
	}
}

func TestToRunErrorPreservesContext(t *testing.T) {
	providerErr := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("overloaded")).
		WithStatus(http.StatusServiceUnavailable).
		WithMessage("Overloaded")

	runErr := providerErr.ToRunError()
	if runErr.Kind != domain.KindProviderUnavailable {
		t.Errorf("kind = %s", runErr.Kind)
	}
	if runErr.Provider != "anthropic" || runErr.Model != "claude-sonnet-4-20250514" {
		t.Errorf("context = %s/%s", runErr.Provider, runErr.Model)
	}
	var pe *ProviderError
	if !errors.As(runErr, &pe) {
		t.Error("underlying ProviderError lost from the chain")
	}
}

func TestErrorCodeClassification(t *testing.T) {
	err := (&ProviderError{Provider: "openai", Reason: FailoverUnknown}).WithCode("insufficient_quota")
	if err.Reason != FailoverBilling {
		t.Errorf("reason = %s", err.Reason)
	}
	// Unknown codes leave the reason alone.
	err = (&ProviderError{Provider: "openai", Reason: FailoverServerError}).WithCode("weird_new_code")
	if err.Reason != FailoverServerError {
		t.Errorf("reason = %s", err.Reason)
	}
}
