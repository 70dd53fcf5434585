package providers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Mistral, Fireworks, and Groq all expose OpenAI-compatible chat
// completion endpoints, so each gets an OpenAIAdapter pointed at its own
// base URL plus the vendor's quirks. Credentials and base-URL overrides
// come from internal/config.

// NewMistralAdapter builds the adapter for api.mistral.ai.
func NewMistralAdapter(apiKey, baseURL string) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = "https://api.mistral.ai/v1"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(cfg),
		name:         "mistral",
		maxRetries:   3,
		retryDelay:   time.Second,
		defaultModel: "mistral-large-latest",
		supportsModel: func(modelID string) bool {
			return hasAnyPrefix(modelID, "mistral-", "magistral-", "codestral-", "pixtral-", "ministral-", "open-mistral", "open-mixtral")
		},
		// Mistral rejects requests that combine tools with a JSON response
		// format; tools win and the runner's instruction-based JSON prompt
		// covers the schema instead.
		adjustRequest: func(r *openai.ChatCompletionRequest) {
			if len(r.Tools) > 0 {
				r.ResponseFormat = nil
			}
		},
	}
}

// NewGroqAdapter builds the adapter for api.groq.com.
func NewGroqAdapter(apiKey, baseURL string) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(cfg),
		name:         "groq",
		maxRetries:   3,
		retryDelay:   time.Second,
		defaultModel: "llama-3.3-70b-versatile",
		supportsModel: func(modelID string) bool {
			return hasAnyPrefix(modelID, "llama-", "llama3-", "mixtral-", "gemma2-", "qwen-", "deepseek-r1-distill-")
		},
	}
}

// NewFireworksAdapter builds the adapter for api.fireworks.ai. Fireworks
// requires context_length_exceeded_behavior=truncate on every request, a
// field the shared client does not model, so it is injected by a body
// rewriting transport.
func NewFireworksAdapter(apiKey, baseURL string) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = "https://api.fireworks.ai/inference/v1"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{
		Transport: &fireworksTransport{base: http.DefaultTransport},
	}

	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(cfg),
		name:         "fireworks",
		maxRetries:   3,
		retryDelay:   time.Second,
		defaultModel: "accounts/fireworks/models/llama-v3p3-70b-instruct",
		supportsModel: func(modelID string) bool {
			return strings.HasPrefix(modelID, "accounts/fireworks/models/")
		},
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// fireworksTransport injects context_length_exceeded_behavior into every
// chat-completions body so over-long prompts are truncated server-side
// instead of failing the whole request.
type fireworksTransport struct {
	base http.RoundTripper
}

func (t *fireworksTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost && req.Body != nil && strings.HasSuffix(req.URL.Path, "/chat/completions") {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err == nil {
			if _, exists := body["context_length_exceeded_behavior"]; !exists {
				body["context_length_exceeded_behavior"] = "truncate"
				if rewritten, err := json.Marshal(body); err == nil {
					raw = rewritten
				}
			}
		}
		req.Body = io.NopCloser(bytes.NewReader(raw))
		req.ContentLength = int64(len(raw))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(raw)), nil
		}
	}
	return t.base.RoundTrip(req)
}
