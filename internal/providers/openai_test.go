package providers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/anotherai/gateway/internal/domain"
)

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestBuildRequestParameters(t *testing.T) {
	p := NewOpenAIAdapter("sk-test")
	req := &CompletionRequest{
		Model: "gpt-4.1",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: []domain.ContentPart{domain.NewTextPart("be brief")}},
			{Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("hi")}},
		},
		MaxOutputTokens: intPtr(256),
		Temperature:     floatPtr(0.7),
		TopP:            floatPtr(0.9),
	}

	chatReq, err := p.buildRequest(req, "gpt-4.1")
	if err != nil {
		t.Fatal(err)
	}
	if chatReq.Model != "gpt-4.1" || chatReq.MaxCompletionTokens != 256 {
		t.Errorf("chatReq = %+v", chatReq)
	}
	if len(chatReq.Messages) != 2 || chatReq.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("messages = %+v", chatReq.Messages)
	}
	if chatReq.Temperature != 0.7 {
		t.Errorf("temperature = %v", chatReq.Temperature)
	}
}

func TestBuildRequestResponseFormat(t *testing.T) {
	p := NewOpenAIAdapter("sk-test")
	schemaBytes := []byte(`{"type":"object","properties":{"x":{"type":"integer"}}}`)
	base := CompletionRequest{
		Model: "gpt-4.1",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("x?")}},
		},
		OutputSchema: schemaBytes,
	}

	structured := base
	structured.StructuredGeneration = true
	chatReq, err := p.buildRequest(&structured, "gpt-4.1")
	if err != nil {
		t.Fatal(err)
	}
	if chatReq.ResponseFormat == nil || chatReq.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONSchema {
		t.Errorf("structured format = %+v", chatReq.ResponseFormat)
	}

	plain := base
	chatReq, err = p.buildRequest(&plain, "gpt-4.1")
	if err != nil {
		t.Fatal(err)
	}
	if chatReq.ResponseFormat == nil || chatReq.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Errorf("schema-off format = %+v", chatReq.ResponseFormat)
	}
}

func TestBuildRequestToolMessages(t *testing.T) {
	p := NewOpenAIAdapter("sk-test")
	req := &CompletionRequest{
		Model: "gpt-4.1",
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Content: []domain.ContentPart{
				domain.NewToolCallRequestPart(&domain.ToolCallRequest{
					ID:    "call-1",
					Name:  "@search",
					Input: json.RawMessage(`{"q":"go"}`),
				}),
			}},
			{Role: domain.RoleTool, Content: []domain.ContentPart{
				domain.NewToolCallResultPart(&domain.ToolCallResult{
					ID:     "call-1",
					Result: json.RawMessage(`{"hits":3}`),
				}),
			}},
		},
	}

	chatReq, err := p.buildRequest(req, "gpt-4.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chatReq.Messages) != 2 {
		t.Fatalf("messages = %+v", chatReq.Messages)
	}
	if len(chatReq.Messages[0].ToolCalls) != 1 || chatReq.Messages[0].ToolCalls[0].Function.Name != "search" {
		t.Errorf("tool call = %+v", chatReq.Messages[0].ToolCalls)
	}
	if chatReq.Messages[1].Role != openai.ChatMessageRoleTool || chatReq.Messages[1].ToolCallID != "call-1" {
		t.Errorf("tool result = %+v", chatReq.Messages[1])
	}
}

func TestMistralAdapterDropsResponseFormatWithTools(t *testing.T) {
	p := NewMistralAdapter("key", "")
	req := &CompletionRequest{
		Model: "mistral-large-latest",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("x?")}},
		},
		Tools: []domain.Tool{{
			Name:        "lookup",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		}},
		OutputSchema:         []byte(`{"type":"object"}`),
		StructuredGeneration: false,
	}

	chatReq, err := p.buildRequest(req, "mistral-large-latest")
	if err != nil {
		t.Fatal(err)
	}
	if chatReq.ResponseFormat != nil {
		t.Error("mistral must not combine tools with a response format")
	}
	if len(chatReq.Tools) != 1 {
		t.Errorf("tools = %+v", chatReq.Tools)
	}
}

func TestCompatAdapterModelSupport(t *testing.T) {
	mistral := NewMistralAdapter("k", "")
	groq := NewGroqAdapter("k", "")
	fireworks := NewFireworksAdapter("k", "")

	if !mistral.SupportsModel("mistral-large-latest") || mistral.SupportsModel("gpt-4.1") {
		t.Error("mistral model matching broken")
	}
	if !groq.SupportsModel("llama-3.3-70b-versatile") || groq.SupportsModel("claude-3") {
		t.Error("groq model matching broken")
	}
	if !fireworks.SupportsModel("accounts/fireworks/models/llama-v3p3-70b-instruct") || fireworks.SupportsModel("llama-3.3-70b") {
		t.Error("fireworks model matching broken")
	}
}

// roundTripFunc lets a test intercept the transport.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFireworksTransportInjectsTruncation(t *testing.T) {
	var captured []byte
	inner := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured, _ = io.ReadAll(r.Body)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("{}")),
			Header:     http.Header{},
		}, nil
	})
	transport := &fireworksTransport{base: inner}

	body := []byte(`{"model":"accounts/fireworks/models/llama-v3p3-70b-instruct","messages":[]}`)
	req, _ := http.NewRequest(http.MethodPost, "https://api.fireworks.ai/inference/v1/chat/completions", bytes.NewReader(body))
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(captured, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["context_length_exceeded_behavior"] != "truncate" {
		t.Errorf("body = %s", captured)
	}

	// Non-completions paths pass through untouched.
	other, _ := http.NewRequest(http.MethodPost, "https://api.fireworks.ai/inference/v1/models", bytes.NewReader(body))
	if _, err := transport.RoundTrip(other); err != nil {
		t.Fatal(err)
	}
	var passthrough map[string]any
	if err := json.Unmarshal(captured, &passthrough); err != nil {
		t.Fatal(err)
	}
	if _, has := passthrough["context_length_exceeded_behavior"]; has {
		t.Error("non-completions body was rewritten")
	}
}
