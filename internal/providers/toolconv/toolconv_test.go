package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/anotherai/gateway/internal/domain"
)

func sampleTool(name string) domain.Tool {
	return domain.Tool{
		Name:        name,
		Description: "look things up",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	}
}

func TestWireNameStripsHostedPrefix(t *testing.T) {
	if got := WireName("@search"); got != "search" {
		t.Fatalf("WireName(@search) = %q, want search", got)
	}
	if got := WireName("search"); got != "search" {
		t.Fatalf("WireName(search) = %q, want search", got)
	}
}

func TestNameMapRoundTrip(t *testing.T) {
	tools := []domain.Tool{sampleTool("@search"), sampleTool("calculate")}
	m := NameMap(tools)

	if got := InternalName(m, "search"); got != "@search" {
		t.Fatalf("InternalName(search) = %q, want @search", got)
	}
	if got := InternalName(m, "calculate"); got != "calculate" {
		t.Fatalf("InternalName(calculate) = %q, want calculate", got)
	}
	if got := InternalName(m, "unknown"); got != "unknown" {
		t.Fatalf("InternalName(unknown) = %q, want pass-through", got)
	}
}

func TestToOpenAITools(t *testing.T) {
	tools := ToOpenAITools([]domain.Tool{sampleTool("@search")})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if tools[0].Function.Name != "search" {
		t.Errorf("wire name = %q, want search", tools[0].Function.Name)
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters not a map: %T", tools[0].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("schema type = %v, want object", params["type"])
	}
}

func TestToBedrockTools(t *testing.T) {
	cfg := ToBedrockTools([]domain.Tool{sampleTool("@search")})
	if cfg == nil || len(cfg.Tools) != 1 {
		t.Fatalf("expected 1 bedrock tool")
	}
}

func TestToGeminiSchemaNested(t *testing.T) {
	schema := ToGeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"tags"},
	})
	if schema.Type != "OBJECT" {
		t.Errorf("type = %q, want OBJECT", schema.Type)
	}
	tags := schema.Properties["tags"]
	if tags == nil || tags.Type != "ARRAY" || tags.Items == nil || tags.Items.Type != "STRING" {
		t.Errorf("nested array schema not converted: %+v", tags)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "tags" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestToAnthropicToolsRejectsBadSchema(t *testing.T) {
	_, err := ToAnthropicTools([]domain.Tool{{
		Name:        "broken",
		InputSchema: json.RawMessage(`{not json`),
	}})
	if err == nil {
		t.Fatal("expected error for malformed schema")
	}
}
