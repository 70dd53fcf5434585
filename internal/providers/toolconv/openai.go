package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/anotherai/gateway/internal/domain"
)

// ToOpenAITools converts neutral tool definitions to OpenAI function schema.
// The same shape serves Azure OpenAI and the OpenAI-compatible vendors
// (Mistral, Fireworks, Groq).
func ToOpenAITools(tools []domain.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        WireName(tool.Name),
				Description: tool.Description,
				Parameters:  schemaMap,
				Strict:      tool.Strict,
			},
		}
	}
	return result
}

// ToOpenAIToolChoice converts a neutral tool choice to the value the
// chat-completions API expects.
func ToOpenAIToolChoice(choice domain.ToolChoice) any {
	switch choice.Mode {
	case domain.ToolChoiceRequired:
		return "required"
	case domain.ToolChoiceNone:
		return "none"
	case domain.ToolChoiceFunction:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: WireName(choice.FunctionName)},
		}
	default:
		return "auto"
	}
}
