package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/providers/toolconv"
	"github.com/anotherai/gateway/internal/retry"
)

// OpenAIAdapter implements Adapter for OpenAI's Chat Completions API. The
// same struct, parameterized by name/client/model-prefix, backs the Azure
// OpenAI adapter (azure.go) and the Mistral/Fireworks/Groq adapter
// (openaicompat.go), since all four speak the same wire format.
type OpenAIAdapter struct {
	client       *openai.Client
	name         string
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string

	// supportsModel overrides the default gpt-/o-series prefix check for
	// vendors (compat, azure) whose model ids don't follow OpenAI's naming.
	supportsModel func(modelID string) bool

	// adjustRequest, when set, is applied to the finished request body for
	// vendor quirks that don't fit the shared build path (see openaicompat.go).
	adjustRequest func(*openai.ChatCompletionRequest)
}

// NewOpenAIAdapter builds an OpenAIAdapter for the default api.openai.com
// endpoint. Mistral, Fireworks and Groq get their own constructors in
// openaicompat.go, sharing this wire format behind custom base URLs.
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return NewOpenAIAdapterWithBaseURL(apiKey, "")
}

// NewOpenAIAdapterWithBaseURL points the adapter at a proxy or gateway in
// front of the OpenAI API.
func NewOpenAIAdapterWithBaseURL(apiKey, baseURL string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(cfg),
		name:         "openai",
		maxRetries:   3,
		retryDelay:   time.Second,
		defaultModel: "gpt-4o",
	}
}

func (p *OpenAIAdapter) Name() string { return p.name }

func (p *OpenAIAdapter) DefaultModel() string { return p.defaultModel }

func (p *OpenAIAdapter) SupportsModel(modelID string) bool {
	if p.supportsModel != nil {
		return p.supportsModel(modelID)
	}
	return strings.HasPrefix(modelID, "gpt-") || strings.HasPrefix(modelID, "o1") || strings.HasPrefix(modelID, "o3") || strings.HasPrefix(modelID, "o4")
}

func (p *OpenAIAdapter) IsStreamable(modelID string) bool {
	// Reasoning models that only expose a non-streaming endpoint would be
	// excluded here; current o-series models stream fine.
	return true
}

func (p *OpenAIAdapter) RequiresDownloadingFile(f domain.File) bool {
	return domain.RequiresDownload(f, true)
}

func (p *OpenAIAdapter) SanitizeModelData(data domain.ModelData) domain.ModelData {
	if strings.HasPrefix(data.ModelID, "o1") || strings.HasPrefix(data.ModelID, "o3") {
		data.SupportsStreaming = false
		data.SupportsSystemMessage = false
	}
	return data
}

func (p *OpenAIAdapter) ValidateRequest(req *CompletionRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewRunError(domain.KindBadRequest, p.Name(), req.Model, domain.ErrEmptyMessages)
	}
	return nil
}

// CheckValid pings the models endpoint, the cheapest authenticated call
// this API family offers.
func (p *OpenAIAdapter) CheckValid(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

func (p *OpenAIAdapter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var agg []domain.ContentPart
	var usage domain.LLMUsage
	for c := range chunks {
		if c.Error != nil {
			return nil, c.Error
		}
		agg = c.Aggregate
		usage = c.Usage
	}
	return &CompletionResult{Output: agg, Usage: usage}, nil
}

func (p *OpenAIAdapter) Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	out := make(chan *CompletionChunk)

	model := p.model(req.Model)
	chatReq, err := p.buildRequest(req, model)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	var stream *openai.ChatCompletionStream
	result := retry.Do(ctx, retry.Config{
		MaxAttempts:  p.maxRetries,
		InitialDelay: p.retryDelay,
		Factor:       2.0,
		Jitter:       true,
	}, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			return nil
		}
		wrapped := p.wrapError(err, model)
		if runErr, ok := wrapped.(*domain.RunError); ok && !runErr.Retryable() {
			return retry.Permanent(wrapped)
		}
		return wrapped
	})
	if result.Err != nil {
		return nil, p.wrapError(result.Err, model)
	}

	go p.processStream(ctx, stream, out, model, toolconv.NameMap(req.Tools))
	return out, nil
}

func (p *OpenAIAdapter) buildRequest(req *CompletionRequest, model string) (openai.ChatCompletionRequest, error) {
	messages, err := convertMessagesToOpenAI(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxOutputTokens != nil {
		chatReq.MaxCompletionTokens = *req.MaxOutputTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}
	if req.PresencePenalty != nil {
		chatReq.PresencePenalty = float32(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		chatReq.FrequencyPenalty = float32(*req.FrequencyPenalty)
	}
	if req.ParallelToolCalls != nil {
		chatReq.ParallelToolCalls = *req.ParallelToolCalls
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
		chatReq.ToolChoice = toolconv.ToOpenAIToolChoice(req.ToolChoice)
	}
	if len(req.OutputSchema) > 0 {
		if req.StructuredGeneration {
			var schema map[string]any
			if err := json.Unmarshal(req.OutputSchema, &schema); err == nil {
				chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
					JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
						Name:   "output",
						Schema: json.RawMessage(req.OutputSchema),
						Strict: true,
					},
				}
			}
		} else {
			// Schema requested but structured generation disabled (either by
			// the model's capabilities or by a retry after a schema rejection):
			// fall back to plain JSON mode and let the runner validate.
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}
	switch req.ReasoningEffort {
	case domain.ReasoningLow:
		chatReq.ReasoningEffort = "low"
	case domain.ReasoningMedium:
		chatReq.ReasoningEffort = "medium"
	case domain.ReasoningHigh:
		chatReq.ReasoningEffort = "high"
	}

	if p.adjustRequest != nil {
		p.adjustRequest(&chatReq)
	}

	return chatReq, nil
}

func (p *OpenAIAdapter) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- *CompletionChunk, model string, nameMap map[string]string) {
	defer close(out)
	defer stream.Close()

	var textBuf strings.Builder
	toolCalls := map[int]*domain.ToolCallRequest{}
	var toolOrder []int
	var usage domain.LLMUsage
	var finishErr *domain.RunError

	emit := func(done bool) {
		agg := []domain.ContentPart{}
		if textBuf.Len() > 0 {
			agg = append(agg, domain.NewTextPart(textBuf.String()))
		}
		for _, idx := range toolOrder {
			tc := toolCalls[idx]
			if tc.ID != "" && tc.Name != "" {
				agg = append(agg, domain.NewToolCallRequestPart(tc))
			}
		}
		if done && finishErr != nil {
			// Deliver the final aggregate and usage frame first so the cost
			// engine can still price the truncated response.
			out <- &CompletionChunk{Aggregate: agg, Usage: usage}
			out <- &CompletionChunk{Error: finishErr, Usage: usage, Done: true}
			return
		}
		out <- &CompletionChunk{Aggregate: agg, Usage: usage, Done: done}
	}

	for {
		select {
		case <-ctx.Done():
			out <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				emit(true)
				return
			}
			out <- &CompletionChunk{Error: p.wrapError(err, model), Done: true}
			return
		}

		if response.Usage != nil {
			usage.PromptTokens = response.Usage.PromptTokens
			usage.CompletionTokens = response.Usage.CompletionTokens
			if response.Usage.PromptTokensDetails != nil {
				usage.PromptCachedTokens = response.Usage.PromptTokensDetails.CachedTokens
			}
			if response.Usage.CompletionTokensDetails != nil {
				usage.CompletionReasoningTokens = response.Usage.CompletionTokensDetails.ReasoningTokens
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		switch response.Choices[0].FinishReason {
		case openai.FinishReasonLength:
			finishErr = &domain.RunError{Kind: domain.KindMaxTokensExceeded, Provider: p.name, Model: model, Message: "response hit the max output token limit", IncursCost: true}
		case openai.FinishReasonContentFilter:
			finishErr = &domain.RunError{Kind: domain.KindContentModeration, Provider: p.name, Model: model, Message: "response blocked by the content filter"}
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			textBuf.WriteString(delta.Content)
			out <- &CompletionChunk{Delta: []domain.ContentPart{domain.NewTextPart(delta.Content)}}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &domain.ToolCallRequest{}
				toolOrder = append(toolOrder, index)
			}
			cur := toolCalls[index]
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Name = toolconv.InternalName(nameMap, tc.Function.Name)
			}
			if tc.Function.Arguments != "" {
				cur.Input = json.RawMessage(string(cur.Input) + tc.Function.Arguments)
			}
		}
	}
}

func convertMessagesToOpenAI(messages []domain.Message) ([]openai.ChatCompletionMessage, error) {
	var result []openai.ChatCompletionMessage

	for _, msg := range messages {
		role := string(msg.Role)
		switch msg.Role {
		case domain.RoleSystem, domain.RoleDeveloper:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.TextContent()})
			continue
		case domain.RoleTool:
			for _, part := range msg.Content {
				if part.Kind == domain.PartToolCallResult {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    string(part.ToolCallResult.Result),
						ToolCallID: part.ToolCallResult.ID,
					})
				}
			}
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{Role: role}
		var multiparts []openai.ChatMessagePart
		hasFile := false

		for _, part := range msg.Content {
			switch part.Kind {
			case domain.PartText:
				if part.Text != "" {
					multiparts = append(multiparts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: part.Text})
				}
			case domain.PartFile:
				if part.File != nil && strings.HasPrefix(part.File.ContentType, "image/") {
					hasFile = true
					url := part.File.URL
					if part.File.Data != "" {
						url = fmt.Sprintf("data:%s;base64,%s", part.File.ContentType, part.File.Data)
					}
					multiparts = append(multiparts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
					})
				}
			case domain.PartToolCallReq:
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   part.ToolCallReq.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      toolconv.WireName(part.ToolCallReq.Name),
						Arguments: string(part.ToolCallReq.Input),
					},
				})
			}
		}

		if hasFile {
			oaiMsg.MultiContent = multiparts
		} else {
			for _, mp := range multiparts {
				oaiMsg.Content += mp.Text
			}
		}

		result = append(result, oaiMsg)
	}

	return result, nil
}

func (p *OpenAIAdapter) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *OpenAIAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var runErr *domain.RunError
	if errors.As(err, &runErr) {
		return runErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := (&ProviderError{Provider: p.name, Model: model, Cause: err, Reason: FailoverUnknown}).
			WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		// The blamed parameter is the sharpest signal: a rejected
		// response_format is a structured-generation failure, a rejected
		// tools parameter means the model lacks the mode.
		if apiErr.Param != nil && *apiErr.Param != "" {
			providerErr = providerErr.WithParam(*apiErr.Param)
		}
		return providerErr.ToRunError()
	}

	return NewProviderError(p.name, model, err).ToRunError()
}
