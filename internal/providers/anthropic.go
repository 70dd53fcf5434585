// Package providers implements the vendor adapters for the gateway: one
// file per LLM vendor, each translating the neutral internal/domain
// request/response model into that vendor's wire format.
//
// Key Features:
//   - Streaming responses for real-time token delivery
//   - Automatic retry logic with exponential backoff
//   - Tool/function calling support
//   - Vision and document support for multimodal models
//   - Comprehensive error classification (see errors.go)
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/providers/toolconv"
)

// AnthropicAdapter implements Adapter for Anthropic's Claude API.
//
// Thread Safety:
// AnthropicAdapter is safe for concurrent use across multiple goroutines.
// Each Complete/Stream call is independent.
type AnthropicAdapter struct {
	client anthropic.Client

	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig holds configuration for creating an AnthropicAdapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string

	MaxRetries int
	RetryDelay time.Duration

	DefaultModel string
}

// NewAnthropicAdapter builds an AnthropicAdapter, applying sane defaults
// for any zero-valued optional config.
func NewAnthropicAdapter(config AnthropicConfig) (*AnthropicAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicAdapter{
		client:       anthropic.NewClient(options...),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicAdapter) Name() string { return "anthropic" }

func (p *AnthropicAdapter) DefaultModel() string { return p.defaultModel }

func (p *AnthropicAdapter) SupportsModel(modelID string) bool {
	return strings.HasPrefix(modelID, "claude-")
}

func (p *AnthropicAdapter) IsStreamable(modelID string) bool { return true }

func (p *AnthropicAdapter) RequiresDownloadingFile(f domain.File) bool {
	// Anthropic accepts base64 inline data or a plain https URL for images
	// and PDFs; it never needs a download performed by the gateway.
	return false
}

func (p *AnthropicAdapter) SanitizeModelData(data domain.ModelData) domain.ModelData {
	if data.MaxOutputTokens <= 0 || data.MaxOutputTokens > 64000 {
		data.MaxOutputTokens = 64000
	}
	return data
}

func (p *AnthropicAdapter) ValidateRequest(req *CompletionRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewRunError(domain.KindBadRequest, p.Name(), req.Model, domain.ErrEmptyMessages)
	}
	return nil
}

// CheckValid pings the models listing, which authenticates without
// spending tokens.
func (p *AnthropicAdapter) CheckValid(ctx context.Context) bool {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	return err == nil
}

func (p *AnthropicAdapter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
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
		if c.Done {
			break
		}
	}
	return &CompletionResult{Output: agg, Usage: usage}, nil
}

func (p *AnthropicAdapter) Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	out := make(chan *CompletionChunk)

	go func() {
		defer close(out)

		model := p.model(req.Model)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req, model)
			if err == nil {
				break
			}
			wrapped := p.wrapError(err, model)
			if !p.isRetryableError(wrapped) || attempt >= p.maxRetries {
				out <- &CompletionChunk{Error: wrapped, Done: true}
				return
			}
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				out <- &CompletionChunk{Error: ctx.Err(), Done: true}
				return
			case <-time.After(backoff):
			}
		}
		if err != nil {
			out <- &CompletionChunk{Error: p.wrapError(err, model), Done: true}
			return
		}

		p.processStream(stream, out, model, toolconv.NameMap(req.Tools))
	}()

	return out, nil
}

func (p *AnthropicAdapter) createStream(ctx context.Context, req *CompletionRequest, model string) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, system, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := int64(4096)
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens > 0 {
		maxTokens = int64(*req.MaxOutputTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if req.ReasoningEffort != domain.ReasoningDisabled && req.ReasoningEffort != "" {
		budget := int64(10000)
		if req.ReasoningBudget != nil && *req.ReasoningBudget >= 1024 {
			budget = int64(*req.ReasoningBudget)
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

const maxEmptyStreamEvents = 300

func (p *AnthropicAdapter) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- *CompletionChunk, model string, nameMap map[string]string) {
	var aggregate []domain.ContentPart
	var currentText strings.Builder
	var currentThinking strings.Builder
	var currentToolID, currentToolName string
	var currentToolInput strings.Builder
	inThinking := false
	inText := false
	inToolUse := false
	maxTokensHit := false
	emptyEvents := 0

	var usage domain.LLMUsage

	flushText := func() {
		if inText && currentText.Len() > 0 {
			aggregate = append(aggregate, domain.NewTextPart(currentText.String()))
		}
		inText = false
	}
	flushThinking := func() {
		if inThinking && currentThinking.Len() > 0 {
			aggregate = append(aggregate, domain.NewReasoningPart(currentThinking.String()))
		}
		inThinking = false
	}
	flushTool := func() {
		if inToolUse {
			aggregate = append(aggregate, domain.NewToolCallRequestPart(&domain.ToolCallRequest{
				ID:    currentToolID,
				Name:  toolconv.InternalName(nameMap, currentToolName),
				Input: json.RawMessage(currentToolInput.String()),
			}))
		}
		inToolUse = false
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.PromptTokens = int(ms.Message.Usage.InputTokens)
			usage.PromptCachedTokens = int(ms.Message.Usage.CacheReadInputTokens)
			processed = true

		case "content_block_start":
			cb := event.AsContentBlockStart().ContentBlock
			switch cb.Type {
			case "thinking":
				inThinking = true
				currentThinking.Reset()
				out <- &CompletionChunk{Delta: []domain.ContentPart{domain.NewReasoningPart("")}}
				processed = true
			case "text":
				inText = true
				currentText.Reset()
				processed = true
			case "tool_use":
				toolUse := cb.AsToolUse()
				inToolUse = true
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					currentText.WriteString(delta.Text)
					out <- &CompletionChunk{Delta: []domain.ContentPart{domain.NewTextPart(delta.Text)}}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					currentThinking.WriteString(delta.Thinking)
					out <- &CompletionChunk{Delta: []domain.ContentPart{domain.NewReasoningPart(delta.Thinking)}}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			flushText()
			flushThinking()
			flushTool()
			processed = true

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(md.Usage.OutputTokens)
			}
			if md.Delta.StopReason == "max_tokens" {
				maxTokensHit = true
			}
			processed = true

		case "message_stop":
			if maxTokensHit {
				// The usage frame still prices the truncated response.
				out <- &CompletionChunk{Aggregate: aggregate, Usage: usage}
				out <- &CompletionChunk{
					Error: &domain.RunError{Kind: domain.KindMaxTokensExceeded, Provider: "anthropic", Model: model, Message: "response hit the max output token limit", IncursCost: true},
					Usage: usage,
					Done:  true,
				}
				return
			}
			out <- &CompletionChunk{Aggregate: aggregate, Usage: usage, Done: true}
			return

		case "error":
			out <- &CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"), model), Done: true}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				out <- &CompletionChunk{
					Error: p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents), model),
					Done:  true,
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		out <- &CompletionChunk{Error: p.wrapError(err, model), Done: true}
	}
}

func convertMessagesToAnthropic(messages []domain.Message) ([]anthropic.MessageParam, string, error) {
	var result []anthropic.MessageParam
	var system strings.Builder

	for _, msg := range messages {
		if msg.Role == domain.RoleSystem || msg.Role == domain.RoleDeveloper {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(msg.TextContent())
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Content {
			switch part.Kind {
			case domain.PartText:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case domain.PartFile:
				if block := fileToAnthropicBlock(part.File); block != nil {
					content = append(content, *block)
				}
			case domain.PartToolCallReq:
				var input map[string]any
				if len(part.ToolCallReq.Input) > 0 {
					if err := json.Unmarshal(part.ToolCallReq.Input, &input); err != nil {
						return nil, "", fmt.Errorf("invalid tool call input: %w", err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCallReq.ID, input, toolconv.WireName(part.ToolCallReq.Name)))
			case domain.PartToolCallResult:
				text := string(part.ToolCallResult.Result)
				content = append(content, anthropic.NewToolResultBlock(part.ToolCallResult.ID, text, part.ToolCallResult.Error != ""))
			}
		}

		var message anthropic.MessageParam
		if msg.Role == domain.RoleAssistant {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			message = anthropic.NewUserMessage(content...)
		}
		result = append(result, message)
	}

	return result, system.String(), nil
}

func fileToAnthropicBlock(f *domain.File) *anthropic.ContentBlockParamUnion {
	if f == nil || !f.Valid() {
		return nil
	}
	switch {
	case strings.HasPrefix(f.ContentType, "image/"):
		if f.Data != "" {
			block := anthropic.NewImageBlockBase64(f.ContentType, f.Data)
			return &block
		}
		block := anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: f.URL})
		return &block
	case f.ContentType == "application/pdf":
		if f.Data != "" {
			block := anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: f.Data})
			return &block
		}
		block := anthropic.NewDocumentBlock(anthropic.URLPDFSourceParam{URL: f.URL})
		return &block
	}
	return nil
}

func (p *AnthropicAdapter) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *AnthropicAdapter) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if runErr, ok := err.(*domain.RunError); ok {
		return runErr.Retryable()
	}
	return false
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var runErr *domain.RunError
	if errors.As(err, &runErr) {
		return runErr
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{Provider: "anthropic", Model: model, Cause: err, Reason: FailoverUnknown}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		message, code, requestID := "", "", apiErr.RequestID
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				message, code = payload.Error.Message, payload.Error.Type
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}
		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr.ToRunError()
	}

	return NewProviderError("anthropic", model, err).ToRunError()
}
