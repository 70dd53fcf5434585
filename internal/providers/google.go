package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/providers/toolconv"
)

// GoogleAdapter implements Adapter for Google's Gemini API.
//
// Thread Safety:
// GoogleAdapter is safe for concurrent use across multiple goroutines.
// Each Complete/Stream call is independent.
type GoogleAdapter struct {
	client       *genai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// GoogleConfig holds configuration for creating a GoogleAdapter.
type GoogleConfig struct {
	// APIKey is the Google AI API authentication key (required).
	// Obtain from: https://aistudio.google.com/apikey
	APIKey string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts. Actual delay
	// uses exponential backoff. Default: 1 second
	RetryDelay time.Duration

	// DefaultModel sets the model used when a request leaves Model unset.
	// Default: "gemini-2.0-flash"
	DefaultModel string
}

// NewGoogleAdapter builds a GoogleAdapter, applying sane defaults for any
// zero-valued optional config.
func NewGoogleAdapter(config GoogleConfig) (*GoogleAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleAdapter{
		client:       client,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *GoogleAdapter) Name() string { return "google" }

func (p *GoogleAdapter) DefaultModel() string { return p.defaultModel }

func (p *GoogleAdapter) SupportsModel(modelID string) bool {
	return strings.HasPrefix(modelID, "gemini-")
}

func (p *GoogleAdapter) IsStreamable(modelID string) bool { return true }

func (p *GoogleAdapter) RequiresDownloadingFile(f domain.File) bool {
	// The Gemini API's FileData URI form only accepts its own uploaded-file
	// URIs, not arbitrary URLs, so anything not already inline must be
	// downloaded and re-sent as inline bytes.
	return f.Data == ""
}

func (p *GoogleAdapter) SanitizeModelData(data domain.ModelData) domain.ModelData {
	// Gemini enforces structured output through response schemas on every
	// current model; older -8b variants reject response schemas with tools.
	if strings.Contains(data.ModelID, "-8b") {
		data.SupportsStructuredOutput = false
	}
	return data
}

func (p *GoogleAdapter) ValidateRequest(req *CompletionRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewRunError(domain.KindBadRequest, p.Name(), req.Model, domain.ErrEmptyMessages)
	}
	return nil
}

// CheckValid fetches the default model's metadata, which authenticates
// without spending tokens.
func (p *GoogleAdapter) CheckValid(ctx context.Context) bool {
	_, err := p.client.Models.Get(ctx, p.defaultModel, nil)
	return err == nil
}

func (p *GoogleAdapter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
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

func (p *GoogleAdapter) Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	model := p.model(req.Model)
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	config := p.buildConfig(req)
	nameMap := toolconv.NameMap(req.Tools)

	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)

		var lastErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			if attempt > 0 {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
				select {
				case <-ctx.Done():
					out <- &CompletionChunk{Error: ctx.Err(), Done: true}
					return
				case <-time.After(backoff):
				}
			}

			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			done, err := p.processStream(ctx, streamIter, out, model, nameMap)
			if done {
				return
			}
			lastErr = err
			wrapped := p.wrapError(err, model)
			if runErr, ok := wrapped.(*domain.RunError); !ok || !runErr.Retryable() {
				out <- &CompletionChunk{Error: wrapped, Done: true}
				return
			}
		}
		out <- &CompletionChunk{Error: p.wrapError(lastErr, model), Done: true}
	}()

	return out, nil
}

// processStream consumes one streaming attempt. It returns done=true when a
// terminal chunk was already emitted (success or non-retryable mid-stream
// failure); otherwise the error is a candidate for retry.
func (p *GoogleAdapter) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], out chan<- *CompletionChunk, model string, nameMap map[string]string) (bool, error) {
	var aggregate []domain.ContentPart
	var textBuf strings.Builder
	var usage domain.LLMUsage
	emitted := false
	maxTokensHit := false
	var terminalErr *domain.RunError

	flushText := func() {
		if textBuf.Len() > 0 {
			aggregate = append(aggregate, domain.NewTextPart(textBuf.String()))
			textBuf.Reset()
		}
	}

	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			out <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return true, nil
		default:
		}

		if err != nil {
			// Once content has streamed out we cannot transparently retry.
			if emitted {
				out <- &CompletionChunk{Error: p.wrapError(err, model), Done: true}
				return true, nil
			}
			return false, err
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			usage.PromptCachedTokens = int(resp.UsageMetadata.CachedContentTokenCount)
			usage.CompletionReasoningTokens = int(resp.UsageMetadata.ThoughtsTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil {
				continue
			}
			switch candidate.FinishReason {
			case genai.FinishReasonMaxTokens:
				maxTokensHit = true
			case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
				terminalErr = &domain.RunError{Kind: domain.KindContentModeration, Provider: "google", Model: model, Message: "response blocked by safety filters"}
			case genai.FinishReasonMalformedFunctionCall:
				terminalErr = &domain.RunError{Kind: domain.KindInvalidGeneration, Provider: "google", Model: model, Message: "model produced a malformed function call", IncursCost: true}
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					if part.Thought {
						aggregate = append(aggregate, domain.NewReasoningPart(part.Text))
						out <- &CompletionChunk{Delta: []domain.ContentPart{domain.NewReasoningPart(part.Text)}}
					} else {
						textBuf.WriteString(part.Text)
						out <- &CompletionChunk{Delta: []domain.ContentPart{domain.NewTextPart(part.Text)}}
					}
					emitted = true
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					flushText()
					aggregate = append(aggregate, domain.NewToolCallRequestPart(&domain.ToolCallRequest{
						ID:    generateToolCallID(part.FunctionCall.Name),
						Name:  toolconv.InternalName(nameMap, part.FunctionCall.Name),
						Input: argsJSON,
					}))
					emitted = true
				}
			}
		}
	}

	flushText()
	if maxTokensHit {
		terminalErr = &domain.RunError{Kind: domain.KindMaxTokensExceeded, Provider: "google", Model: model, Message: "response hit the max output token limit", IncursCost: true}
	}
	if terminalErr != nil {
		// Still deliver the final usage frame so cost can be computed, then
		// surface the classified finish as the stream's terminal error.
		out <- &CompletionChunk{Aggregate: aggregate, Usage: usage}
		out <- &CompletionChunk{Error: terminalErr, Usage: usage, Done: true}
		return true, nil
	}
	out <- &CompletionChunk{Aggregate: aggregate, Usage: usage, Done: true}
	return true, nil
}

func (p *GoogleAdapter) convertMessages(messages []domain.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		// System messages are handled via SystemInstruction in buildConfig.
		if msg.Role == domain.RoleSystem || msg.Role == domain.RoleDeveloper {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case domain.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		for _, part := range msg.Content {
			switch part.Kind {
			case domain.PartText:
				if part.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				}
			case domain.PartFile:
				filePart, err := p.convertFile(part.File)
				if err != nil {
					return nil, err
				}
				content.Parts = append(content.Parts, filePart)
			case domain.PartToolCallReq:
				var args map[string]any
				if err := json.Unmarshal(part.ToolCallReq.Input, &args); err != nil {
					args = make(map[string]any)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: toolconv.WireName(part.ToolCallReq.Name),
						Args: args,
					},
				})
			case domain.PartToolCallResult:
				var response map[string]any
				if err := json.Unmarshal(part.ToolCallResult.Result, &response); err != nil {
					response = map[string]any{
						"result": string(part.ToolCallResult.Result),
						"error":  part.ToolCallResult.Error != "",
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     toolNameForCallID(part.ToolCallResult.ID, messages),
						Response: response,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

func (p *GoogleAdapter) convertFile(f *domain.File) (*genai.Part, error) {
	if f == nil || !f.Valid() {
		return nil, fmt.Errorf("google: empty file part")
	}
	if f.Data != "" {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, &domain.RunError{Kind: domain.KindInvalidFile, Provider: "google", Message: "failed to decode base64 file data", Cause: err}
		}
		mimeType := f.ContentType
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}}, nil
	}
	// URL files reach here only when the runner decided no download was
	// needed; Gemini treats them as uploaded-file URIs.
	return &genai.Part{FileData: &genai.FileData{FileURI: f.URL, MIMEType: f.ContentType}}, nil
}

func (p *GoogleAdapter) buildConfig(req *CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	var system strings.Builder
	for _, msg := range req.Messages {
		if msg.Role == domain.RoleSystem || msg.Role == domain.RoleDeveloper {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(msg.TextContent())
		}
	}
	if system.Len() > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system.String()}},
		}
	}

	if req.MaxOutputTokens != nil && *req.MaxOutputTokens > 0 {
		maxTokens := min(*req.MaxOutputTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.PresencePenalty != nil {
		config.PresencePenalty = genai.Ptr(float32(*req.PresencePenalty))
	}
	if req.FrequencyPenalty != nil {
		config.FrequencyPenalty = genai.Ptr(float32(*req.FrequencyPenalty))
	}

	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	} else if req.StructuredGeneration && len(req.OutputSchema) > 0 {
		// Gemini refuses a JSON response MIME type when tools are attached,
		// so the schema only rides along on tool-free requests.
		var schemaMap map[string]any
		if err := json.Unmarshal(req.OutputSchema, &schemaMap); err == nil {
			config.ResponseMIMEType = "application/json"
			config.ResponseSchema = toolconv.ToGeminiSchema(schemaMap)
		}
	}

	if req.ReasoningEffort != "" && req.ReasoningEffort != domain.ReasoningDisabled {
		budget := int32(8192)
		if req.ReasoningBudget != nil && *req.ReasoningBudget > 0 {
			budget = int32(min(*req.ReasoningBudget, math.MaxInt32))
		}
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(budget),
		}
	}

	return config
}

func (p *GoogleAdapter) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *GoogleAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var runErr *domain.RunError
	if errors.As(err, &runErr) {
		return runErr
	}

	providerErr := NewProviderError("google", model, err)

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404") || strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr.ToRunError()
}

// generateToolCallID mints an id for a Gemini function call, which arrive
// without one.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// toolNameForCallID recovers the function name a tool result responds to by
// scanning earlier assistant messages for the matching call id.
func toolNameForCallID(toolCallID string, messages []domain.Message) string {
	for _, msg := range messages {
		for _, part := range msg.Content {
			if part.Kind == domain.PartToolCallReq && part.ToolCallReq.ID == toolCallID {
				return toolconv.WireName(part.ToolCallReq.Name)
			}
		}
	}
	// Fall back to extracting from the "call_<name>_<timestamp>" format.
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
