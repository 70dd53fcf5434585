package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/providers/toolconv"
	"github.com/anotherai/gateway/internal/retry"
)

// BedrockAdapter implements Adapter for Amazon Bedrock's Converse API.
type BedrockAdapter struct {
	client       *bedrockruntime.Client
	awsCfg       aws.Config
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	region       string
}

// BedrockConfig holds configuration for the Bedrock adapter.
type BedrockConfig struct {
	// Region is the AWS region (default: us-east-1)
	Region string

	// AccessKeyID for explicit credentials (optional, uses default chain if empty)
	AccessKeyID string

	// SecretAccessKey for explicit credentials (optional)
	SecretAccessKey string

	// SessionToken for temporary credentials (optional)
	SessionToken string

	// DefaultModel is the model to use when not specified
	DefaultModel string

	// MaxRetries for transient failures (default: 3)
	MaxRetries int

	// RetryDelay base delay between retries (default: 1s)
	RetryDelay time.Duration
}

// NewBedrockAdapter creates a new AWS Bedrock adapter. Credentials resolve
// through the standard chain (env, shared config, IAM role) unless explicit
// keys are supplied.
func NewBedrockAdapter(cfg BedrockConfig) (*BedrockAdapter, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockAdapter{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		awsCfg:       awsCfg,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		region:       cfg.Region,
	}, nil
}

func (p *BedrockAdapter) Name() string { return "bedrock" }

func (p *BedrockAdapter) DefaultModel() string { return p.defaultModel }

func (p *BedrockAdapter) SupportsModel(modelID string) bool {
	// Bedrock model ids are vendor-qualified ("anthropic.claude-...",
	// "meta.llama3-...", "amazon.nova-...") or cross-region inference
	// profiles ("us.anthropic...").
	for _, prefix := range []string{"anthropic.", "meta.", "amazon.", "mistral.", "cohere.", "ai21.", "us.", "eu.", "apac."} {
		if strings.HasPrefix(modelID, prefix) {
			return true
		}
	}
	return false
}

func (p *BedrockAdapter) IsStreamable(modelID string) bool { return true }

func (p *BedrockAdapter) RequiresDownloadingFile(f domain.File) bool {
	// The Converse API only accepts inline bytes for images and documents.
	return f.Data == ""
}

func (p *BedrockAdapter) SanitizeModelData(data domain.ModelData) domain.ModelData {
	// Converse has no native JSON-schema response format; structured output
	// always goes through the prompt-injection path.
	data.SupportsStructuredOutput = false
	return data
}

func (p *BedrockAdapter) ValidateRequest(req *CompletionRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewRunError(domain.KindBadRequest, p.Name(), req.Model, domain.ErrEmptyMessages)
	}
	return nil
}

// CheckValid resolves credentials through the AWS chain; a resolvable,
// unexpired credential set is the closest thing Bedrock has to a ping
// without invoking a model.
func (p *BedrockAdapter) CheckValid(ctx context.Context) bool {
	if p.awsCfg.Credentials == nil {
		return false
	}
	creds, err := p.awsCfg.Credentials.Retrieve(ctx)
	return err == nil && creds.HasKeys()
}

func (p *BedrockAdapter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
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

func (p *BedrockAdapter) Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.client == nil {
		return nil, NewProviderError("bedrock", req.Model, errors.New("Bedrock client not initialized")).ToRunError()
	}

	model := p.model(req.Model)
	converseReq, err := p.buildRequest(req, model)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	result := retry.Do(ctx, retry.Config{
		MaxAttempts:  p.maxRetries,
		InitialDelay: p.retryDelay,
		Factor:       2.0,
		Jitter:       true,
	}, func() error {
		var err error
		stream, err = p.client.ConverseStream(ctx, converseReq)
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

	out := make(chan *CompletionChunk)
	go p.processStream(ctx, stream, out, model, toolconv.NameMap(req.Tools))
	return out, nil
}

func (p *BedrockAdapter) buildRequest(req *CompletionRequest, model string) (*bedrockruntime.ConverseStreamInput, error) {
	messages, system, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if system != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}

	inference := &types.InferenceConfiguration{}
	configured := false
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens > 0 {
		maxTokens := min(*req.MaxOutputTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		inference.MaxTokens = aws.Int32(int32(maxTokens))
		configured = true
	}
	if req.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*req.Temperature))
		configured = true
	}
	if req.TopP != nil {
		inference.TopP = aws.Float32(float32(*req.TopP))
		configured = true
	}
	if configured {
		converseReq.InferenceConfig = inference
	}

	if len(req.Tools) > 0 {
		converseReq.ToolConfig = toolconv.ToBedrockTools(req.Tools)
		switch req.ToolChoice.Mode {
		case domain.ToolChoiceRequired:
			converseReq.ToolConfig.ToolChoice = &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
		case domain.ToolChoiceFunction:
			converseReq.ToolConfig.ToolChoice = &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(toolconv.WireName(req.ToolChoice.FunctionName))},
			}
		}
	}

	return converseReq, nil
}

func (p *BedrockAdapter) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- *CompletionChunk, model string, nameMap map[string]string) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var aggregate []domain.ContentPart
	var textBuf strings.Builder
	var usage domain.LLMUsage
	var currentTool *domain.ToolCallRequest
	var toolInputBuilder strings.Builder
	maxTokensHit := false

	flushText := func() {
		if textBuf.Len() > 0 {
			aggregate = append(aggregate, domain.NewTextPart(textBuf.String()))
			textBuf.Reset()
		}
	}
	flushTool := func() {
		if currentTool != nil && currentTool.ID != "" {
			currentTool.Input = json.RawMessage(toolInputBuilder.String())
			flushText()
			aggregate = append(aggregate, domain.NewToolCallRequestPart(currentTool))
		}
		currentTool = nil
		toolInputBuilder.Reset()
	}
	finish := func() {
		flushTool()
		flushText()
		if maxTokensHit {
			out <- &CompletionChunk{Aggregate: aggregate, Usage: usage}
			out <- &CompletionChunk{
				Error: &domain.RunError{Kind: domain.KindMaxTokensExceeded, Provider: "bedrock", Model: model, Message: "response hit the max output token limit", IncursCost: true},
				Usage: usage,
				Done:  true,
			}
			return
		}
		out <- &CompletionChunk{Aggregate: aggregate, Usage: usage, Done: true}
	}

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return
		case event, ok := <-eventChan:
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- &CompletionChunk{Error: p.wrapError(err, model), Done: true}
					return
				}
				finish()
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentTool = &domain.ToolCallRequest{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: toolconv.InternalName(nameMap, aws.ToString(toolUse.Value.Name)),
					}
					toolInputBuilder.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						textBuf.WriteString(delta.Value)
						out <- &CompletionChunk{Delta: []domain.ContentPart{domain.NewTextPart(delta.Value)}}
					}
				case *types.ContentBlockDeltaMemberReasoningContent:
					if rc, ok := delta.Value.(*types.ReasoningContentBlockDeltaMemberText); ok && rc.Value != "" {
						aggregate = append(aggregate, domain.NewReasoningPart(rc.Value))
						out <- &CompletionChunk{Delta: []domain.ContentPart{domain.NewReasoningPart(rc.Value)}}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInputBuilder.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				flushTool()

			case *types.ConverseStreamOutputMemberMessageStop:
				if ev.Value.StopReason == types.StopReasonMaxTokens {
					maxTokensHit = true
				}

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage.PromptTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					usage.CompletionTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
					usage.PromptCachedTokens = int(aws.ToInt32(ev.Value.Usage.CacheReadInputTokens))
				}
				// Metadata is the final event; the channel closes after it.
			}
		}
	}
}

func (p *BedrockAdapter) convertMessages(messages []domain.Message) ([]types.Message, string, error) {
	result := make([]types.Message, 0, len(messages))
	var system strings.Builder

	for _, msg := range messages {
		if msg.Role == domain.RoleSystem || msg.Role == domain.RoleDeveloper {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(msg.TextContent())
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}

		var blocks []types.ContentBlock
		for _, part := range msg.Content {
			switch part.Kind {
			case domain.PartText:
				if part.Text != "" {
					blocks = append(blocks, &types.ContentBlockMemberText{Value: part.Text})
				}
			case domain.PartFile:
				block, err := p.convertFile(part.File)
				if err != nil {
					return nil, "", err
				}
				if block != nil {
					blocks = append(blocks, block)
				}
			case domain.PartToolCallReq:
				var input any
				if err := json.Unmarshal(part.ToolCallReq.Input, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(part.ToolCallReq.ID),
						Name:      aws.String(toolconv.WireName(part.ToolCallReq.Name)),
						Input:     lazyDocument(input),
					},
				})
			case domain.PartToolCallResult:
				status := types.ToolResultStatusSuccess
				content := string(part.ToolCallResult.Result)
				if part.ToolCallResult.Error != "" {
					status = types.ToolResultStatusError
					content = part.ToolCallResult.Error
				}
				blocks = append(blocks, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(part.ToolCallResult.ID),
						Status:    status,
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: content},
						},
					},
				})
			}
		}

		if len(blocks) > 0 {
			result = append(result, types.Message{Role: role, Content: blocks})
		}
	}

	return result, system.String(), nil
}

func (p *BedrockAdapter) convertFile(f *domain.File) (types.ContentBlock, error) {
	if f == nil || !f.Valid() {
		return nil, nil
	}
	if f.Data == "" {
		return nil, &domain.RunError{Kind: domain.KindInvalidFile, Provider: "bedrock", Message: "bedrock requires inline file data; file was not downloaded"}
	}
	data, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, &domain.RunError{Kind: domain.KindInvalidFile, Provider: "bedrock", Message: "failed to decode base64 file data", Cause: err}
	}

	switch {
	case strings.HasPrefix(f.ContentType, "image/"):
		format, ok := bedrockImageFormat(f.ContentType)
		if !ok {
			return nil, &domain.RunError{Kind: domain.KindInvalidFile, Provider: "bedrock", Message: fmt.Sprintf("unsupported image content type %q", f.ContentType)}
		}
		return &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: format,
				Source: &types.ImageSourceMemberBytes{Value: data},
			},
		}, nil
	case f.ContentType == "application/pdf":
		return &types.ContentBlockMemberDocument{
			Value: types.DocumentBlock{
				Format: types.DocumentFormatPdf,
				Name:   aws.String("document"),
				Source: &types.DocumentSourceMemberBytes{Value: data},
			},
		}, nil
	}
	return nil, &domain.RunError{Kind: domain.KindInvalidFile, Provider: "bedrock", Message: fmt.Sprintf("unsupported file content type %q", f.ContentType)}
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(v)
}

func bedrockImageFormat(mimeType string) (types.ImageFormat, bool) {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/png":
		return types.ImageFormatPng, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	}
	return "", false
}

func (p *BedrockAdapter) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *BedrockAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var runErr *domain.RunError
	if errors.As(err, &runErr) {
		return runErr
	}

	providerErr := NewProviderError("bedrock", model, err)

	var throttled *types.ThrottlingException
	var notFound *types.ResourceNotFoundException
	var validation *types.ValidationException
	var unavailable *types.ServiceUnavailableException
	var internal *types.InternalServerException
	var denied *types.AccessDeniedException
	switch {
	case errors.As(err, &throttled):
		providerErr.Reason = FailoverRateLimit
	case errors.As(err, &validation):
		// A ValidationException's message distinguishes token overflows
		// ("Input is too long...") and capability rejections ("This model
		// doesn't support tool use...") from plain bad requests; keep the
		// message-derived reason when it found one.
		if !isSpecificReason(providerErr.Reason) {
			providerErr.Reason = FailoverInvalidRequest
		}
	case errors.As(err, &notFound):
		providerErr.Reason = FailoverModelUnavailable
	case errors.As(err, &unavailable), errors.As(err, &internal):
		providerErr.Reason = FailoverServerError
	case errors.As(err, &denied):
		providerErr.Reason = FailoverAuth
	}

	return providerErr.ToRunError()
}
