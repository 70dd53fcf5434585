// Package runner orchestrates one inference request end to end: prepare
// messages from the version's prompt and the input, walk the retry
// pipeline across providers and models, execute hosted tool calls, then
// validate and price the final output.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anotherai/gateway/internal/config"
	"github.com/anotherai/gateway/internal/cost"
	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/models"
	"github.com/anotherai/gateway/internal/observability"
	"github.com/anotherai/gateway/internal/pipeline"
	"github.com/anotherai/gateway/internal/providers"
	"github.com/anotherai/gateway/internal/ratelimit"
	"github.com/anotherai/gateway/internal/storage"
)

// DefaultMaxToolCallIterations bounds the hosted-tool loop.
const DefaultMaxToolCallIterations = 10

// Runner executes inference requests. All fields are read-only after
// construction; a single Runner serves concurrent requests.
type Runner struct {
	Catalog   *models.Catalog
	Providers *config.Config
	Factory   pipeline.AdapterFactory

	Stores      storage.StoreSet
	HostedTools *HostedToolRegistry
	Logger      *observability.Logger
	HTTPClient  *http.Client

	// RateLimits, when set, records upstream 429s per credential for the
	// per-provider rate-limit report.
	RateLimits *ratelimit.ProviderReport

	// Events, when set, records run/attempt events into the debugging
	// timeline.
	Events *observability.EventRecorder

	// MaxToolCallIterations defaults to DefaultMaxToolCallIterations.
	MaxToolCallIterations int
}

// Request is one inference to run.
type Request struct {
	AgentID        string
	ConversationID string
	Version        domain.Version
	Input          domain.AgentInput
	Tools          []domain.Tool
	Metadata       map[string]string

	// CustomConfigs are tenant-supplied provider credentials tried before
	// the environment's.
	CustomConfigs []config.ProviderCredential
}

// Run executes the request to completion. The returned AgentCompletion is
// always non-nil and fully traced; err mirrors completion.Error for
// convenience.
func (r *Runner) Run(ctx context.Context, req Request) (*domain.AgentCompletion, error) {
	started := time.Now()
	completion := r.newCompletion(req)

	if r.Events != nil {
		ctx = observability.AddAgentID(ctx, req.AgentID)
		_ = r.Events.RecordRunStart(ctx, completion.ID, map[string]any{"model": req.Version.Model})
	}

	output, runErr := r.runLoop(ctx, req, completion, nil)
	completion.Duration = time.Since(started)
	if runErr != nil {
		completion.Error = runErr
	} else {
		completion.Output = output
	}

	r.finalize(ctx, completion)

	if r.Events != nil {
		var eventErr error
		if runErr != nil {
			eventErr = runErr
		}
		_ = r.Events.RecordRunEnd(ctx, completion.Duration, eventErr)
	}

	if runErr != nil {
		return completion, runErr
	}
	return completion, nil
}

func (r *Runner) newCompletion(req Request) *domain.AgentCompletion {
	return &domain.AgentCompletion{
		ID:             domain.NewCompletionID(),
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		Version:        req.Version,
		Input:          req.Input,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
}

// finalize prices the completion under the cost deadline and persists it.
// Neither step may fail the request.
func (r *Runner) finalize(ctx context.Context, completion *domain.AgentCompletion) {
	cost.FinalizeCompletion(context.WithoutCancel(ctx), r.Catalog, completion)

	if r.Stores.Completions != nil {
		if err := r.Stores.Completions.Create(context.WithoutCancel(ctx), completion); err != nil {
			r.logger().Warn(ctx, "failed to persist completion",
				"completion_id", completion.ID,
				"error", err)
		}
	}
}

func (r *Runner) logger() *observability.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return observability.NopLogger()
}

func (r *Runner) maxIterations() int {
	if r.MaxToolCallIterations > 0 {
		return r.MaxToolCallIterations
	}
	return DefaultMaxToolCallIterations
}

// runLoop drives the tool loop: LLM call, hosted tool execution, repeat.
// A non-nil emit switches LLM calls to streaming, forwarding intermediate
// chunks (see stream.go).
func (r *Runner) runLoop(ctx context.Context, req Request, completion *domain.AgentCompletion, emit chunkEmitter) ([]domain.Message, *domain.RunError) {
	messages, prepErr := prepareMessages(req.Version, req.Input)
	if prepErr != nil {
		return nil, asRunError(prepErr)
	}

	tools := r.resolveTools(req)
	llmCalls := 0

	for {
		parts, callErr := r.runLLMCall(ctx, req, completion, messages, tools, emit)
		if callErr != nil {
			return nil, callErr
		}
		llmCalls++

		hosted, external := splitToolCalls(parts)
		if len(hosted) == 0 || len(external) > 0 {
			// External tool calls are surfaced to the caller as-is.
			return []domain.Message{{Role: domain.RoleAssistant, Content: parts}}, nil
		}

		if llmCalls > r.maxIterations() {
			return nil, &domain.RunError{
				Kind:    domain.KindMaxToolCallIteration,
				Model:   req.Version.Model,
				Message: fmt.Sprintf("tool call loop exceeded %d iterations", r.maxIterations()),
			}
		}

		// Execute hosted tools and loop with their results appended.
		messages = append(messages, domain.Message{Role: domain.RoleAssistant, Content: parts})
		results := r.executeHostedTools(ctx, hosted)
		messages = append(messages, domain.Message{Role: domain.RoleTool, Content: results})
	}
}

// resolveTools merges caller-supplied tools with hosted definitions named
// by the version's enabled_tools.
func (r *Runner) resolveTools(req Request) []domain.Tool {
	tools := append([]domain.Tool(nil), req.Tools...)
	have := map[string]bool{}
	for _, t := range tools {
		have[t.Name] = true
	}
	for _, name := range req.Version.EnabledTools {
		if have[name] {
			continue
		}
		if tool, ok := r.HostedTools.Get(name); ok {
			tools = append(tools, domain.Tool{
				Name:        tool.Name(),
				Description: tool.Description(),
				InputSchema: tool.InputSchema(),
			})
			have[name] = true
		}
	}
	return tools
}

func splitToolCalls(parts []domain.ContentPart) (hosted, external []*domain.ToolCallRequest) {
	for _, part := range parts {
		if part.Kind != domain.PartToolCallReq || part.ToolCallReq == nil {
			continue
		}
		if part.ToolCallReq.IsHosted() {
			hosted = append(hosted, part.ToolCallReq)
		} else {
			external = append(external, part.ToolCallReq)
		}
	}
	return hosted, external
}

func (r *Runner) executeHostedTools(ctx context.Context, calls []*domain.ToolCallRequest) []domain.ContentPart {
	results := make([]domain.ContentPart, 0, len(calls))
	for _, call := range calls {
		toolCtx := observability.AddToolCallID(ctx, call.ID)
		if r.Events != nil {
			_ = r.Events.RecordToolStart(toolCtx, call.Name, json.RawMessage(call.Input))
		}
		started := time.Now()

		tool, ok := r.HostedTools.Get(call.Name)
		if !ok {
			err := fmt.Errorf("hosted tool %s is not registered", call.Name)
			if r.Events != nil {
				_ = r.Events.RecordToolEnd(toolCtx, call.Name, time.Since(started), nil, err)
			}
			results = append(results, domain.NewToolCallResultPart(&domain.ToolCallResult{
				ID:    call.ID,
				Error: err.Error(),
			}))
			continue
		}
		value, err := tool.Execute(ctx, call.Input)
		if r.Events != nil {
			_ = r.Events.RecordToolEnd(toolCtx, call.Name, time.Since(started), json.RawMessage(value), err)
		}
		if err != nil {
			results = append(results, domain.NewToolCallResultPart(&domain.ToolCallResult{
				ID:    call.ID,
				Error: err.Error(),
			}))
			continue
		}
		results = append(results, domain.NewToolCallResultPart(&domain.ToolCallResult{
			ID:     call.ID,
			Result: value,
		}))
	}
	return results
}

// runLLMCall walks the pipeline until one provider attempt produces a
// valid output, recording every attempt into the completion's trace.
func (r *Runner) runLLMCall(ctx context.Context, req Request, completion *domain.AgentCompletion, messages []domain.Message, tools []domain.Tool, emit chunkEmitter) ([]domain.ContentPart, *domain.RunError) {
	pl := pipeline.New(pipeline.Config{
		Version:            req.Version,
		CustomConfigs:      req.CustomConfigs,
		Catalog:            r.Catalog,
		Providers:          r.Providers,
		Factory:            r.Factory,
		RequiredModalities: requiredModalities(messages),
	})

	var lastErr *domain.RunError
	var corrective []domain.Message
	var lastOutput []domain.ContentPart
	attemptCount := 0
	fallbackRecorded := false

	for {
		attempt, err := pl.Next(lastErr)
		if err != nil {
			return nil, asRunError(err)
		}

		if r.Events != nil {
			eventType := observability.EventTypeAttemptStart
			switch {
			case attempt.FallbackModel && !fallbackRecorded:
				eventType = observability.EventTypeModelFallback
				fallbackRecorded = true
			case attemptCount > 0:
				eventType = observability.EventTypeAttemptRetry
			}
			_ = r.Events.RecordAttemptEvent(ctx, eventType, attempt.Credential.ID(), map[string]any{
				"provider": attempt.Adapter.Name(),
				"model":    attempt.Model,
			})
		}
		attemptCount++

		structured := attempt.StructuredGeneration
		if attempt.ModelData != nil {
			sanitized := attempt.Adapter.SanitizeModelData(*attempt.ModelData)
			if !sanitized.SupportsStructuredOutput {
				structured = false
			}
		}

		msgs := messages
		if !structured {
			msgs = appendSchemaInstruction(msgs, req.Version)
		}
		msgs = append(msgs, corrective...)

		msgs, fileErr := sanitizeFiles(ctx, r.HTTPClient, attempt.Adapter, msgs)
		if fileErr != nil {
			lastErr = asRunError(fileErr)
			lastErr.Provider = attempt.Adapter.Name()
			lastErr.Model = attempt.Model
			completion.Trace = append(completion.Trace, domain.LLMCompletion{
				Provider: attempt.Adapter.Name(),
				Model:    attempt.Model,
				Error:    lastErr,
			})
			continue
		}

		creq := buildCompletionRequest(req.Version, attempt, msgs, tools, structured)
		if checkErr := attempt.Adapter.ValidateRequest(creq); checkErr != nil {
			lastErr = asRunError(checkErr)
			continue
		}

		callStart := time.Now()
		parts, usage, callErr := r.invoke(ctx, attempt, creq, emit)
		trace := domain.LLMCompletion{
			Provider: attempt.Adapter.Name(),
			Model:    attempt.Model,
			Messages: msgs,
			Duration: time.Since(callStart),
			Usage:    usage,
		}

		if callErr == nil {
			// Tool-call turns defer validation to the loop's final answer.
			if hosted, external := splitToolCalls(parts); len(hosted) == 0 && len(external) == 0 {
				validated, vErr := validateOutput(req.Version, parts)
				if vErr != nil {
					lastOutput = parts
					callErr = vErr
				} else {
					parts = validated
				}
			}
		}

		if callErr != nil {
			re := asRunError(callErr)
			if re.Provider == "" {
				re.Provider = attempt.Adapter.Name()
			}
			if re.Model == "" {
				re.Model = attempt.Model
			}
			trace.Error = re
			trace.ProviderRequestIncursCost = re.IncursCost
			completion.Trace = append(completion.Trace, trace)

			r.logger().Info(ctx, "provider attempt failed",
				"provider", trace.Provider,
				"model", trace.Model,
				"error_kind", string(re.Kind))

			if re.Kind == domain.KindRateLimit && r.RateLimits != nil {
				r.RateLimits.RecordLimited(attempt.Credential.ID())
			}
			if re.Kind.Spec().AddExceptionToMessages {
				corrective = correctiveMessages(lastOutput, re)
			}
			lastOutput = nil
			lastErr = re
			continue
		}

		trace.Output = parts
		trace.ProviderRequestIncursCost = true
		completion.Trace = append(completion.Trace, trace)
		return parts, nil
	}
}

// invoke performs one provider round trip, streaming when the caller asked
// for chunks and the adapter supports it.
func (r *Runner) invoke(ctx context.Context, attempt *pipeline.Attempt, creq *providers.CompletionRequest, emit chunkEmitter) ([]domain.ContentPart, domain.LLMUsage, error) {
	if emit == nil || !attempt.Adapter.IsStreamable(creq.Model) {
		result, err := attempt.Adapter.Complete(ctx, creq)
		if err != nil {
			return nil, domain.LLMUsage{}, err
		}
		return result.Output, result.Usage, nil
	}
	return r.invokeStreaming(ctx, attempt, creq, emit)
}

func buildCompletionRequest(version domain.Version, attempt *pipeline.Attempt, messages []domain.Message, tools []domain.Tool, structured bool) *providers.CompletionRequest {
	creq := &providers.CompletionRequest{
		Model:                attempt.Model,
		Messages:             messages,
		Tools:                tools,
		ToolChoice:           version.ToolChoice,
		MaxOutputTokens:      version.MaxOutputTokens,
		Temperature:          version.Temperature,
		TopP:                 version.TopP,
		PresencePenalty:      version.PresencePenalty,
		FrequencyPenalty:     version.FrequencyPenalty,
		OutputSchema:         version.OutputSchema,
		StructuredGeneration: structured,
		ReasoningEffort:      version.ReasoningEffort,
		ReasoningBudget:      version.ReasoningBudget,
		ParallelToolCalls:    version.ParallelToolCalls,
	}
	if creq.ReasoningBudget == nil && version.ReasoningEffort != "" && attempt.ModelData != nil {
		if budget, ok := attempt.ModelData.ReasoningBudgets[version.ReasoningEffort]; ok {
			creq.ReasoningBudget = &budget
		}
	}
	return creq
}

// correctiveMessages builds the two-message retry suffix: the assistant's
// previous response and a user message naming the error.
func correctiveMessages(lastOutput []domain.ContentPart, re *domain.RunError) []domain.Message {
	assistantText := "EMPTY MESSAGE"
	if len(lastOutput) > 0 {
		var msg domain.Message
		msg.Content = lastOutput
		if text := msg.TextContent(); text != "" {
			assistantText = text
		}
	} else if partial, ok := re.Details["partial_output"].(json.RawMessage); ok && len(partial) > 0 {
		assistantText = string(partial)
	}

	return []domain.Message{
		{Role: domain.RoleAssistant, Content: []domain.ContentPart{domain.NewTextPart(assistantText)}},
		{Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart(
			fmt.Sprintf("Your previous response was invalid with error `%s`.\nPlease retry", re.Message),
		)}},
	}
}

func requiredModalities(messages []domain.Message) []domain.Modality {
	seen := map[domain.Modality]bool{domain.ModalityText: true}
	out := []domain.Modality{domain.ModalityText}
	for _, msg := range messages {
		for _, part := range msg.Content {
			if part.Kind != domain.PartFile || part.File == nil {
				continue
			}
			var mod domain.Modality
			switch part.File.Format {
			case domain.FormatImage:
				mod = domain.ModalityImage
			case domain.FormatAudio:
				mod = domain.ModalityAudio
			case domain.FormatPDF, domain.FormatDocument:
				mod = domain.ModalityPDF
			default:
				continue
			}
			if !seen[mod] {
				seen[mod] = true
				out = append(out, mod)
			}
		}
	}
	return out
}

func asRunError(err error) *domain.RunError {
	if err == nil {
		return nil
	}
	var re *domain.RunError
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.RunError{Kind: domain.KindTimeout, Message: "request deadline exceeded", Cause: err}
	}
	return &domain.RunError{Kind: domain.KindInternalError, Message: err.Error(), Cause: err}
}
