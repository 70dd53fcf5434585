// Package playground fans a set of versions out over a set of inputs,
// producing one completion per (version, input) cell with optional result
// caching, and records everything under an experiment.
package playground

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anotherai/gateway/internal/cache"
	"github.com/anotherai/gateway/internal/cost"
	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/experiments"
	"github.com/anotherai/gateway/internal/observability"
	"github.com/anotherai/gateway/internal/runner"
	"github.com/anotherai/gateway/internal/storage"
)

// Orchestrator runs playground experiments.
type Orchestrator struct {
	Runner      *runner.Runner
	Stores      storage.StoreSet
	Experiments *experiments.Manager
	Cache       *cache.CompletionCache
	Logger      *observability.Logger

	// Tracker, when set, aggregates per-model spend across runs.
	Tracker *cost.Tracker
}

// Params describes one playground invocation. Dimensions left empty
// collapse to a single unset entry, so only what varies needs listing.
type Params struct {
	ExperimentID string
	AgentID      string
	Title        string
	Description  string
	Author       string
	Metadata     map[string]string

	Inputs []domain.AgentInput

	// CompletionQuery, when set, derives inputs from prior completions
	// instead of Inputs.
	CompletionQuery string

	Models       []string
	Temperatures []float64
	Prompts      [][]domain.Message
	ToolLists    [][]string
	OutputSchemas []json.RawMessage

	CachePolicy domain.CachePolicy
}

// Result is the outcome of one cell.
type Result struct {
	VersionID  string
	InputID    string
	Completion *domain.AgentCompletion
	FromCache  bool
}

// Run materialises the version cartesian product, fans out one completion
// per (version, input) cell, and returns the per-cell results. Experiment
// state is observable via the experiment id while the fan-out runs.
func (o *Orchestrator) Run(ctx context.Context, params Params) ([]Result, error) {
	inputs, err := o.resolveInputs(ctx, &params)
	if err != nil {
		return nil, err
	}
	versions := buildVersions(params)
	if len(versions) == 0 {
		return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: "playground requires at least one model"}
	}

	experiment := &domain.Experiment{
		ID:          params.ExperimentID,
		AgentID:     params.AgentID,
		Title:       params.Title,
		Description: params.Description,
		Author:      params.Author,
		Metadata:    params.Metadata,
		Versions:    versions,
		Inputs:      inputs,
		CachePolicy: params.CachePolicy,
	}
	if experiment.ID == "" {
		experiment.ID = domain.NewCompletionID()
	}

	// Pre-flight: a version with an empty prompt paired with an input with
	// no messages would send a zero-message request.
	if experiment.HasEmptyCell() {
		return nil, &domain.RunError{
			Kind:    domain.KindBadRequest,
			Message: "an empty prompt combined with an empty input would produce a call with no messages",
		}
	}

	if _, err := o.Experiments.CreateOrGet(ctx, experiment); err != nil {
		return nil, err
	}

	return o.fanOut(ctx, experiment)
}

// fanOut runs every cell concurrently; cells are independent and complete
// in no particular order.
func (o *Orchestrator) fanOut(ctx context.Context, experiment *domain.Experiment) ([]Result, error) {
	cells := experiment.Cells()
	results := make([]Result, len(cells))

	var wg sync.WaitGroup
	for i, cell := range cells {
		wg.Add(1)
		go func(i int, cell domain.ExperimentCell) {
			defer wg.Done()
			results[i] = o.runCell(ctx, experiment, cell)
		}(i, cell)
	}
	wg.Wait()

	return results, nil
}

func (o *Orchestrator) runCell(ctx context.Context, experiment *domain.Experiment, cell domain.ExperimentCell) Result {
	version := experiment.Versions[cell.VersionIndex]
	input := experiment.Inputs[cell.InputIndex]

	result := Result{VersionID: cell.VersionID, InputID: cell.InputID}

	run := func() (*domain.AgentCompletion, error) {
		completion, err := o.Runner.Run(ctx, runner.Request{
			AgentID:  experiment.AgentID,
			Version:  version,
			Input:    input,
			Metadata: map[string]string{"experiment_id": experiment.ID},
		})
		// A captured run error still yields a completion; only a missing
		// completion is a hard failure here.
		if completion == nil {
			return nil, err
		}
		return completion, nil
	}

	var completion *domain.AgentCompletion
	var err error
	if o.cacheable(experiment.CachePolicy, version) {
		key := cache.Key(cell.VersionID, cell.InputID)
		before, _ := o.Cache.Get(key)
		completion, err = o.Cache.GetOrBuild(key, run)
		result.FromCache = err == nil && before != nil && completion == before
	} else {
		completion, err = run()
	}
	if err != nil || completion == nil {
		o.logger().Warn(ctx, "experiment cell failed without a completion",
			"experiment_id", experiment.ID, "error", err)
		return result
	}

	result.Completion = completion
	if o.Tracker != nil && !result.FromCache {
		o.Tracker.RecordCompletion(completion)
	}

	if recErr := o.Experiments.RecordCompletion(ctx, experiment.ID, cell.VersionID, cell.InputID, completion.ID, true); recErr != nil {
		o.logger().Warn(ctx, "failed to record experiment completion",
			"experiment_id", experiment.ID, "error", recErr)
	}
	return result
}

// cacheable applies the cache policy: "always" caches everything, "never"
// nothing, and "auto" only deterministic cells (temperature 0, no tools).
func (o *Orchestrator) cacheable(policy domain.CachePolicy, version domain.Version) bool {
	if o.Cache == nil {
		return false
	}
	switch policy {
	case domain.CacheAlways:
		return true
	case domain.CacheNever:
		return false
	default:
		deterministic := version.Temperature == nil || *version.Temperature == 0
		return deterministic && len(version.EnabledTools) == 0
	}
}

// Outputs waits for every completion of an experiment to reach a terminal
// state, polling the store, and returns them.
func (o *Orchestrator) Outputs(ctx context.Context, experimentID string, maxWait time.Duration) ([]*domain.AgentCompletion, error) {
	return o.Experiments.Outputs(ctx, experimentID, maxWait)
}

func (o *Orchestrator) logger() *observability.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return observability.NopLogger()
}

// resolveInputs determines the input set: explicit inputs win, then a
// completion query, then inputs derived from the prompts themselves.
func (o *Orchestrator) resolveInputs(ctx context.Context, params *Params) ([]domain.AgentInput, error) {
	if len(params.Inputs) > 0 {
		return dedupeInputs(params.Inputs), nil
	}
	if params.CompletionQuery != "" {
		return o.inputsFromQuery(ctx, params.CompletionQuery)
	}
	if len(params.Prompts) > 0 {
		return inputsFromPrompts(params), nil
	}
	return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: "playground requires inputs, a completion query, or prompts"}
}

// inputsFromQuery extracts distinct (variables, messages) pairs from a
// completions query.
func (o *Orchestrator) inputsFromQuery(ctx context.Context, query string) ([]domain.AgentInput, error) {
	rows, err := o.Stores.Completions.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: "completion query returned no rows"}
	}

	var inputs []domain.AgentInput
	for _, row := range rows {
		variables, hasVars := row["variables"]
		rawMessages, hasMessages := row["messages"]
		if !hasVars && !hasMessages {
			return nil, &domain.RunError{Kind: domain.KindBadRequest, Message: "completion query must select variables and/or messages columns"}
		}

		var input domain.AgentInput
		if hasVars && variables != nil {
			b, err := json.Marshal(variables)
			if err != nil {
				return nil, fmt.Errorf("playground: cannot encode variables row: %w", err)
			}
			input.Variables = b
		}
		if hasMessages && rawMessages != nil {
			b, err := json.Marshal(rawMessages)
			if err != nil {
				return nil, fmt.Errorf("playground: cannot encode messages row: %w", err)
			}
			if err := json.Unmarshal(b, &input.Messages); err != nil {
				return nil, fmt.Errorf("playground: messages column is not a message list: %w", err)
			}
		}
		inputs = append(inputs, input)
	}
	return dedupeInputs(inputs), nil
}

// inputsFromPrompts derives inputs from each prompt's non-system tail.
// When every prompt opens with the same system message, that message stays
// the shared prompt and the remainders become inputs; otherwise the whole
// prompts become inputs and the shared prompt is empty.
func inputsFromPrompts(params *Params) []domain.AgentInput {
	prompts := params.Prompts

	shared := sharedSystemMessage(prompts)
	var inputs []domain.AgentInput
	for _, prompt := range prompts {
		tail := prompt
		if shared != nil {
			tail = prompt[1:]
		}
		inputs = append(inputs, domain.AgentInput{Messages: tail})
	}

	if shared != nil {
		params.Prompts = [][]domain.Message{{*shared}}
	} else {
		params.Prompts = [][]domain.Message{nil}
	}
	return dedupeInputs(inputs)
}

func sharedSystemMessage(prompts [][]domain.Message) *domain.Message {
	var shared *domain.Message
	for _, prompt := range prompts {
		if len(prompt) == 0 || prompt[0].Role != domain.RoleSystem {
			return nil
		}
		head := prompt[0]
		if shared == nil {
			shared = &head
			continue
		}
		if head.TextContent() != shared.TextContent() {
			return nil
		}
	}
	return shared
}

func dedupeInputs(inputs []domain.AgentInput) []domain.AgentInput {
	seen := map[string]bool{}
	out := make([]domain.AgentInput, 0, len(inputs))
	for _, in := range inputs {
		id := in.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, in)
	}
	return out
}

// buildVersions materialises the cartesian product of every dimension,
// deduplicated by version content hash.
func buildVersions(params Params) []domain.Version {
	models := params.Models
	temperatures := params.Temperatures
	prompts := params.Prompts
	toolLists := params.ToolLists
	schemas := params.OutputSchemas

	if len(temperatures) == 0 {
		temperatures = []float64{0}
	}
	if len(prompts) == 0 {
		prompts = [][]domain.Message{nil}
	}
	if len(toolLists) == 0 {
		toolLists = [][]string{nil}
	}
	if len(schemas) == 0 {
		schemas = []json.RawMessage{nil}
	}

	seen := map[string]bool{}
	var versions []domain.Version
	for _, model := range models {
		for _, temperature := range temperatures {
			for _, prompt := range prompts {
				for _, tools := range toolLists {
					for _, outputSchema := range schemas {
						temp := temperature
						v := domain.Version{
							Model:        model,
							Temperature:  &temp,
							Prompt:       prompt,
							EnabledTools: tools,
							OutputSchema: outputSchema,
						}
						id := v.ID()
						if seen[id] {
							continue
						}
						seen[id] = true
						versions = append(versions, v)
					}
				}
			}
		}
	}
	return versions
}
