package playground

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anotherai/gateway/internal/cache"
	"github.com/anotherai/gateway/internal/config"
	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/experiments"
	"github.com/anotherai/gateway/internal/models"
	"github.com/anotherai/gateway/internal/providers"
	"github.com/anotherai/gateway/internal/runner"
	"github.com/anotherai/gateway/internal/storage"
)

// countingAdapter answers every call with a fixed text and counts
// upstream requests.
type countingAdapter struct {
	mu    sync.Mutex
	calls atomic.Int32
}

func (a *countingAdapter) Name() string                                          { return "fake" }
func (a *countingAdapter) SupportsModel(string) bool                             { return true }
func (a *countingAdapter) DefaultModel() string                                  { return "" }
func (a *countingAdapter) RequiresDownloadingFile(domain.File) bool              { return false }
func (a *countingAdapter) IsStreamable(string) bool                              { return false }
func (a *countingAdapter) SanitizeModelData(d domain.ModelData) domain.ModelData { return d }
func (a *countingAdapter) ValidateRequest(*providers.CompletionRequest) error    { return nil }
func (a *countingAdapter) CheckValid(context.Context) bool                       { return true }
func (a *countingAdapter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	a.calls.Add(1)
	return &providers.CompletionResult{
		Output: []domain.ContentPart{domain.NewTextPart("answer")},
		Usage:  domain.LLMUsage{PromptTokens: 10, CompletionTokens: 2},
	}, nil
}
func (a *countingAdapter) Stream(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.CompletionChunk, error) {
	return nil, nil
}

func testOrchestrator(adapter providers.Adapter) (*Orchestrator, storage.StoreSet) {
	cat := models.NewCatalog()
	for _, id := range []string{"model-a", "model-b"} {
		cat.Register(&domain.ModelData{
			ModelID:                 id,
			SupportsInputModalities: []domain.Modality{domain.ModalityText},
			SupportsTools:           true,
			Providers:               []domain.ModelProviderOverride{{Provider: "fake"}},
		})
	}

	stores := storage.NewMemoryStoreSet()
	r := &runner.Runner{
		Catalog: cat,
		Providers: &config.Config{Credentials: map[string][]config.ProviderCredential{
			"fake": {{Provider: "fake", APIKey: "k"}},
		}},
		Factory: func(config.ProviderCredential) (providers.Adapter, error) {
			return adapter, nil
		},
		Stores:      stores,
		HostedTools: runner.NewHostedToolRegistry(),
	}

	return &Orchestrator{
		Runner:      r,
		Stores:      stores,
		Experiments: experiments.NewManager(stores.Experiments, stores.Completions),
		Cache:       cache.NewCompletionCache(cache.CompletionCacheOptions{MaxSize: 100}),
	}, stores
}

func basicParams(policy domain.CachePolicy) Params {
	return Params{
		ExperimentID: "exp-1",
		AgentID:      "test-agent",
		Inputs: []domain.AgentInput{
			{Variables: json.RawMessage(`{"name":"Toulouse"}`)},
			{Variables: json.RawMessage(`{"name":"Pittsburgh"}`)},
		},
		Models:       []string{"model-a", "model-b"},
		Temperatures: []float64{0, 1.0},
		Prompts: [][]domain.Message{{
			{Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("capital of {{name}}?")}},
		}},
		CachePolicy: policy,
	}
}

func TestFanOutProducesAllCells(t *testing.T) {
	adapter := &countingAdapter{}
	o, _ := testOrchestrator(adapter)

	results, err := o.Run(context.Background(), basicParams(domain.CacheNever))
	if err != nil {
		t.Fatal(err)
	}
	// 2 models × 2 temperatures × 1 prompt = 4 versions; × 2 inputs = 8.
	if len(results) != 8 {
		t.Fatalf("results = %d, want 8", len(results))
	}
	for _, res := range results {
		if res.Completion == nil {
			t.Errorf("cell %s/%s has no completion", res.VersionID, res.InputID)
		}
	}
	if adapter.calls.Load() != 8 {
		t.Errorf("upstream calls = %d, want 8", adapter.calls.Load())
	}
}

func TestCacheAlwaysSkipsRepeatUpstreamCalls(t *testing.T) {
	adapter := &countingAdapter{}
	o, _ := testOrchestrator(adapter)

	params := basicParams(domain.CacheAlways)
	if _, err := o.Run(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	first := adapter.calls.Load()
	if first != 8 {
		t.Fatalf("first run calls = %d", first)
	}

	params.ExperimentID = "exp-2"
	if _, err := o.Run(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	if adapter.calls.Load() != first {
		t.Errorf("repeat run issued %d new upstream calls", adapter.calls.Load()-first)
	}
}

func TestCacheAutoOnlyCachesDeterministicCells(t *testing.T) {
	adapter := &countingAdapter{}
	o, _ := testOrchestrator(adapter)

	params := basicParams(domain.CacheAuto)
	if _, err := o.Run(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	first := adapter.calls.Load() // 8

	params.ExperimentID = "exp-2"
	if _, err := o.Run(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	// Only the four temperature-0 cells hit the cache; the four
	// temperature-1 cells go upstream again.
	if got := adapter.calls.Load() - first; got != 4 {
		t.Errorf("repeat run issued %d new calls, want 4", got)
	}
}

func TestPreflightRejectsEmptyCell(t *testing.T) {
	adapter := &countingAdapter{}
	o, _ := testOrchestrator(adapter)

	_, err := o.Run(context.Background(), Params{
		ExperimentID: "exp-bad",
		AgentID:      "test-agent",
		Inputs:       []domain.AgentInput{{}},
		Models:       []string{"model-a"},
	})
	re, ok := err.(*domain.RunError)
	if !ok || re.Kind != domain.KindBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestInputsDerivedFromPromptsWithSharedSystem(t *testing.T) {
	adapter := &countingAdapter{}
	o, _ := testOrchestrator(adapter)

	system := domain.Message{Role: domain.RoleSystem, Content: []domain.ContentPart{domain.NewTextPart("be brief")}}
	params := Params{
		ExperimentID: "exp-prompts",
		AgentID:      "test-agent",
		Models:       []string{"model-a"},
		Prompts: [][]domain.Message{
			{system, {Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("q1")}}},
			{system, {Role: domain.RoleUser, Content: []domain.ContentPart{domain.NewTextPart("q2")}}},
		},
	}

	results, err := o.Run(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	// One shared-prompt version × two derived inputs.
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
}

func TestVersionDeduplication(t *testing.T) {
	adapter := &countingAdapter{}
	o, _ := testOrchestrator(adapter)

	params := basicParams(domain.CacheNever)
	params.Models = []string{"model-a", "model-a"} // duplicate collapses
	params.Temperatures = []float64{0}

	results, err := o.Run(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 { // 1 deduped version × 2 inputs
		t.Fatalf("results = %d, want 2", len(results))
	}
}

func TestOutputsReturnsWhenTerminal(t *testing.T) {
	adapter := &countingAdapter{}
	o, _ := testOrchestrator(adapter)

	params := basicParams(domain.CacheNever)
	if _, err := o.Run(context.Background(), params); err != nil {
		t.Fatal(err)
	}

	completions, err := o.Outputs(context.Background(), "exp-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(completions) != 8 {
		t.Errorf("completions = %d", len(completions))
	}
}
