package cost

import (
	"context"
	"errors"
	"testing"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/models"
)

func f64(v float64) *float64 { return &v }

func simplePricing() domain.Pricing {
	return domain.Pricing{
		PromptTiers:     []domain.PriceTier{{USDPerMillion: 2.0}},
		CompletionTiers: []domain.PriceTier{{USDPerMillion: 8.0}},
	}
}

func TestComputeTextCost(t *testing.T) {
	usage := domain.LLMUsage{PromptTokens: 1_000_000, CompletionTokens: 500_000}
	got, err := Compute(usage, simplePricing(), true)
	if err != nil {
		t.Fatal(err)
	}
	if *got.TextCostUSD != 6.0 { // 1M*2 + 0.5M*8 per million
		t.Errorf("text cost = %v", *got.TextCostUSD)
	}
	if *got.TotalCostUSD != 6.0 {
		t.Errorf("total = %v", *got.TotalCostUSD)
	}
}

func TestComputeNoCostOnFreeError(t *testing.T) {
	usage := domain.LLMUsage{PromptTokens: 1000, CompletionTokens: 1000}
	got, err := Compute(usage, simplePricing(), false)
	if err != nil {
		t.Fatal(err)
	}
	if *got.TotalCostUSD != 0 {
		t.Errorf("total = %v, want 0 for non-billed request", *got.TotalCostUSD)
	}
}

func TestComputeCachedDiscount(t *testing.T) {
	pricing := simplePricing()
	pricing.CachedPromptUSDPerMillion = f64(0.5)

	usage := domain.LLMUsage{PromptTokens: 1_000_000, PromptCachedTokens: 400_000}
	got, err := Compute(usage, pricing, true)
	if err != nil {
		t.Fatal(err)
	}
	// 600k at 2.0 + 400k at 0.5 = 1.2 + 0.2
	if *got.TextCostUSD != 1.4 {
		t.Errorf("cached cost = %v", *got.TextCostUSD)
	}
}

func TestComputeTieredPricing(t *testing.T) {
	pricing := domain.Pricing{
		PromptTiers: []domain.PriceTier{
			{UpToTokens: 200_000, USDPerMillion: 1.0},
			{USDPerMillion: 2.0},
		},
		CompletionTiers: []domain.PriceTier{{USDPerMillion: 4.0}},
	}

	under := domain.LLMUsage{PromptTokens: 100_000}
	got, _ := Compute(under, pricing, true)
	if *got.TextCostUSD != 0.1 {
		t.Errorf("under threshold = %v", *got.TextCostUSD)
	}

	over := domain.LLMUsage{PromptTokens: 300_000}
	got, _ = Compute(over, pricing, true)
	if *got.TextCostUSD != 0.6 { // whole prompt at the over-threshold rate
		t.Errorf("over threshold = %v", *got.TextCostUSD)
	}
}

func TestComputeImageCost(t *testing.T) {
	pricing := simplePricing()
	pricing.ImageUSDPerImage = f64(0.0025)

	usage := domain.LLMUsage{PromptImageCount: 4}
	got, err := Compute(usage, pricing, true)
	if err != nil {
		t.Fatal(err)
	}
	if *got.ImageCostUSD != 0.01 {
		t.Errorf("image cost = %v", *got.ImageCostUSD)
	}
}

func TestComputeAudioPerSecondRequiresDuration(t *testing.T) {
	pricing := simplePricing()
	pricing.AudioUSDPerSecond = f64(0.0001)

	usage := domain.LLMUsage{PromptTokens: 1000, PromptAudioTokens: 500}
	if _, err := Compute(usage, pricing, true); !errors.Is(err, ErrUnpriceable) {
		t.Errorf("missing duration = %v, want ErrUnpriceable", err)
	}

	usage.PromptAudioDurationSeconds = 30
	got, err := Compute(usage, pricing, true)
	if err != nil {
		t.Fatal(err)
	}
	if *got.AudioCostUSD != 0.003 {
		t.Errorf("audio cost = %v", *got.AudioCostUSD)
	}
}

func TestComputeIdempotent(t *testing.T) {
	usage := domain.LLMUsage{PromptTokens: 1000, CompletionTokens: 200}
	first, err := Compute(usage, simplePricing(), true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Compute(first, simplePricing(), true)
	if err != nil {
		t.Fatal(err)
	}
	if *first.TotalCostUSD != *second.TotalCostUSD {
		t.Errorf("totals differ: %v vs %v", *first.TotalCostUSD, *second.TotalCostUSD)
	}
}

func TestFinalizeCompletion(t *testing.T) {
	catalog := models.NewCatalog()
	completion := &domain.AgentCompletion{
		Trace: []domain.LLMCompletion{
			{
				Provider:                  "openai",
				Model:                     "gpt-4.1",
				Usage:                     domain.LLMUsage{PromptTokens: 1_000_000, CompletionTokens: 0},
				ProviderRequestIncursCost: true,
			},
			{
				Provider: "openai",
				Model:    "gpt-4.1",
				Usage:    domain.LLMUsage{PromptTokens: 999},
				// not billed: a failed attempt the provider didn't charge
			},
		},
	}

	FinalizeCompletion(context.Background(), catalog, completion)

	if completion.CostUSD == nil {
		t.Fatal("cost not computed")
	}
	if *completion.CostUSD != 2.0 {
		t.Errorf("total = %v", *completion.CostUSD)
	}
	if *completion.Trace[1].Usage.TotalCostUSD != 0 {
		t.Errorf("unbilled trace cost = %v", *completion.Trace[1].Usage.TotalCostUSD)
	}

	// Finalizing again must produce the same totals.
	FinalizeCompletion(context.Background(), catalog, completion)
	if *completion.CostUSD != 2.0 {
		t.Errorf("second finalize total = %v", *completion.CostUSD)
	}
}

func TestFinalizeUnknownModelLeavesCostNil(t *testing.T) {
	catalog := models.NewCatalog()
	completion := &domain.AgentCompletion{
		Trace: []domain.LLMCompletion{
			{Provider: "x", Model: "mystery-model", ProviderRequestIncursCost: true},
		},
	}
	FinalizeCompletion(context.Background(), catalog, completion)
	if completion.CostUSD != nil {
		t.Errorf("cost = %v, want nil for unknown model", *completion.CostUSD)
	}
}

func TestTrackerAggregates(t *testing.T) {
	tr := NewTracker()
	tr.Record(domain.LLMCompletion{
		Provider: "openai", Model: "gpt-4.1",
		Usage: domain.LLMUsage{PromptTokens: 100, TotalCostUSD: f64(0.5)},
	})
	tr.Record(domain.LLMCompletion{
		Provider: "openai", Model: "gpt-4.1",
		Usage: domain.LLMUsage{PromptTokens: 50, TotalCostUSD: f64(0.25)},
	})

	snap := tr.Snapshot()
	entry := snap["openai:gpt-4.1"]
	if entry.Calls != 2 || entry.Usage.PromptTokens != 150 {
		t.Errorf("entry = %+v", entry)
	}
	if tr.TotalCostUSD() != 0.75 {
		t.Errorf("total = %v", tr.TotalCostUSD())
	}
}
