package cost

import (
	"context"
	"time"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/models"
)

// FinalizeTimeout bounds the post-hoc cost computation. Pricing a run must
// never delay or fail a completed request, so on expiry the cost fields
// are simply left nil.
const FinalizeTimeout = 100 * time.Millisecond

// finalizeResult is the pricing outcome computed off to the side: one
// usage record per trace entry plus the summed total.
type finalizeResult struct {
	usages  []domain.LLMUsage
	costUSD *float64
}

// FinalizeCompletion prices every traced LLM call of a completion and sums
// the totals into CostUSD, all under FinalizeTimeout. The computation runs
// against copies of the trace entries and its results are applied by this
// goroutine only; when the deadline expires the background work is
// abandoned with nothing to alias, so the completion stays owned by its
// runner. Unpriceable or timed-out calls leave their cost fields nil;
// already-priced calls recompute to the same values, so finalizing twice
// is harmless.
func FinalizeCompletion(ctx context.Context, catalog *models.Catalog, completion *domain.AgentCompletion) {
	ctx, cancel := context.WithTimeout(ctx, FinalizeTimeout)
	defer cancel()

	// Snapshot the inputs the background computation needs; it never
	// touches the completion itself.
	type traceInput struct {
		model      string
		usage      domain.LLMUsage
		incursCost bool
	}
	inputs := make([]traceInput, len(completion.Trace))
	for i, trace := range completion.Trace {
		inputs[i] = traceInput{
			model:      trace.Model,
			usage:      trace.Usage,
			incursCost: trace.ProviderRequestIncursCost,
		}
	}

	done := make(chan finalizeResult, 1)
	go func() {
		result := finalizeResult{usages: make([]domain.LLMUsage, len(inputs))}
		var total float64
		priced := false
		for i, in := range inputs {
			result.usages[i] = in.usage
			data, ok := catalog.Get(in.model)
			if !ok {
				continue
			}
			usage, err := Compute(in.usage, data.Pricing, in.incursCost)
			if err != nil {
				continue
			}
			result.usages[i] = usage
			if usage.TotalCostUSD != nil {
				total += *usage.TotalCostUSD
				priced = true
			}
		}
		if priced {
			result.costUSD = &total
		}
		done <- result
	}()

	select {
	case result := <-done:
		for i := range completion.Trace {
			completion.Trace[i].Usage = result.usages[i]
		}
		if result.costUSD != nil {
			completion.CostUSD = result.costUSD
		}
	case <-ctx.Done():
		// Deadline hit: the buffered channel lets the goroutine finish and
		// exit; its result is discarded and the completion keeps nil costs.
	}
}
