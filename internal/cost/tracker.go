package cost

import (
	"sync"

	"github.com/anotherai/gateway/internal/domain"
)

// Tracker aggregates usage and spend per (provider, model) key. The
// playground orchestrator records every completion into one to report
// experiment-level totals.
type Tracker struct {
	mu     sync.RWMutex
	totals map[string]*Totals
}

// Totals is the accumulated usage and spend for one provider/model pair.
type Totals struct {
	Calls   int
	Usage   domain.LLMUsage
	CostUSD float64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{totals: make(map[string]*Totals)}
}

// Record adds one traced LLM call.
func (t *Tracker) Record(trace domain.LLMCompletion) {
	key := trace.Provider + ":" + trace.Model

	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.totals[key]
	if entry == nil {
		entry = &Totals{}
		t.totals[key] = entry
	}
	entry.Calls++
	entry.Usage.Add(trace.Usage)
	if trace.Usage.TotalCostUSD != nil {
		entry.CostUSD += *trace.Usage.TotalCostUSD
	}
}

// RecordCompletion adds every traced call of a completion.
func (t *Tracker) RecordCompletion(completion *domain.AgentCompletion) {
	for _, trace := range completion.Trace {
		t.Record(trace)
	}
}

// Snapshot returns the current totals keyed by "provider:model".
func (t *Tracker) Snapshot() map[string]Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Totals, len(t.totals))
	for key, entry := range t.totals {
		out[key] = *entry
	}
	return out
}

// TotalCostUSD sums spend across every key.
func (t *Tracker) TotalCostUSD() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total float64
	for _, entry := range t.totals {
		total += entry.CostUSD
	}
	return total
}
