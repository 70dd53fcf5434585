// Package experiments manages experiment state: the version and input
// sets, per-cell completion records, and the terminal-state polling the
// playground's output gathering relies on.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/storage"
)

// ErrOperationTimeout is returned when an experiment's completions do not
// all reach a terminal state within the caller's wait budget.
var ErrOperationTimeout = errors.New("experiments: timed out waiting for completions")

// pollInterval is how often Outputs re-checks the store.
const pollInterval = 5 * time.Second

// Manager coordinates experiment state through the experiment store.
type Manager struct {
	store       storage.ExperimentStore
	completions storage.CompletionStore
}

// NewManager creates a manager over the given stores.
func NewManager(store storage.ExperimentStore, completions storage.CompletionStore) *Manager {
	return &Manager{store: store, completions: completions}
}

// CreateOrGet registers the experiment if its id is new, otherwise returns
// the stored one.
func (m *Manager) CreateOrGet(ctx context.Context, experiment *domain.Experiment) (*domain.Experiment, error) {
	err := m.store.Create(ctx, experiment)
	if err == nil {
		return experiment, nil
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		return m.store.Get(ctx, experiment.ID)
	}
	return nil, err
}

// AddVersions appends versions not already in the experiment's set, keyed
// by content hash.
func (m *Manager) AddVersions(ctx context.Context, experimentID string, versions []domain.Version) (*domain.Experiment, error) {
	experiment, err := m.store.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	changed := false
	for _, v := range versions {
		if experiment.AddVersion(v) {
			changed = true
		}
	}
	if changed {
		if err := m.store.Update(ctx, experiment); err != nil {
			return nil, err
		}
	}
	return experiment, nil
}

// AddInputs appends inputs not already in the experiment's set.
func (m *Manager) AddInputs(ctx context.Context, experimentID string, inputs []domain.AgentInput) (*domain.Experiment, error) {
	experiment, err := m.store.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	changed := false
	for _, in := range inputs {
		if experiment.AddInput(in) {
			changed = true
		}
	}
	if changed {
		if err := m.store.Update(ctx, experiment); err != nil {
			return nil, err
		}
	}
	return experiment, nil
}

// RecordCompletion records one cell's completion reference, marking it
// terminal when the run finished (success or captured error).
func (m *Manager) RecordCompletion(ctx context.Context, experimentID string, versionID, inputID string, completionID string, terminal bool) error {
	return m.store.SetCompletion(ctx, storage.ExperimentCompletionRef{
		ExperimentID: experimentID,
		VersionID:    versionID,
		InputID:      inputID,
		CompletionID: completionID,
		Terminal:     terminal,
	})
}

// Outputs polls until every cell of the experiment's cartesian product is
// terminal, then returns the completions. It checks every 5 seconds and
// gives up after maxWait with ErrOperationTimeout.
func (m *Manager) Outputs(ctx context.Context, experimentID string, maxWait time.Duration) ([]*domain.AgentCompletion, error) {
	deadline := time.Now().Add(maxWait)

	for {
		experiment, err := m.store.Get(ctx, experimentID)
		if err != nil {
			return nil, err
		}
		refs, err := m.store.Completions(ctx, experimentID)
		if err != nil {
			return nil, err
		}

		expected := len(experiment.Cells())
		terminal := 0
		for _, ref := range refs {
			if ref.Terminal {
				terminal++
			}
		}
		if expected > 0 && terminal >= expected {
			return m.collect(ctx, refs)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %d of %d completions terminal", ErrOperationTimeout, terminal, expected)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (m *Manager) collect(ctx context.Context, refs []storage.ExperimentCompletionRef) ([]*domain.AgentCompletion, error) {
	out := make([]*domain.AgentCompletion, 0, len(refs))
	for _, ref := range refs {
		completion, err := m.completions.Get(ctx, ref.CompletionID)
		if err != nil {
			return nil, err
		}
		out = append(out, completion)
	}
	return out, nil
}
