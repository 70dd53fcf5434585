// Package storage defines the repository interfaces the runner, playground
// orchestrator, and deployment resolver persist through, plus in-memory
// implementations for tests and local development. Durable SQL/columnar
// backends implement these same interfaces out of tree.
package storage

import (
	"context"
	"errors"

	"github.com/anotherai/gateway/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrQueryUnsupported is returned by backends without an analytics
	// query engine (e.g. the in-memory store).
	ErrQueryUnsupported = errors.New("completion queries are not supported by this backend")
)

// VersionStore persists Versions. Versions are content-addressed, so Put
// is idempotent: storing the same Version twice is a no-op.
type VersionStore interface {
	Put(ctx context.Context, version domain.Version) (id string, err error)
	Get(ctx context.Context, id string) (*domain.Version, error)
}

// InputStore persists AgentInputs, content-addressed like Versions.
type InputStore interface {
	Put(ctx context.Context, input domain.AgentInput) (id string, err error)
	Get(ctx context.Context, id string) (*domain.AgentInput, error)
}

// CompletionStore persists AgentCompletions.
type CompletionStore interface {
	Create(ctx context.Context, completion *domain.AgentCompletion) error
	Get(ctx context.Context, id string) (*domain.AgentCompletion, error)
	Update(ctx context.Context, completion *domain.AgentCompletion) error

	// Query runs an analytics query over completions, returning one row
	// per result as a column-name → value map. Backends without a query
	// engine return ErrQueryUnsupported.
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

// ExperimentCompletionRef links one cell of an experiment's cartesian
// product to its completion and terminal state.
type ExperimentCompletionRef struct {
	ExperimentID string
	VersionID    string
	InputID      string
	CompletionID string

	// Terminal is set once the completion finished, win or lose.
	Terminal bool
}

// ExperimentStore persists Experiments and their per-cell completion refs.
type ExperimentStore interface {
	Create(ctx context.Context, experiment *domain.Experiment) error
	Get(ctx context.Context, id string) (*domain.Experiment, error)
	Update(ctx context.Context, experiment *domain.Experiment) error

	// SetCompletion records (or overwrites) the completion ref for one
	// (version, input) cell.
	SetCompletion(ctx context.Context, ref ExperimentCompletionRef) error

	// Completions lists every recorded cell ref for an experiment.
	Completions(ctx context.Context, experimentID string) ([]ExperimentCompletionRef, error)
}

// DeploymentStore persists Deployments.
type DeploymentStore interface {
	Create(ctx context.Context, deployment *domain.Deployment) error
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	Update(ctx context.Context, deployment *domain.Deployment) error

	// List returns deployments for an agent (all agents when agentID is
	// empty), hiding archived ones unless includeArchived is set.
	List(ctx context.Context, agentID string, includeArchived bool) ([]*domain.Deployment, error)
}

// StoreSet groups the repositories a gateway instance runs against.
type StoreSet struct {
	Versions    VersionStore
	Inputs      InputStore
	Completions CompletionStore
	Experiments ExperimentStore
	Deployments DeploymentStore
}

// NewMemoryStoreSet builds a StoreSet backed entirely by in-memory stores.
func NewMemoryStoreSet() StoreSet {
	return StoreSet{
		Versions:    NewMemoryVersionStore(),
		Inputs:      NewMemoryInputStore(),
		Completions: NewMemoryCompletionStore(),
		Experiments: NewMemoryExperimentStore(),
		Deployments: NewMemoryDeploymentStore(),
	}
}
