package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anotherai/gateway/internal/domain"
)

// MemoryVersionStore provides an in-memory VersionStore.
type MemoryVersionStore struct {
	mu       sync.RWMutex
	versions map[string]domain.Version
}

// NewMemoryVersionStore creates an in-memory version store.
func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{versions: make(map[string]domain.Version)}
}

func (s *MemoryVersionStore) Put(ctx context.Context, version domain.Version) (string, error) {
	id := version.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[id] = version
	return id, nil
}

func (s *MemoryVersionStore) Get(ctx context.Context, id string) (*domain.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &version, nil
}

// MemoryInputStore provides an in-memory InputStore.
type MemoryInputStore struct {
	mu     sync.RWMutex
	inputs map[string]domain.AgentInput
}

// NewMemoryInputStore creates an in-memory input store.
func NewMemoryInputStore() *MemoryInputStore {
	return &MemoryInputStore{inputs: make(map[string]domain.AgentInput)}
}

func (s *MemoryInputStore) Put(ctx context.Context, input domain.AgentInput) (string, error) {
	id := input.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[id] = input
	return id, nil
}

func (s *MemoryInputStore) Get(ctx context.Context, id string) (*domain.AgentInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	input, ok := s.inputs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &input, nil
}

// MemoryCompletionStore provides an in-memory CompletionStore.
type MemoryCompletionStore struct {
	mu          sync.RWMutex
	completions map[string]*domain.AgentCompletion
}

// NewMemoryCompletionStore creates an in-memory completion store.
func NewMemoryCompletionStore() *MemoryCompletionStore {
	return &MemoryCompletionStore{completions: make(map[string]*domain.AgentCompletion)}
}

func (s *MemoryCompletionStore) Create(ctx context.Context, completion *domain.AgentCompletion) error {
	if completion == nil || completion.ID == "" {
		return fmt.Errorf("completion is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.completions[completion.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *completion
	s.completions[completion.ID] = &clone
	return nil
}

func (s *MemoryCompletionStore) Get(ctx context.Context, id string) (*domain.AgentCompletion, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	completion, ok := s.completions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *completion
	return &clone, nil
}

func (s *MemoryCompletionStore) Update(ctx context.Context, completion *domain.AgentCompletion) error {
	if completion == nil || completion.ID == "" {
		return fmt.Errorf("completion is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.completions[completion.ID]; !exists {
		return ErrNotFound
	}
	clone := *completion
	s.completions[completion.ID] = &clone
	return nil
}

func (s *MemoryCompletionStore) Query(ctx context.Context, query string) ([]map[string]any, error) {
	return nil, ErrQueryUnsupported
}

// MemoryExperimentStore provides an in-memory ExperimentStore.
type MemoryExperimentStore struct {
	mu          sync.RWMutex
	experiments map[string]*domain.Experiment
	cells       map[string]map[string]ExperimentCompletionRef // experiment -> cellKey -> ref
}

// NewMemoryExperimentStore creates an in-memory experiment store.
func NewMemoryExperimentStore() *MemoryExperimentStore {
	return &MemoryExperimentStore{
		experiments: make(map[string]*domain.Experiment),
		cells:       make(map[string]map[string]ExperimentCompletionRef),
	}
}

func cellKey(versionID, inputID string) string {
	return versionID + "/" + inputID
}

func (s *MemoryExperimentStore) Create(ctx context.Context, experiment *domain.Experiment) error {
	if experiment == nil || experiment.ID == "" {
		return fmt.Errorf("experiment is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[experiment.ID]; exists {
		return ErrAlreadyExists
	}
	if experiment.CreatedAt.IsZero() {
		experiment.CreatedAt = time.Now().UTC()
	}
	clone := *experiment
	s.experiments[experiment.ID] = &clone
	return nil
}

func (s *MemoryExperimentStore) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	experiment, ok := s.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *experiment
	return &clone, nil
}

func (s *MemoryExperimentStore) Update(ctx context.Context, experiment *domain.Experiment) error {
	if experiment == nil || experiment.ID == "" {
		return fmt.Errorf("experiment is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[experiment.ID]; !exists {
		return ErrNotFound
	}
	clone := *experiment
	s.experiments[experiment.ID] = &clone
	return nil
}

func (s *MemoryExperimentStore) SetCompletion(ctx context.Context, ref ExperimentCompletionRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[ref.ExperimentID]; !exists {
		return ErrNotFound
	}
	if s.cells[ref.ExperimentID] == nil {
		s.cells[ref.ExperimentID] = make(map[string]ExperimentCompletionRef)
	}
	s.cells[ref.ExperimentID][cellKey(ref.VersionID, ref.InputID)] = ref
	return nil
}

func (s *MemoryExperimentStore) Completions(ctx context.Context, experimentID string) ([]ExperimentCompletionRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.experiments[experimentID]; !exists {
		return nil, ErrNotFound
	}
	cells := s.cells[experimentID]
	refs := make([]ExperimentCompletionRef, 0, len(cells))
	for _, ref := range cells {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].VersionID != refs[j].VersionID {
			return refs[i].VersionID < refs[j].VersionID
		}
		return refs[i].InputID < refs[j].InputID
	})
	return refs, nil
}

// MemoryDeploymentStore provides an in-memory DeploymentStore.
type MemoryDeploymentStore struct {
	mu          sync.RWMutex
	deployments map[string]*domain.Deployment
}

// NewMemoryDeploymentStore creates an in-memory deployment store.
func NewMemoryDeploymentStore() *MemoryDeploymentStore {
	return &MemoryDeploymentStore{deployments: make(map[string]*domain.Deployment)}
}

func (s *MemoryDeploymentStore) Create(ctx context.Context, deployment *domain.Deployment) error {
	if deployment == nil || deployment.ID == "" {
		return fmt.Errorf("deployment is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deployments[deployment.ID]; exists {
		return ErrAlreadyExists
	}
	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = time.Now().UTC()
	}
	clone := *deployment
	s.deployments[deployment.ID] = &clone
	return nil
}

func (s *MemoryDeploymentStore) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	deployment, ok := s.deployments[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *deployment
	return &clone, nil
}

func (s *MemoryDeploymentStore) Update(ctx context.Context, deployment *domain.Deployment) error {
	if deployment == nil || deployment.ID == "" {
		return fmt.Errorf("deployment is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deployments[deployment.ID]; !exists {
		return ErrNotFound
	}
	clone := *deployment
	s.deployments[deployment.ID] = &clone
	return nil
}

func (s *MemoryDeploymentStore) List(ctx context.Context, agentID string, includeArchived bool) ([]*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*domain.Deployment, 0, len(s.deployments))
	for _, deployment := range s.deployments {
		if agentID != "" && deployment.AgentID != agentID {
			continue
		}
		if deployment.Archived && !includeArchived {
			continue
		}
		clone := *deployment
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
