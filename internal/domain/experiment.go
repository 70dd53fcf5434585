package domain

import "time"

// CachePolicy controls whether the playground orchestrator may reuse a
// prior AgentCompletion for an identical (Version, AgentInput) pair
// instead of issuing a fresh LLM call.
type CachePolicy string

const (
	CacheAuto   CachePolicy = "auto"
	CacheAlways CachePolicy = "always"
	CacheNever  CachePolicy = "never"
)

// Experiment is a playground run: the cartesian product of a set of
// Versions against a set of AgentInputs, each cell produced as its own
// AgentCompletion.
type Experiment struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`

	Versions    []Version    `json:"versions"`
	Inputs      []AgentInput `json:"inputs"`
	CachePolicy CachePolicy  `json:"cache_policy"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AddVersion appends v unless an identical version (same content hash) is
// already present, returning whether it was added.
func (e *Experiment) AddVersion(v Version) bool {
	id := v.ID()
	for _, existing := range e.Versions {
		if existing.ID() == id {
			return false
		}
	}
	e.Versions = append(e.Versions, v)
	return true
}

// AddInput appends in unless an identical input is already present.
func (e *Experiment) AddInput(in AgentInput) bool {
	id := in.ID()
	for _, existing := range e.Inputs {
		if existing.ID() == id {
			return false
		}
	}
	e.Inputs = append(e.Inputs, in)
	return true
}

// ExperimentCell identifies one (version, input) pairing within an
// Experiment's cartesian product.
type ExperimentCell struct {
	VersionIndex int
	InputIndex   int
	VersionID    string
	InputID      string
}

// Cells enumerates every (version, input) pairing of the experiment in a
// stable, deterministic order: versions outer, inputs inner.
func (e Experiment) Cells() []ExperimentCell {
	cells := make([]ExperimentCell, 0, len(e.Versions)*len(e.Inputs))
	for vi, v := range e.Versions {
		for ii, in := range e.Inputs {
			cells = append(cells, ExperimentCell{
				VersionIndex: vi,
				InputIndex:   ii,
				VersionID:    v.ID(),
				InputID:      in.ID(),
			})
		}
	}
	return cells
}

// HasEmptyCell reports whether any cell would send zero messages: an
// empty prompt Version paired with an empty Input. The playground
// pre-flight check rejects the whole experiment if this is true rather
// than letting individual cells fail independently.
func (e Experiment) HasEmptyCell() bool {
	for _, v := range e.Versions {
		if len(v.Prompt) > 0 {
			continue
		}
		for _, in := range e.Inputs {
			if in.IsEmpty() {
				return true
			}
		}
	}
	return false
}
