package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/anotherai/gateway/internal/domain"
)

// HostedTool is a tool the runner executes itself instead of surfacing to
// the caller. Hosted tool names carry a leading "@".
type HostedTool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// HostedToolRegistry resolves hosted tool names to implementations. The
// gateway ships no built-in tools; hosts register their own.
type HostedToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]HostedTool
}

// NewHostedToolRegistry creates an empty registry.
func NewHostedToolRegistry() *HostedToolRegistry {
	return &HostedToolRegistry{tools: make(map[string]HostedTool)}
}

// Register adds a tool; the name must start with "@".
func (r *HostedToolRegistry) Register(tool HostedTool) error {
	if !strings.HasPrefix(tool.Name(), "@") {
		return fmt.Errorf("runner: hosted tool name %q must start with @", tool.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	return nil
}

// Get resolves a hosted tool by its internal name.
func (r *HostedToolRegistry) Get(name string) (HostedTool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns the domain.Tool definitions of every registered
// hosted tool, for inclusion in a request's tool list.
func (r *HostedToolRegistry) Definitions() []domain.Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, domain.Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return out
}

// funcTool adapts a typed Go function into a HostedTool, deriving the
// input schema from the argument struct by reflection.
type funcTool[In any] struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, input In) (any, error)
}

// NewFuncTool wraps fn as a hosted tool named name ("@..."). The input
// schema is generated from In's struct tags.
func NewFuncTool[In any](name, description string, fn func(ctx context.Context, input In) (any, error)) (HostedTool, error) {
	if !strings.HasPrefix(name, "@") {
		return nil, fmt.Errorf("runner: hosted tool name %q must start with @", name)
	}

	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero In
	generated := reflector.Reflect(&zero)
	schemaBytes, err := json.Marshal(generated)
	if err != nil {
		return nil, fmt.Errorf("runner: cannot derive schema for %s: %w", name, err)
	}

	return &funcTool[In]{
		name:        name,
		description: description,
		schema:      schemaBytes,
		fn:          fn,
	}, nil
}

func (t *funcTool[In]) Name() string                 { return t.name }
func (t *funcTool[In]) Description() string          { return t.description }
func (t *funcTool[In]) InputSchema() json.RawMessage { return t.schema }

func (t *funcTool[In]) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in In
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("runner: invalid input for %s: %w", t.name, err)
		}
	}
	result, err := t.fn(ctx, in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
