package expressions

import (
	"sync"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// ScopeBuilder constructs InterpolationScopes with proper variable isolation.
// It enforces:
//   - Node outputs are immutable after completion (frozen on insert).
//   - Append-only: new node outputs are added as the execution progresses.
//   - Inputs and workflow metadata are immutable after init.
//   - Variables reflect the latest merged execution state at Build time.
type ScopeBuilder struct {
	mu        sync.RWMutex
	nodes     map[string]any // node ID -> frozen output (deep-copied on insert)
	inputs    map[string]any // execution inputs (immutable after init)
	workflow  map[string]any // workflow metadata (immutable after init)
	variables map[string]any // shared execution variables (replaced on update)
}

// NewScopeBuilder creates a ScopeBuilder initialized with execution-level data.
// inputs and workflow are deep-copied to prevent external mutation.
func NewScopeBuilder(inputs, workflow map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		nodes:    make(map[string]any),
		inputs:   deepCopyMap(inputs),
		workflow: deepCopyMap(workflow),
	}
}

// AddNodeOutput registers a completed node's output. The output is frozen
// (deep-copied) at the time of insertion. Subsequent calls with the same
// nodeID are rejected — node outputs are immutable after completion.
func (sb *ScopeBuilder) AddNodeOutput(nodeID string, output map[string]any) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.nodes[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeExpression,
			"node %q output already registered; node outputs are immutable after completion", nodeID)
	}

	sb.nodes[nodeID] = deepCopyAny(output)
	return nil
}

// SetVariables replaces the variables snapshot used by subsequent Builds.
func (sb *ScopeBuilder) SetVariables(vars map[string]any) {
	sb.mu.Lock()
	sb.variables = deepCopyMap(vars)
	sb.mu.Unlock()
}

// Build creates an InterpolationScope snapshot. The returned scope is safe
// for concurrent use (all data is copied or frozen).
func (sb *ScopeBuilder) Build() *InterpolationScope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &InterpolationScope{
		Nodes:     deepCopyMap(sb.nodes),
		Inputs:    sb.inputs,   // frozen at init
		Workflow:  sb.workflow, // frozen at init
		Variables: deepCopyMap(sb.variables),
	}
}

// NodeOutputs returns a read-only copy of the current node outputs.
func (sb *ScopeBuilder) NodeOutputs() map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return deepCopyMap(sb.nodes)
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
