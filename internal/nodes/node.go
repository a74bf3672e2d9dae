package nodes

import (
	"context"
	"sync"

	"github.com/TIZ36/chatflow/internal/expressions"
	"github.com/TIZ36/chatflow/pkg/schema"
)

// Node is an executable unit of work within a workflow. Concrete
// implementations wrap external collaborators (model providers, tool
// transports); the executor depends only on this contract.
type Node interface {
	Type() schema.NodeType
	Execute(ctx context.Context, nc NodeContext) (*schema.NodeResult, error)
}

// NodeContext is the data provided to a node at execution time. The cancel
// signal travels on the context.Context passed to Execute.
type NodeContext struct {
	WorkflowID  string
	ExecutionID string
	NodeID      string
	Inputs      map[string]any // merged outputs of all upstream nodes
	Variables   map[string]any // snapshot of shared execution variables
	Scope       *expressions.InterpolationScope
}

// Factory builds a Node from its definition. Factories parse and validate the
// typed config, so a malformed definition fails at build time rather than
// mid-run.
type Factory func(def *schema.NodeDefinition) (Node, error)

// ModelClient is the model-provider boundary consumed by llm nodes.
// The chat client's provider layer implements it; its HTTP/streaming
// protocol is invisible to the engine.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// ModelRequest is a single completion request.
type ModelRequest struct {
	Provider     string  `json:"provider,omitempty"`
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// ModelResponse is the result of a completion request.
type ModelResponse struct {
	Text       string `json:"text"`
	Model      string `json:"model,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`
}

// ToolInvoker is the tool-transport boundary consumed by tool nodes.
type ToolInvoker interface {
	Invoke(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error)
}

// Deps holds the collaborators node factories close over.
type Deps struct {
	Model  ModelClient
	Tools  ToolInvoker
	CEL    *expressions.CELEngine
	Expr   *expressions.ExprEngine
	Interp *expressions.Interpolator
}

// Registry maps the closed NodeType set to factories. Register is the escape
// hatch for late-bound plugin kinds.
type Registry struct {
	mu        sync.RWMutex
	factories map[schema.NodeType]Factory
}

// NewRegistry creates a Registry with all built-in node kinds registered.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{factories: make(map[schema.NodeType]Factory)}

	r.factories[schema.NodeTypeStart] = passThroughFactory(schema.NodeTypeStart)
	r.factories[schema.NodeTypeEnd] = passThroughFactory(schema.NodeTypeEnd)
	r.factories[schema.NodeTypeJoin] = passThroughFactory(schema.NodeTypeJoin)
	r.factories[schema.NodeTypeCondition] = conditionFactory(deps.CEL, deps.Expr)
	r.factories[schema.NodeTypeLLM] = llmFactory(deps.Model, deps.Interp)
	r.factories[schema.NodeTypeTool] = toolFactory(deps.Tools, deps.Interp)

	return r
}

// Register adds or replaces a factory for a node type. Built-in kinds cannot
// be replaced.
func (r *Registry) Register(t schema.NodeType, f Factory) error {
	if f == nil {
		return schema.NewError(schema.ErrCodeInvalidDefinition, "node factory is nil")
	}
	switch t {
	case schema.NodeTypeStart, schema.NodeTypeEnd, schema.NodeTypeJoin,
		schema.NodeTypeLLM, schema.NodeTypeTool, schema.NodeTypeCondition:
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q is built-in", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q already registered", t)
	}
	r.factories[t] = f
	return nil
}

// Has checks whether a node type is known.
func (r *Registry) Has(t schema.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// Build constructs a Node for the given definition, validating its config.
func (r *Registry) Build(def *schema.NodeDefinition) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[def.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
			"node %s has unknown type %q", def.ID, def.Type).WithNode(def.ID)
	}
	return f(def)
}
