// Package builder provides a fluent API for assembling workflow definitions
// in code. The chat layer uses it to turn conversational plans into runnable
// graphs without hand-writing JSON.
package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// Builder accumulates nodes and edges along a chain cursor: each added node
// auto-connects from the previous one. Branch and Parallel fork the cursor
// into sub-chains and rejoin them. Errors accumulate and surface from Build.
type Builder struct {
	state *state
	last  string
	// pendingCond labels the next auto-created edge (set by branch forks).
	pendingCond string
}

type state struct {
	def  schema.WorkflowDefinition
	errs []error
}

// New starts a builder for a named workflow.
func New(name string) *Builder {
	return &Builder{
		state: &state{
			def: schema.WorkflowDefinition{
				ID:      uuid.NewString(),
				Name:    name,
				Version: 1,
				Status:  schema.DefinitionStatusDraft,
			},
		},
	}
}

// WithID overrides the generated workflow ID.
func (b *Builder) WithID(id string) *Builder {
	b.state.def.ID = id
	return b
}

// Variable seeds a shared execution variable.
func (b *Builder) Variable(key string, value any) *Builder {
	if b.state.def.Variables == nil {
		b.state.def.Variables = make(map[string]any)
	}
	b.state.def.Variables[key] = value
	return b
}

// Start adds a start node.
func (b *Builder) Start(id string) *Builder {
	return b.add(schema.NodeDefinition{ID: id, Type: schema.NodeTypeStart})
}

// End adds an end node.
func (b *Builder) End(id string) *Builder {
	return b.add(schema.NodeDefinition{ID: id, Type: schema.NodeTypeEnd})
}

// LLM adds a model-completion node.
func (b *Builder) LLM(id string, cfg schema.LLMNodeConfig) *Builder {
	return b.addWithConfig(id, schema.NodeTypeLLM, cfg)
}

// Tool adds a tool-invocation node.
func (b *Builder) Tool(id string, cfg schema.ToolNodeConfig) *Builder {
	return b.addWithConfig(id, schema.NodeTypeTool, cfg)
}

// Condition adds an expression node.
func (b *Builder) Condition(id string, cfg schema.ConditionNodeConfig) *Builder {
	return b.addWithConfig(id, schema.NodeTypeCondition, cfg)
}

// Node adds a fully specified node; the escape hatch for custom kinds.
func (b *Builder) Node(def schema.NodeDefinition) *Builder {
	return b.add(def)
}

// WithRetry attaches a retry policy to the most recently added node.
func (b *Builder) WithRetry(policy schema.RetryPolicy) *Builder {
	if n := b.lastNode(); n != nil {
		n.Retry = &policy
	}
	return b
}

// WithTimeout sets the per-attempt timeout of the most recently added node.
func (b *Builder) WithTimeout(timeout string) *Builder {
	if n := b.lastNode(); n != nil {
		n.Timeout = timeout
	}
	return b
}

// WithTransform sets the jq output transform of the most recently added node.
func (b *Builder) WithTransform(expression string) *Builder {
	if n := b.lastNode(); n != nil {
		n.Transform = expression
	}
	return b
}

// From repositions the chain cursor onto an existing node, so subsequent
// adds chain from there.
func (b *Builder) From(id string) *Builder {
	for _, n := range b.state.def.Nodes {
		if n.ID == id {
			b.last = id
			b.pendingCond = ""
			return b
		}
	}
	b.fail(fmt.Errorf("from: node %q not in workflow", id))
	return b
}

// To extends the chain to an existing node: an edge from the cursor to the
// target, which becomes the new cursor.
func (b *Builder) To(id string) *Builder {
	return b.ToIf(id, "")
}

// ToIf is To with a condition label on the edge.
func (b *Builder) ToIf(id, condition string) *Builder {
	if b.last == "" {
		b.fail(fmt.Errorf("to: no current node to connect %q from", id))
		return b
	}
	b.edge(b.last, id, condition)
	b.last = id
	b.pendingCond = ""
	return b
}

// Connect adds an explicit edge, independent of the chain cursor.
func (b *Builder) Connect(source, target string) *Builder {
	b.edge(source, target, "")
	return b
}

// ConnectIf adds an explicit edge carrying a condition label.
func (b *Builder) ConnectIf(source, target, condition string) *Builder {
	b.edge(source, target, condition)
	return b
}

// Branch adds a condition node and forks the chain into a true and a false
// sub-chain. The first edge of each sub-chain carries the matching label, and
// a synthetic join node rejoins both tails. The cursor lands on the join.
func (b *Builder) Branch(id string, cfg schema.ConditionNodeConfig, onTrue, onFalse func(*Builder)) *Builder {
	b.Condition(id, cfg)

	trueBranch := b.fork(id, "true")
	if onTrue != nil {
		onTrue(trueBranch)
	}
	falseBranch := b.fork(id, "false")
	if onFalse != nil {
		onFalse(falseBranch)
	}

	return b.join(trueBranch.last, falseBranch.last)
}

// Parallel forks the chain into independent sub-chains that all start from
// the current cursor and rejoin at a synthetic join node.
func (b *Builder) Parallel(branches ...func(*Builder)) *Builder {
	if len(branches) == 0 {
		return b
	}

	tails := make([]string, 0, len(branches))
	for _, branch := range branches {
		sub := b.fork(b.last, "")
		if branch != nil {
			branch(sub)
		}
		tails = append(tails, sub.last)
	}
	return b.join(tails...)
}

// Build finalizes the definition. Accumulated construction errors are joined
// and returned; the definition is only usable when err is nil.
func (b *Builder) Build() (*schema.WorkflowDefinition, error) {
	if len(b.state.errs) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
			"workflow construction failed: %v", errors.Join(b.state.errs...))
	}
	if len(b.state.def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidDefinition, "workflow has no nodes")
	}

	now := time.Now().UTC()
	def := b.state.def
	def.CreatedAt = now
	def.UpdatedAt = now
	return &def, nil
}

// --- Internals ---

func (b *Builder) add(node schema.NodeDefinition) *Builder {
	if node.ID == "" {
		b.fail(fmt.Errorf("node of type %q has no id", node.Type))
		return b
	}
	for _, existing := range b.state.def.Nodes {
		if existing.ID == node.ID {
			b.fail(fmt.Errorf("duplicate node id %q", node.ID))
			return b
		}
	}

	b.state.def.Nodes = append(b.state.def.Nodes, node)
	if b.last != "" {
		b.edge(b.last, node.ID, b.pendingCond)
		b.pendingCond = ""
	}
	b.last = node.ID
	return b
}

func (b *Builder) addWithConfig(id string, t schema.NodeType, cfg any) *Builder {
	raw, err := json.Marshal(cfg)
	if err != nil {
		b.fail(fmt.Errorf("marshal config of node %q: %w", id, err))
		return b
	}
	return b.add(schema.NodeDefinition{ID: id, Type: t, Config: raw})
}

func (b *Builder) edge(source, target, condition string) {
	b.state.def.Edges = append(b.state.def.Edges, schema.WorkflowEdge{
		ID:        fmt.Sprintf("e%d", len(b.state.def.Edges)+1),
		Source:    source,
		Target:    target,
		Condition: condition,
	})
}

// fork returns a builder sharing this builder's definition with its cursor
// placed on the given node.
func (b *Builder) fork(from, condition string) *Builder {
	return &Builder{state: b.state, last: from, pendingCond: condition}
}

// join adds a synthetic join node fed by every tail and moves the cursor there.
func (b *Builder) join(tails ...string) *Builder {
	joinID := fmt.Sprintf("join-%s", uuid.NewString()[:8])
	b.state.def.Nodes = append(b.state.def.Nodes, schema.NodeDefinition{
		ID:   joinID,
		Type: schema.NodeTypeJoin,
	})
	seen := make(map[string]bool, len(tails))
	for _, tail := range tails {
		if tail == "" || seen[tail] {
			continue
		}
		seen[tail] = true
		b.edge(tail, joinID, "")
	}
	b.last = joinID
	b.pendingCond = ""
	return b
}

func (b *Builder) lastNode() *schema.NodeDefinition {
	if b.last == "" {
		return nil
	}
	for i := range b.state.def.Nodes {
		if b.state.def.Nodes[i].ID == b.last {
			return &b.state.def.Nodes[i]
		}
	}
	return nil
}

func (b *Builder) fail(err error) {
	b.state.errs = append(b.state.errs, err)
}
