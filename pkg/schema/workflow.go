package schema

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is the serializable workflow format. Definitions are
// immutable per version: every mutation through the registry produces a new
// Version with the same ID.
type WorkflowDefinition struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Version   int              `json:"version"`
	Status    DefinitionStatus `json:"status,omitempty"`
	Nodes     []NodeDefinition `json:"nodes"`
	Edges     []WorkflowEdge   `json:"edges,omitempty"`
	Variables map[string]any   `json:"variables,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// DefinitionStatus is the registry lifecycle state of a definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft  DefinitionStatus = "draft"
	DefinitionStatusActive DefinitionStatus = "active"
)

// NodeDefinition describes a single node in a workflow. Config is typed per
// node kind (see configs.go) and validated when the node is built, so a
// malformed config is rejected before any scheduling begins.
type NodeDefinition struct {
	ID      string          `json:"id"`
	Type    NodeType        `json:"type"`
	Name    string          `json:"name,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
	Retry   *RetryPolicy    `json:"retry,omitempty"`
	Timeout string          `json:"timeout,omitempty"`   // per-attempt timeout (e.g. "30s")
	Transform string        `json:"transform,omitempty"` // gojq expression applied to the node output
}

// NodeType enumerates the kinds of nodes in a workflow.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeJoin      NodeType = "join"
	NodeTypeLLM       NodeType = "llm"
	NodeTypeTool      NodeType = "tool"
	NodeTypeCondition NodeType = "condition"
)

// PassThrough reports whether the node kind resolves synchronously inside the
// scheduler without invoking a unit of work.
func (t NodeType) PassThrough() bool {
	return t == NodeTypeStart || t == NodeTypeEnd || t == NodeTypeJoin
}

// WorkflowEdge is a directed dependency between two nodes. Condition is an
// optional expression string interpreted by condition-bearing dependents, not
// by the scheduler itself.
type WorkflowEdge struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// RetryPolicy configures retry behavior for a node.
type RetryPolicy struct {
	MaxRetries int    `json:"max_retries"`
	Delay      string `json:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	Backoff    string `json:"backoff,omitempty"`   // none | constant | linear | exponential (default: exponential)
	MaxDelay   string `json:"max_delay,omitempty"` // cap applied after backoff growth
}

// Execution is one runtime instance of running a definition against inputs.
type Execution struct {
	ID          string                `json:"id"`
	WorkflowID  string                `json:"workflow_id"`
	Status      ExecutionStatus       `json:"status"`
	Variables   map[string]any        `json:"variables,omitempty"`
	NodeStates  map[string]*NodeState `json:"node_states"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Error       *FlowError            `json:"error,omitempty"`
}

// ExecutionStatus is the lifecycle state of an execution. Transitions are
// monotonic: a terminal status never returns to running.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionStatusRunning
}

// NodeState tracks a single node within an execution. Status re-enters
// running on each retry attempt; RetryCount records completed failed attempts.
type NodeState struct {
	NodeID      string     `json:"node_id"`
	Status      NodeStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *NodeResult `json:"result,omitempty"`
}

// NodeStatus is the lifecycle state of a node within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// NodeResult is the outcome of a single node's unit of work.
type NodeResult struct {
	Success  bool           `json:"success"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}
