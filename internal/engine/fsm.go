package engine

import (
	"github.com/TIZ36/chatflow/pkg/schema"
)

// ValidExecutionTransitions defines the allowed lifecycle transitions for an
// execution. Terminal statuses admit nothing: a completed, failed, or
// cancelled execution never re-enters running.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusRunning: {
		schema.ExecutionStatusCompleted,
		schema.ExecutionStatusFailed,
		schema.ExecutionStatusCancelled,
	},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusCancelled: {},
}

// ValidNodeTransitions defines the allowed lifecycle transitions for a node
// within an execution. running -> running is the retry re-entry.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending: {schema.NodeStatusRunning},
	schema.NodeStatusRunning: {
		schema.NodeStatusRunning,
		schema.NodeStatusCompleted,
		schema.NodeStatusFailed,
	},
	schema.NodeStatusCompleted: {},
	schema.NodeStatusFailed:    {},
}

// TransitionExecution validates an execution status transition.
func TransitionExecution(executionID string, from, to schema.ExecutionStatus) error {
	for _, allowed := range ValidExecutionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", from, to).
		WithDetails(map[string]any{"execution_id": executionID})
}

// TransitionNode validates a node status transition.
func TransitionNode(nodeID string, from, to schema.NodeStatus) error {
	for _, allowed := range ValidNodeTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid node transition: %s -> %s", from, to).WithNode(nodeID)
}
