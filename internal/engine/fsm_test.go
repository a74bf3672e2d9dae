package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TIZ36/chatflow/pkg/schema"
)

func TestTransitionExecution_RunningToTerminals(t *testing.T) {
	for _, to := range []schema.ExecutionStatus{
		schema.ExecutionStatusCompleted,
		schema.ExecutionStatusFailed,
		schema.ExecutionStatusCancelled,
	} {
		assert.NoError(t, TransitionExecution("exec-1", schema.ExecutionStatusRunning, to))
	}
}

func TestTransitionExecution_TerminalIsFinal(t *testing.T) {
	terminals := []schema.ExecutionStatus{
		schema.ExecutionStatusCompleted,
		schema.ExecutionStatusFailed,
		schema.ExecutionStatusCancelled,
	}
	for _, from := range terminals {
		err := TransitionExecution("exec-1", from, schema.ExecutionStatusRunning)
		require.Error(t, err, "from %s", from)
		assert.Equal(t, schema.ErrCodeInvalidTransition, err.(*schema.FlowError).Code)
	}
}

func TestTransitionNode_PendingToRunning(t *testing.T) {
	assert.NoError(t, TransitionNode("n1", schema.NodeStatusPending, schema.NodeStatusRunning))
}

func TestTransitionNode_PendingCannotComplete(t *testing.T) {
	err := TransitionNode("n1", schema.NodeStatusPending, schema.NodeStatusCompleted)
	require.Error(t, err)
	fe := err.(*schema.FlowError)
	assert.Equal(t, schema.ErrCodeInvalidTransition, fe.Code)
	assert.Equal(t, "n1", fe.NodeID)
}

func TestTransitionNode_RunningReentry(t *testing.T) {
	// running -> running is the retry path.
	assert.NoError(t, TransitionNode("n1", schema.NodeStatusRunning, schema.NodeStatusRunning))
	assert.NoError(t, TransitionNode("n1", schema.NodeStatusRunning, schema.NodeStatusCompleted))
	assert.NoError(t, TransitionNode("n1", schema.NodeStatusRunning, schema.NodeStatusFailed))
}

func TestTransitionNode_TerminalIsFinal(t *testing.T) {
	for _, from := range []schema.NodeStatus{schema.NodeStatusCompleted, schema.NodeStatusFailed} {
		err := TransitionNode("n1", from, schema.NodeStatusRunning)
		require.Error(t, err, "from %s", from)
	}
}
