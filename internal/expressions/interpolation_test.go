package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TIZ36/chatflow/pkg/schema"
)

func testScope() *InterpolationScope {
	return &InterpolationScope{
		Nodes: map[string]any{
			"fetch": map[string]any{"url": "https://example.com", "status": 200},
		},
		Inputs:    map[string]any{"query": "golang"},
		Variables: map[string]any{"retries": 3},
		Workflow:  map[string]any{"execution_id": "exec-1"},
	}
}

func TestInterpolator_PlainStringUntouched(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.ResolveString(context.Background(), "no references here", testScope())
	require.NoError(t, err)
	assert.Equal(t, "no references here", out)
}

func TestInterpolator_InputsReference(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.ResolveString(context.Background(), "searching for ${{ inputs.query }}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "searching for golang", out)
}

func TestInterpolator_NodeOutputField(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.ResolveString(context.Background(), "${{ nodes.fetch.output.url }}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", out)
}

func TestInterpolator_WholeNodeOutputIsJSON(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.ResolveString(context.Background(), "${{ nodes.fetch.output }}", testScope())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "https://example.com", decoded["url"])
}

func TestInterpolator_VariablesAndWorkflow(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.ResolveString(context.Background(),
		"retries=${{ variables.retries }} exec=${{ workflow.execution_id }}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "retries=3 exec=exec-1", out)
}

func TestInterpolator_UnknownNamespace(t *testing.T) {
	interp := NewInterpolator()
	_, err := interp.ResolveString(context.Background(), "${{ secrets.key }}", testScope())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, err.(*schema.FlowError).Code)
}

func TestInterpolator_UnknownNode(t *testing.T) {
	interp := NewInterpolator()
	_, err := interp.ResolveString(context.Background(), "${{ nodes.ghost.output }}", testScope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestInterpolator_NodeReferenceRequiresOutput(t *testing.T) {
	interp := NewInterpolator()
	_, err := interp.ResolveString(context.Background(), "${{ nodes.fetch.status }}", testScope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output")
}

func TestInterpolator_UnclosedExpression(t *testing.T) {
	interp := NewInterpolator()
	_, err := interp.ResolveString(context.Background(), "broken ${{ inputs.query", testScope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unclosed")
}

func TestInterpolator_EmptyReference(t *testing.T) {
	interp := NewInterpolator()
	_, err := interp.ResolveString(context.Background(), "${{  }}", testScope())
	require.Error(t, err)
}

func TestInterpolator_NestedInterpolationRejected(t *testing.T) {
	interp := NewInterpolator()
	_, err := interp.ResolveString(context.Background(), "${{ inputs.${{ inputs.query }} }}", testScope())
	require.Error(t, err)
}

func TestInterpolator_ResolveRawJSON(t *testing.T) {
	interp := NewInterpolator()
	raw := json.RawMessage(`{"url":"${{ nodes.fetch.output.url }}","limit":${{ variables.retries }}}`)

	resolved, err := interp.Resolve(context.Background(), raw, testScope())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(resolved, &decoded))
	assert.Equal(t, "https://example.com", decoded["url"])
	assert.EqualValues(t, 3, decoded["limit"])
}

func TestHasInterpolation(t *testing.T) {
	assert.True(t, HasInterpolation([]byte(`${{ inputs.x }}`)))
	assert.False(t, HasInterpolation([]byte(`{"plain":"json"}`)))
}

func TestScopeBuilder_FreezesNodeOutputs(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)
	out := map[string]any{"k": "v"}
	require.NoError(t, sb.AddNodeOutput("n1", out))

	// Mutating the original after insert does not leak into the scope.
	out["k"] = "mutated"
	scope := sb.Build()
	frozen := scope.Nodes["n1"].(map[string]any)
	assert.Equal(t, "v", frozen["k"])
}

func TestScopeBuilder_RejectsDuplicateOutputs(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)
	require.NoError(t, sb.AddNodeOutput("n1", map[string]any{"a": 1}))

	err := sb.AddNodeOutput("n1", map[string]any{"a": 2})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, err.(*schema.FlowError).Code)
}

func TestScopeBuilder_VariablesSnapshot(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)
	sb.SetVariables(map[string]any{"v": 1})
	first := sb.Build()

	sb.SetVariables(map[string]any{"v": 2})
	second := sb.Build()

	assert.Equal(t, 1, first.Variables["v"])
	assert.Equal(t, 2, second.Variables["v"])
}
