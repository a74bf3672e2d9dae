package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// allTypes accepts every built-in node type without pulling in node deps.
type allTypes struct{}

func (allTypes) Has(t schema.NodeType) bool {
	switch t {
	case schema.NodeTypeStart, schema.NodeTypeEnd, schema.NodeTypeJoin,
		schema.NodeTypeLLM, schema.NodeTypeTool, schema.NodeTypeCondition:
		return true
	}
	return false
}

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	v, err := NewWorkflowValidator(allTypes{})
	require.NoError(t, err)
	return v
}

func validDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "wf-1",
		Name: "valid",
		Nodes: []schema.NodeDefinition{
			{ID: "start", Type: schema.NodeTypeStart},
			{
				ID:     "ask",
				Type:   schema.NodeTypeLLM,
				Config: json.RawMessage(`{"model":"gpt-4o-mini","prompt":"hello"}`),
			},
			{ID: "end", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.WorkflowEdge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "end"},
		},
	}
}

func TestValidate_ValidDefinition(t *testing.T) {
	v := newValidator(t)
	result := v.Validate(validDef())
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, v.ValidateDefinition(validDef()))
}

func TestValidate_NilDefinition(t *testing.T) {
	v := newValidator(t)
	result := v.Validate(nil)
	assert.False(t, result.Valid())
}

func TestValidate_StructuralShortCircuits(t *testing.T) {
	v := newValidator(t)

	// No name and no nodes: stage 1 rejects before semantic runs.
	result := v.Validate(&schema.WorkflowDefinition{ID: "wf"})
	assert.False(t, result.Valid())
}

func TestValidate_UnknownNodeType(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Nodes[1].Type = "quantum"

	result := v.Validate(def)
	assert.False(t, result.Valid())
	found := false
	for _, e := range result.Errors {
		if e.Code == schema.ErrCodeInvalidDefinition {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_DuplicateNodeIDs(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Nodes[2].ID = "start"
	def.Edges = nil

	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidate_BadNodeConfig(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Nodes[1].Config = json.RawMessage(`{"prompt":"missing model"}`)

	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidate_InvalidTimeoutAndRetry(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Nodes[1].Timeout = "not-a-duration"
	def.Nodes[1].Retry = &schema.RetryPolicy{MaxRetries: -1, Backoff: "quadratic", Delay: "bogus"}

	result := v.Validate(def)
	assert.False(t, result.Valid())
	assert.GreaterOrEqual(t, len(result.Errors), 3)
}

func TestValidate_RetryWithoutDelayWarns(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Nodes[1].Retry = &schema.RetryPolicy{MaxRetries: 3}

	result := v.Validate(def)
	assert.True(t, result.Valid())
	assert.NotEmpty(t, result.Warnings)
}

func TestValidate_EdgeToMissingNode(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Edges = append(def.Edges, schema.WorkflowEdge{ID: "e3", Source: "ask", Target: "ghost"})

	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidate_SelfEdge(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Edges = append(def.Edges, schema.WorkflowEdge{ID: "e3", Source: "ask", Target: "ask"})

	result := v.Validate(def)
	assert.False(t, result.Valid())
	err := result.ToError()
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, err.(*schema.FlowError).Code)
}

func TestValidate_CycleDetected(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Edges = append(def.Edges, schema.WorkflowEdge{ID: "e3", Source: "end", Target: "ask"})

	result := v.Validate(def)
	assert.False(t, result.Valid())

	err := result.ToError()
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, err.(*schema.FlowError).Code)
}

func TestValidate_NoEntryPoint(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{
		ID:   "wf",
		Name: "loop",
		Nodes: []schema.NodeDefinition{
			{ID: "a", Type: schema.NodeTypeStart},
			{ID: "b", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.WorkflowEdge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
		},
	}

	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidate_DisconnectedComponentsAllowed(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	// A second component with its own entry point.
	def.Nodes = append(def.Nodes,
		schema.NodeDefinition{ID: "island", Type: schema.NodeTypeJoin},
		schema.NodeDefinition{ID: "island2", Type: schema.NodeTypeJoin},
	)
	def.Edges = append(def.Edges, schema.WorkflowEdge{ID: "e3", Source: "island", Target: "island2"})

	result := v.Validate(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestValidateRaw_RejectsMalformedJSON(t *testing.T) {
	v := newValidator(t)
	assert.Error(t, v.ValidateRaw([]byte(`{not json`)))
}

func TestValidateRaw_RejectsSchemaViolations(t *testing.T) {
	v := newValidator(t)
	// Missing required fields.
	assert.Error(t, v.ValidateRaw([]byte(`{"id":"wf"}`)))
}

func TestValidateRaw_AcceptsValidDefinition(t *testing.T) {
	v := newValidator(t)
	raw, err := json.Marshal(validDef())
	require.NoError(t, err)
	assert.NoError(t, v.ValidateRaw(raw))
}

func TestValidateInput_AgainstSchema(t *testing.T) {
	v := newValidator(t)
	inputSchema := []byte(`{
		"type": "object",
		"properties": {"count": {"type": "integer"}},
		"required": ["count"]
	}`)

	assert.NoError(t, v.ValidateInput(map[string]any{"count": 2}, inputSchema))
	assert.Error(t, v.ValidateInput(map[string]any{"count": "two"}, inputSchema))
	assert.Error(t, v.ValidateInput(map[string]any{}, inputSchema))
}
