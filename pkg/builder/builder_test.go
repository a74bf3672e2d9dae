package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TIZ36/chatflow/pkg/schema"
)

func edgeBetween(def *schema.WorkflowDefinition, source, target string) *schema.WorkflowEdge {
	for i, e := range def.Edges {
		if e.Source == source && e.Target == target {
			return &def.Edges[i]
		}
	}
	return nil
}

func TestBuilder_LinearChainAutoConnects(t *testing.T) {
	def, err := New("pipeline").
		Start("start").
		LLM("summarize", schema.LLMNodeConfig{Model: "gpt-4o-mini", Prompt: "summarize ${{ inputs.text }}"}).
		End("end").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "pipeline", def.Name)
	assert.Equal(t, 1, def.Version)
	assert.Equal(t, schema.DefinitionStatusDraft, def.Status)
	assert.NotEmpty(t, def.ID)
	assert.False(t, def.CreatedAt.IsZero())

	require.Len(t, def.Nodes, 3)
	require.Len(t, def.Edges, 2)
	assert.NotNil(t, edgeBetween(def, "start", "summarize"))
	assert.NotNil(t, edgeBetween(def, "summarize", "end"))
}

func TestBuilder_WithIDAndVariable(t *testing.T) {
	def, err := New("wf").
		WithID("wf-fixed").
		Variable("lang", "en").
		Variable("limit", 5).
		Start("start").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "wf-fixed", def.ID)
	assert.Equal(t, "en", def.Variables["lang"])
	assert.Equal(t, 5, def.Variables["limit"])
}

func TestBuilder_NodeModifiersApplyToLast(t *testing.T) {
	def, err := New("wf").
		Start("start").
		Tool("fetch", schema.ToolNodeConfig{Server: "web", Tool: "get"}).
		WithRetry(schema.RetryPolicy{MaxRetries: 2, Delay: "100ms"}).
		WithTimeout("30s").
		WithTransform("{body: .text}").
		End("end").
		Build()
	require.NoError(t, err)

	var fetch *schema.NodeDefinition
	for i := range def.Nodes {
		if def.Nodes[i].ID == "fetch" {
			fetch = &def.Nodes[i]
		}
	}
	require.NotNil(t, fetch)
	require.NotNil(t, fetch.Retry)
	assert.Equal(t, 2, fetch.Retry.MaxRetries)
	assert.Equal(t, "30s", fetch.Timeout)
	assert.Equal(t, "{body: .text}", fetch.Transform)
}

func TestBuilder_ConnectAndConnectIf(t *testing.T) {
	def, err := New("wf").
		Start("a").
		End("b").
		Connect("a", "b").
		ConnectIf("a", "b", "true").
		Build()
	require.NoError(t, err)

	// One auto edge plus the two explicit ones.
	require.Len(t, def.Edges, 3)
	assert.Equal(t, "true", def.Edges[2].Condition)
}

func TestBuilder_FromRepositionsCursor(t *testing.T) {
	def, err := New("wf").
		Start("start").
		Tool("left", schema.ToolNodeConfig{Server: "s", Tool: "a"}).
		From("start").
		Tool("right", schema.ToolNodeConfig{Server: "s", Tool: "b"}).
		Build()
	require.NoError(t, err)

	assert.NotNil(t, edgeBetween(def, "start", "left"))
	assert.NotNil(t, edgeBetween(def, "start", "right"))
	assert.Nil(t, edgeBetween(def, "left", "right"))
}

func TestBuilder_FromUnknownNode(t *testing.T) {
	_, err := New("wf").Start("start").From("ghost").Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuilder_ToExtendsChain(t *testing.T) {
	def, err := New("wf").
		Start("start").
		End("end").
		From("start").
		Tool("detour", schema.ToolNodeConfig{Server: "s", Tool: "t"}).
		ToIf("end", "done").
		Build()
	require.NoError(t, err)

	e := edgeBetween(def, "detour", "end")
	require.NotNil(t, e)
	assert.Equal(t, "done", e.Condition)
}

func TestBuilder_ToWithoutCursor(t *testing.T) {
	_, err := New("wf").To("anywhere").Build()
	require.Error(t, err)
}

func TestBuilder_BranchForksAndRejoins(t *testing.T) {
	def, err := New("wf").
		Start("start").
		Branch("check", schema.ConditionNodeConfig{Expression: "variables.ok == true"},
			func(b *Builder) {
				b.LLM("happy", schema.LLMNodeConfig{Model: "m", Prompt: "yes"})
			},
			func(b *Builder) {
				b.LLM("sad", schema.LLMNodeConfig{Model: "m", Prompt: "no"})
			}).
		End("end").
		Build()
	require.NoError(t, err)

	happy := edgeBetween(def, "check", "happy")
	require.NotNil(t, happy)
	assert.Equal(t, "true", happy.Condition)

	sad := edgeBetween(def, "check", "sad")
	require.NotNil(t, sad)
	assert.Equal(t, "false", sad.Condition)

	var joinID string
	for _, n := range def.Nodes {
		if n.Type == schema.NodeTypeJoin {
			joinID = n.ID
		}
	}
	require.NotEmpty(t, joinID, "branch creates a synthetic join")
	assert.NotNil(t, edgeBetween(def, "happy", joinID))
	assert.NotNil(t, edgeBetween(def, "sad", joinID))
	assert.NotNil(t, edgeBetween(def, joinID, "end"), "cursor lands on the join")
}

func TestBuilder_EmptyBranchesShareJoinEdge(t *testing.T) {
	def, err := New("wf").
		Start("start").
		Branch("check", schema.ConditionNodeConfig{Expression: "true"}, nil, nil).
		End("end").
		Build()
	require.NoError(t, err)

	var joinID string
	for _, n := range def.Nodes {
		if n.Type == schema.NodeTypeJoin {
			joinID = n.ID
		}
	}
	require.NotEmpty(t, joinID)

	// Both empty sub-chains leave their cursor on the condition node; the
	// join dedupes the tails to a single edge.
	count := 0
	for _, e := range def.Edges {
		if e.Source == "check" && e.Target == joinID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBuilder_ParallelFansOutAndJoins(t *testing.T) {
	def, err := New("wf").
		Start("start").
		Parallel(
			func(b *Builder) { b.Tool("left", schema.ToolNodeConfig{Server: "s", Tool: "a"}) },
			func(b *Builder) { b.Tool("right", schema.ToolNodeConfig{Server: "s", Tool: "b"}) },
		).
		End("end").
		Build()
	require.NoError(t, err)

	assert.NotNil(t, edgeBetween(def, "start", "left"))
	assert.NotNil(t, edgeBetween(def, "start", "right"))

	var joinID string
	for _, n := range def.Nodes {
		if n.Type == schema.NodeTypeJoin {
			joinID = n.ID
		}
	}
	require.NotEmpty(t, joinID)
	assert.NotNil(t, edgeBetween(def, "left", joinID))
	assert.NotNil(t, edgeBetween(def, "right", joinID))
}

func TestBuilder_ParallelNoBranchesIsNoop(t *testing.T) {
	def, err := New("wf").
		Start("start").
		Parallel().
		End("end").
		Build()
	require.NoError(t, err)
	assert.Len(t, def.Nodes, 2)
}

func TestBuilder_BuildErrors(t *testing.T) {
	_, err := New("empty").Build()
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidDefinition, err.(*schema.FlowError).Code)

	_, err = New("dup").Start("a").End("a").Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = New("noid").Start("").Build()
	require.Error(t, err)
}

func TestMermaid_RendersShapesAndEdges(t *testing.T) {
	def, err := New("wf").
		Start("start").
		Condition("check", schema.ConditionNodeConfig{Expression: "true"}).
		Tool("act", schema.ToolNodeConfig{Server: "s", Tool: "t"}).
		End("end").
		Build()
	require.NoError(t, err)

	out := Mermaid(def)
	assert.True(t, strings.HasPrefix(out, "flowchart TD\n"))
	assert.Contains(t, out, "start([start])")
	assert.Contains(t, out, "check{check}")
	assert.Contains(t, out, "act[act]")
	assert.Contains(t, out, "end([end])")
	assert.Contains(t, out, "start --> check")
}

func TestMermaid_ConditionLabelsAndSanitizedIDs(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Nodes: []schema.NodeDefinition{
			{ID: "my-node", Type: schema.NodeTypeTool, Name: "My Node"},
			{ID: "other", Type: schema.NodeTypeJoin},
		},
		Edges: []schema.WorkflowEdge{
			{ID: "e1", Source: "my-node", Target: "other", Condition: "true"},
		},
	}

	out := Mermaid(def)
	assert.Contains(t, out, "my_node[My Node]")
	assert.Contains(t, out, "other((other))")
	assert.Contains(t, out, "my_node -->|true| other")
}
