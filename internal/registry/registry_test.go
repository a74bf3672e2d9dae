package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TIZ36/chatflow/internal/validation"
	"github.com/TIZ36/chatflow/pkg/schema"
)

type stubRunner struct {
	lastDef    *schema.WorkflowDefinition
	lastInputs map[string]any
	execution  *schema.Execution
	asyncID    string
	err        error
}

func (s *stubRunner) Execute(_ context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (*schema.Execution, error) {
	s.lastDef, s.lastInputs = def, inputs
	if s.err != nil {
		return nil, s.err
	}
	if s.execution != nil {
		return s.execution, nil
	}
	return &schema.Execution{ID: "exec-1", WorkflowID: def.ID, Status: schema.ExecutionStatusCompleted}, nil
}

func (s *stubRunner) ExecuteAsync(_ context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (string, error) {
	s.lastDef, s.lastInputs = def, inputs
	if s.err != nil {
		return "", s.err
	}
	if s.asyncID != "" {
		return s.asyncID, nil
	}
	return "exec-async", nil
}

type allTypes struct{}

func (allTypes) Has(t schema.NodeType) bool {
	switch t {
	case schema.NodeTypeStart, schema.NodeTypeEnd, schema.NodeTypeJoin,
		schema.NodeTypeLLM, schema.NodeTypeTool, schema.NodeTypeCondition:
		return true
	}
	return false
}

func testRegistry(t *testing.T) (*Registry, *stubRunner) {
	t.Helper()
	v, err := validation.NewWorkflowValidator(allTypes{})
	require.NoError(t, err)
	runner := &stubRunner{}
	return New(runner, v), runner
}

func sampleDef(id, name string) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   id,
		Name: name,
		Nodes: []schema.NodeDefinition{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "end", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.WorkflowEdge{
			{ID: "e1", Source: "start", Target: "end"},
		},
	}
}

func TestRegistry_RegisterAssignsDefaults(t *testing.T) {
	r, _ := testRegistry(t)

	def := sampleDef("", "greeter")
	require.NoError(t, r.Register(context.Background(), def))

	assert.NotEmpty(t, def.ID)
	assert.Equal(t, 1, def.Version)
	assert.Equal(t, schema.DefinitionStatusActive, def.Status)
	assert.False(t, def.CreatedAt.IsZero())
}

func TestRegistry_RegisterDuplicateIDConflicts(t *testing.T) {
	r, _ := testRegistry(t)

	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "a")))
	err := r.Register(context.Background(), sampleDef("wf-1", "b"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, err.(*schema.FlowError).Code)
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	r, _ := testRegistry(t)

	def := sampleDef("wf-1", "bad")
	def.Edges = append(def.Edges, schema.WorkflowEdge{ID: "e2", Source: "end", Target: "missing"})

	require.Error(t, r.Register(context.Background(), def))
	_, err := r.Get("wf-1")
	assert.Error(t, err, "rejected definitions are not registered")
}

func TestRegistry_RegisterNil(t *testing.T) {
	r, _ := testRegistry(t)
	err := r.Register(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidDefinition, err.(*schema.FlowError).Code)
}

func TestRegistry_Unregister(t *testing.T) {
	r, _ := testRegistry(t)

	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "a")))
	require.NoError(t, r.Unregister(context.Background(), "wf-1"))

	_, err := r.Get("wf-1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.FlowError).Code)

	err = r.Unregister(context.Background(), "wf-1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.FlowError).Code)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "a")))

	got, err := r.Get("wf-1")
	require.NoError(t, err)
	got.Nodes[0].ID = "mutated"
	got.Name = "mutated"

	again, err := r.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, "start", again.Nodes[0].ID)
	assert.Equal(t, "a", again.Name)
}

func TestRegistry_Find(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "report")))
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-2", "report")))
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-3", "other")))

	assert.Len(t, r.FindByName("report"), 2)
	assert.Len(t, r.FindByName("other"), 1)
	assert.Empty(t, r.FindByName("nope"))

	drafts := r.Find(func(def *schema.WorkflowDefinition) bool {
		return def.Status == schema.DefinitionStatusActive
	})
	assert.Len(t, drafts, 3)
	assert.Len(t, r.GetAll(), 3)
}

func TestRegistry_UpdateIncrementsVersion(t *testing.T) {
	r, _ := testRegistry(t)
	original := sampleDef("wf-1", "a")
	require.NoError(t, r.Register(context.Background(), original))

	updated := sampleDef("wf-1", "renamed")
	updated.Version = 99
	require.NoError(t, r.Update(context.Background(), updated))

	got, err := r.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version, "stored version increments regardless of the incoming one")
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, original.CreatedAt, got.CreatedAt)
}

func TestRegistry_UpdateUnknown(t *testing.T) {
	r, _ := testRegistry(t)
	err := r.Update(context.Background(), sampleDef("ghost", "a"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.FlowError).Code)
}

func TestRegistry_ExecuteByID(t *testing.T) {
	r, runner := testRegistry(t)
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "a")))

	exec, err := r.Execute(context.Background(), "wf-1", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "wf-1", runner.lastDef.ID)
	assert.Equal(t, "v", runner.lastInputs["k"])

	_, err = r.Execute(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.FlowError).Code)
}

func TestRegistry_ExecuteAsyncByID(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "a")))

	id, err := r.ExecuteAsync(context.Background(), "wf-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "exec-async", id)
}

func TestRegistry_ExecuteAnonymous(t *testing.T) {
	r, runner := testRegistry(t)

	def := sampleDef("", "one-shot")
	_, err := r.ExecuteAnonymous(context.Background(), def, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, runner.lastDef.ID)

	// Anonymous runs do not enter the pool.
	assert.Empty(t, r.GetAll())

	bad := sampleDef("", "bad")
	bad.Nodes[1].ID = "start"
	bad.Edges = nil
	_, err = r.ExecuteAnonymous(context.Background(), bad, nil)
	require.Error(t, err)
}

func TestRegistry_Stats(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "a")))
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-2", "b")))

	s := r.Stats()
	assert.Equal(t, 2, s.Workflows)
	assert.Equal(t, 4, s.TotalNodes)
	assert.Equal(t, 2, s.TotalEdges)
	assert.Equal(t, 2, s.ByStatus[string(schema.DefinitionStatusActive)])
	assert.Equal(t, 2, s.ByNodeType[string(schema.NodeTypeStart)])
}

// --- Export / import ---

func TestTransfer_ExportImportSingle(t *testing.T) {
	src, _ := testRegistry(t)
	require.NoError(t, src.Register(context.Background(), sampleDef("wf-1", "a")))

	raw, err := src.Export("wf-1")
	require.NoError(t, err)

	dst, _ := testRegistry(t)
	def, err := dst.Import(context.Background(), raw, false)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", def.ID)

	got, err := dst.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
}

func TestTransfer_ExportUnknown(t *testing.T) {
	r, _ := testRegistry(t)
	_, err := r.Export("ghost")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.FlowError).Code)
}

func TestTransfer_ImportRejectsInvalidPayload(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := r.Import(context.Background(), []byte(`{"id":"wf"}`), false)
	require.Error(t, err)
	assert.Empty(t, r.GetAll())
}

func TestTransfer_ImportCollisionRekeys(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "original")))

	raw, err := r.Export("wf-1")
	require.NoError(t, err)

	def, err := r.Import(context.Background(), raw, false)
	require.NoError(t, err)
	assert.NotEqual(t, "wf-1", def.ID)
	assert.Equal(t, 1, def.Version)
	assert.Len(t, r.GetAll(), 2)
}

func TestTransfer_ImportCollisionOverwrites(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Register(context.Background(), sampleDef("wf-1", "original")))

	exported, err := r.Export("wf-1")
	require.NoError(t, err)

	var modified schema.WorkflowDefinition
	require.NoError(t, json.Unmarshal(exported, &modified))
	modified.Name = "replacement"
	raw, err := json.Marshal(&modified)
	require.NoError(t, err)

	def, err := r.Import(context.Background(), raw, true)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", def.ID)
	assert.Equal(t, 2, def.Version)

	got, err := r.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, "replacement", got.Name)
	assert.Len(t, r.GetAll(), 1)
}

func TestTransfer_ExportAllImportAll(t *testing.T) {
	src, _ := testRegistry(t)
	require.NoError(t, src.Register(context.Background(), sampleDef("wf-1", "a")))
	require.NoError(t, src.Register(context.Background(), sampleDef("wf-2", "b")))

	raw, err := src.ExportAll()
	require.NoError(t, err)

	var env ExportEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, transferFormatVersion, env.FormatVersion)
	assert.Len(t, env.Workflows, 2)

	dst, _ := testRegistry(t)
	imported, err := dst.ImportAll(context.Background(), raw, false)
	require.NoError(t, err)
	assert.Len(t, imported, 2)
	assert.Len(t, dst.GetAll(), 2)
}

func TestTransfer_ImportAllUnsupportedVersion(t *testing.T) {
	r, _ := testRegistry(t)
	_, err := r.ImportAll(context.Background(), []byte(`{"format_version":99,"workflows":[]}`), false)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidDefinition, err.(*schema.FlowError).Code)
}
