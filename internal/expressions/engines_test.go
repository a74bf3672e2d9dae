package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TIZ36/chatflow/pkg/schema"
)

func celEngine(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCELEngine_BooleanCondition(t *testing.T) {
	e := celEngine(t)

	out, err := e.Evaluate(context.Background(), `variables.count > 3`, map[string]any{
		"variables": map[string]any{"count": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_MissingNamespacesDefaultEmpty(t *testing.T) {
	e := celEngine(t)

	out, err := e.Evaluate(context.Background(), `size(nodes) == 0 && size(inputs) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_NodeOutputAccess(t *testing.T) {
	e := celEngine(t)

	out, err := e.Evaluate(context.Background(), `nodes.fetch.status == "ok"`, map[string]any{
		"nodes": map[string]any{"fetch": map[string]any{"status": "ok"}},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_EmptyExpression(t *testing.T) {
	e := celEngine(t)
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, err.(*schema.FlowError).Code)
}

func TestCELEngine_CompileError(t *testing.T) {
	e := celEngine(t)
	_, err := e.Evaluate(context.Background(), `variables.x ==`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, err.(*schema.FlowError).Code)
}

func TestCELEngine_CachesPrograms(t *testing.T) {
	e := celEngine(t)
	data := map[string]any{"variables": map[string]any{"x": 1}}

	_, err := e.Evaluate(context.Background(), `variables.x == 1`, data)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), `variables.x == 1`, data)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

func TestExprEngine_ArrayOperations(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `len(filter(items, # > 2))`, map[string]any{
		"items": []any{1, 2, 3, 4},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out)
}

func TestExprEngine_NilCoalescing(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing ?? "fallback"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExprEngine_EmptyExpression(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, err.(*schema.FlowError).Code)
}

func TestGoJQEngine_Reshape(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `{total: (.a + .b)}`, map[string]any{
		"a": 2, "b": 3,
	})
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 5, m["total"])
}

func TestGoJQEngine_ScalarResult(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.n * 2`, map[string]any{"n": 4})
	require.NoError(t, err)
	assert.EqualValues(t, 8, out)
}

func TestGoJQEngine_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.items[]`, map[string]any{
		"items": []any{"x", "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, out)
}

func TestGoJQEngine_ParseError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), `.[[[`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, err.(*schema.FlowError).Code)
}

func TestGoJQEngine_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `env | length`, map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, out, "environment access is sandboxed")
}

func TestGoJQEngine_NormalizesIntegers(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.nested.v + 1`, map[string]any{
		"nested": map[string]any{"v": int64(41)},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}
