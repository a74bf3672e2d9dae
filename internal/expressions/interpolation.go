package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// InterpolationScope holds all data available for variable resolution.
type InterpolationScope struct {
	Nodes     map[string]any // node ID -> output (completed nodes only)
	Inputs    map[string]any // caller-supplied execution inputs
	Variables map[string]any // shared execution variables
	Workflow  map[string]any // workflow metadata (execution_id, etc.)
}

// Interpolator resolves ${{...}} references in node configs (LLM prompts,
// tool arguments) against the execution scope.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve scans raw JSON for ${{...}} tokens and replaces each with the
// resolved value from the scope. Returns the interpolated JSON bytes.
func (interp *Interpolator) Resolve(ctx context.Context, raw json.RawMessage, scope *InterpolationScope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	resolved, err := interp.resolveString(ctx, string(raw), scope)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resolved), nil
}

// ResolveString resolves ${{...}} references in a plain string, such as an
// LLM prompt template.
func (interp *Interpolator) ResolveString(ctx context.Context, s string, scope *InterpolationScope) (string, error) {
	return interp.resolveString(ctx, s, scope)
}

func (interp *Interpolator) resolveString(ctx context.Context, input string, scope *InterpolationScope) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		// Look for ${{ marker.
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		// Write everything before the marker.
		result.WriteString(input[i : i+idx])
		start := i + idx + 3 // skip "${{".

		// Find the closing }}.
		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeExpression, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])

		// Reject recursive interpolation: no nested ${{ inside the expression.
		if strings.Contains(expr, "${{") {
			return "", schema.NewError(schema.ErrCodeExpression,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		if expr == "" {
			return "", schema.NewError(schema.ErrCodeExpression, "empty variable reference: ${{  }}")
		}

		val, err := interp.resolveExpr(ctx, expr, scope)
		if err != nil {
			return "", err
		}

		result.WriteString(marshalInline(val))

		i = end + 2 // skip "}}".
	}

	return result.String(), nil
}

// resolveExpr resolves a single expression path like "nodes.fetch.output.url".
func (interp *Interpolator) resolveExpr(ctx context.Context, expr string, scope *InterpolationScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "nodes":
		return interp.resolveNodes(expr, scope)
	case "inputs":
		return interp.resolveFromNamespace(scope.Inputs, expr, "inputs")
	case "variables":
		return interp.resolveFromNamespace(scope.Variables, expr, "variables")
	case "workflow":
		return interp.resolveFromNamespace(scope.Workflow, expr, "workflow")
	default:
		available := []string{"nodes", "inputs", "variables", "workflow"}
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// resolveNodes resolves nodes.<id>.output[.<field>...] references.
func (interp *Interpolator) resolveNodes(expr string, scope *InterpolationScope) (any, error) {
	// Expected: nodes.<id>.output or nodes.<id>.output.<field>...
	parts := strings.SplitN(expr, ".", 4) // [nodes, id, output, rest...]
	if len(parts) < 3 {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid node reference %q: expected nodes.<id>.output[.<field>]", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	nodeID := parts[1]
	if parts[2] != "output" {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid node reference %q: only 'output' property is supported (got %q)", expr, parts[2]).
			WithDetails(map[string]any{"expression": expr})
	}

	output, ok := scope.Nodes[nodeID]
	if !ok {
		available := mapKeys(scope.Nodes)
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"node %q not found in ${{%s}}; available nodes: [%s]", nodeID, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_nodes": available})
	}

	// nodes.<id>.output — return the whole output.
	if len(parts) == 3 {
		return output, nil
	}

	// nodes.<id>.output.<field>[.<subfield>...]
	return traversePath(output, parts[3], expr)
}

// resolveFromNamespace resolves a <namespace>.<field>[.<subfield>...] reference.
func (interp *Interpolator) resolveFromNamespace(data map[string]any, expr, namespace string) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid %s reference %q: expected %s.<name>", namespace, expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	fieldPath := parts[1]
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Try direct key lookup first (supports keys with dots).
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}

	return traversePath(data, fieldPath, expr)
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path, expr string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeExpression,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// marshalInline converts a resolved value into its inline representation.
// Strings are embedded as-is; complex types are JSON-encoded.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Simple insertion sort for small slices.
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}

// HasInterpolation checks if a blob contains any ${{...}} references.
func HasInterpolation(raw []byte) bool {
	return strings.Contains(string(raw), "${{")
}
