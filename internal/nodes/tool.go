package nodes

import (
	"context"
	"encoding/json"

	"github.com/TIZ36/chatflow/internal/expressions"
	"github.com/TIZ36/chatflow/pkg/schema"
)

// toolNode delegates a tool invocation to the ToolInvoker collaborator.
// Argument values may contain ${{ }} references resolved against the
// execution scope before the call.
type toolNode struct {
	cfg    *schema.ToolNodeConfig
	tools  ToolInvoker
	interp *expressions.Interpolator
}

func toolFactory(tools ToolInvoker, interp *expressions.Interpolator) Factory {
	return func(def *schema.NodeDefinition) (Node, error) {
		parsed, err := schema.ParseNodeConfig(def)
		if err != nil {
			return nil, err
		}
		if tools == nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"tool node %s: no tool invoker configured", def.ID).WithNode(def.ID)
		}
		return &toolNode{cfg: parsed.(*schema.ToolNodeConfig), tools: tools, interp: interp}, nil
	}
}

func (n *toolNode) Type() schema.NodeType { return schema.NodeTypeTool }

func (n *toolNode) Execute(ctx context.Context, nc NodeContext) (*schema.NodeResult, error) {
	args, err := n.resolveArgs(ctx, nc)
	if err != nil {
		return nil, err
	}

	out, err := n.tools.Invoke(ctx, n.cfg.Server, n.cfg.Tool, args)
	if err != nil {
		return nil, err
	}

	return &schema.NodeResult{Success: true, Output: out}, nil
}

// resolveArgs interpolates ${{ }} references inside the configured arguments.
// Arguments round-trip through JSON so nested values resolve too.
func (n *toolNode) resolveArgs(ctx context.Context, nc NodeContext) (map[string]any, error) {
	if len(n.cfg.Arguments) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(n.cfg.Arguments)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeUnknown, "marshal tool arguments: %v", err).WithCause(err)
	}

	if n.interp == nil || nc.Scope == nil || !expressions.HasInterpolation(raw) {
		return n.cfg.Arguments, nil
	}

	resolved, err := n.interp.Resolve(ctx, raw, nc.Scope)
	if err != nil {
		return nil, err
	}

	var args map[string]any
	if err := json.Unmarshal(resolved, &args); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"tool arguments are not valid JSON after interpolation: %v", err).WithCause(err)
	}
	return args, nil
}
