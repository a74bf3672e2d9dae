package nodes

import (
	"context"
	"fmt"

	"github.com/TIZ36/chatflow/internal/expressions"
	"github.com/TIZ36/chatflow/pkg/schema"
)

// conditionNode evaluates a boolean expression against the execution scope.
// Its output carries both the raw result and a branch label so edge
// conditions ("true"/"false") on its outgoing edges can route dependents.
type conditionNode struct {
	cfg    *schema.ConditionNodeConfig
	engine expressions.Engine
}

func conditionFactory(cel *expressions.CELEngine, exprEng *expressions.ExprEngine) Factory {
	return func(def *schema.NodeDefinition) (Node, error) {
		parsed, err := schema.ParseNodeConfig(def)
		if err != nil {
			return nil, err
		}
		cfg := parsed.(*schema.ConditionNodeConfig)

		var engine expressions.Engine
		switch cfg.Engine {
		case "expr":
			engine = exprEng
		default: // "" or "cel"
			engine = cel
		}
		if engine == nil || (cfg.Engine != "expr" && cel == nil) {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"condition node %s: %s engine unavailable", def.ID, cfg.Engine).WithNode(def.ID)
		}

		return &conditionNode{cfg: cfg, engine: engine}, nil
	}
}

func (n *conditionNode) Type() schema.NodeType { return schema.NodeTypeCondition }

func (n *conditionNode) Execute(ctx context.Context, nc NodeContext) (*schema.NodeResult, error) {
	data := map[string]any{
		"inputs":    nc.Inputs,
		"variables": nc.Variables,
	}
	if nc.Scope != nil {
		data["nodes"] = nc.Scope.Nodes
		data["workflow"] = nc.Scope.Workflow
	}

	out, err := n.engine.Evaluate(ctx, n.cfg.Expression, data)
	if err != nil {
		return nil, err
	}

	result, err := coerceBool(out)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"condition %q: %s", n.cfg.Expression, err.Error()).WithNode(nc.NodeID)
	}

	branch := "false"
	if result {
		branch = "true"
	}
	return &schema.NodeResult{
		Success: true,
		Output: map[string]any{
			"result": result,
			"branch": branch,
		},
	}, nil
}

// coerceBool converts an evaluation result to a boolean. Only genuine
// booleans are accepted; anything else is a config error surfaced to the
// caller rather than guessed at.
func coerceBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression produced %T, expected bool", v)
	}
	return b, nil
}
