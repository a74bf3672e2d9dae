package expressions

import "context"

// Engine evaluates expressions within workflow nodes.
// Three implementations: CEL (conditions), Expr (logic), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
