package nodes

import (
	"context"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// passThroughNode is the start/end/join marker node. The scheduler resolves
// pass-through kinds synchronously, but Execute stays implemented so the
// contract holds for direct invocation in tests.
type passThroughNode struct {
	kind schema.NodeType
}

func passThroughFactory(kind schema.NodeType) Factory {
	return func(def *schema.NodeDefinition) (Node, error) {
		if _, err := schema.ParseNodeConfig(def); err != nil {
			return nil, err
		}
		return &passThroughNode{kind: kind}, nil
	}
}

func (n *passThroughNode) Type() schema.NodeType { return n.kind }

func (n *passThroughNode) Execute(ctx context.Context, nc NodeContext) (*schema.NodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &schema.NodeResult{Success: true}, nil
}
