package nodes

import (
	"context"

	"github.com/TIZ36/chatflow/internal/expressions"
	"github.com/TIZ36/chatflow/pkg/schema"
)

// llmNode delegates a completion request to the ModelClient collaborator.
// Prompt and system prompt may contain ${{ }} references resolved against
// the execution scope before the call.
type llmNode struct {
	cfg    *schema.LLMNodeConfig
	client ModelClient
	interp *expressions.Interpolator
}

func llmFactory(client ModelClient, interp *expressions.Interpolator) Factory {
	return func(def *schema.NodeDefinition) (Node, error) {
		parsed, err := schema.ParseNodeConfig(def)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"llm node %s: no model client configured", def.ID).WithNode(def.ID)
		}
		return &llmNode{cfg: parsed.(*schema.LLMNodeConfig), client: client, interp: interp}, nil
	}
}

func (n *llmNode) Type() schema.NodeType { return schema.NodeTypeLLM }

func (n *llmNode) Execute(ctx context.Context, nc NodeContext) (*schema.NodeResult, error) {
	prompt := n.cfg.Prompt
	system := n.cfg.SystemPrompt

	if n.interp != nil && nc.Scope != nil {
		var err error
		if expressions.HasInterpolation([]byte(prompt)) {
			prompt, err = n.interp.ResolveString(ctx, prompt, nc.Scope)
			if err != nil {
				return nil, err
			}
		}
		if expressions.HasInterpolation([]byte(system)) {
			system, err = n.interp.ResolveString(ctx, system, nc.Scope)
			if err != nil {
				return nil, err
			}
		}
	}

	resp, err := n.client.Complete(ctx, ModelRequest{
		Provider:     n.cfg.Provider,
		Model:        n.cfg.Model,
		Prompt:       prompt,
		SystemPrompt: system,
		Temperature:  n.cfg.Temperature,
		MaxTokens:    n.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = n.cfg.Model
	}

	return &schema.NodeResult{
		Success: true,
		Output: map[string]any{
			"text":        resp.Text,
			"model":       model,
			"tokens_used": resp.TokensUsed,
		},
	}, nil
}
