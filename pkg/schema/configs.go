package schema

import "encoding/json"

// LLMNodeConfig is the config block for llm-type nodes. Prompt and
// SystemPrompt may contain ${{ }} references resolved against the execution
// scope before the model call.
type LLMNodeConfig struct {
	Provider     string  `json:"provider,omitempty"`
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// ToolNodeConfig is the config block for tool-type nodes. Server selects the
// configured MCP server; Arguments may reference upstream outputs.
type ToolNodeConfig struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ConditionNodeConfig is the config block for condition-type nodes.
type ConditionNodeConfig struct {
	Expression string `json:"expression"`
	Engine     string `json:"engine,omitempty"` // cel | expr (default: cel)
}

// ParseNodeConfig unmarshals and validates a node's config against its type.
// Pass-through kinds carry no config and always validate.
func ParseNodeConfig(def *NodeDefinition) (any, error) {
	switch def.Type {
	case NodeTypeStart, NodeTypeEnd, NodeTypeJoin:
		return nil, nil

	case NodeTypeLLM:
		var cfg LLMNodeConfig
		if err := unmarshalConfig(def, &cfg); err != nil {
			return nil, err
		}
		if cfg.Model == "" {
			return nil, NewErrorf(ErrCodeInvalidDefinition, "llm node %s has no model", def.ID).WithNode(def.ID)
		}
		if cfg.Prompt == "" {
			return nil, NewErrorf(ErrCodeInvalidDefinition, "llm node %s has no prompt", def.ID).WithNode(def.ID)
		}
		return &cfg, nil

	case NodeTypeTool:
		var cfg ToolNodeConfig
		if err := unmarshalConfig(def, &cfg); err != nil {
			return nil, err
		}
		if cfg.Server == "" || cfg.Tool == "" {
			return nil, NewErrorf(ErrCodeInvalidDefinition, "tool node %s must name a server and a tool", def.ID).WithNode(def.ID)
		}
		return &cfg, nil

	case NodeTypeCondition:
		var cfg ConditionNodeConfig
		if err := unmarshalConfig(def, &cfg); err != nil {
			return nil, err
		}
		if cfg.Expression == "" {
			return nil, NewErrorf(ErrCodeInvalidDefinition, "condition node %s has no expression", def.ID).WithNode(def.ID)
		}
		switch cfg.Engine {
		case "", "cel", "expr":
		default:
			return nil, NewErrorf(ErrCodeInvalidDefinition, "condition node %s has unknown engine %q", def.ID, cfg.Engine).WithNode(def.ID)
		}
		return &cfg, nil

	default:
		return nil, NewErrorf(ErrCodeInvalidDefinition, "node %s has unknown type %q", def.ID, def.Type).WithNode(def.ID)
	}
}

func unmarshalConfig(def *NodeDefinition, out any) error {
	if len(def.Config) == 0 {
		return NewErrorf(ErrCodeInvalidDefinition, "%s node %s has no config", def.Type, def.ID).WithNode(def.ID)
	}
	if err := json.Unmarshal(def.Config, out); err != nil {
		return NewErrorf(ErrCodeInvalidDefinition, "%s node %s has invalid config: %v", def.Type, def.ID, err).WithNode(def.ID).WithCause(err)
	}
	return nil
}
