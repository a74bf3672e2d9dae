package validation

import (
	"fmt"
	"time"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// NodeLookup reports whether a node type is registered. Satisfied by
// nodes.Registry; may be nil to skip type existence checks.
type NodeLookup interface {
	Has(t schema.NodeType) bool
}

// validateSemantic performs semantic analysis on the definition.
// Checks: unique node IDs, registered node types, typed config parse, retry
// and timeout durations, edge endpoint references, condition engine names.
func validateSemantic(def *schema.WorkflowDefinition, lookup NodeLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if n.ID == "" {
			result.AddError(path+".id", schema.ErrCodeInvalidDefinition, "node id is empty")
			continue
		}
		if nodeIDs[n.ID] {
			result.AddError(path+".id", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		nodeIDs[n.ID] = true

		if lookup != nil && !lookup.Has(n.Type) {
			result.AddError(path+".type", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type))
			continue
		}

		if _, err := schema.ParseNodeConfig(n); err != nil {
			result.AddError(path+".config", schema.ErrCodeInvalidDefinition, err.Error())
		}

		if n.Timeout != "" {
			if _, err := time.ParseDuration(n.Timeout); err != nil {
				result.AddError(path+".timeout", schema.ErrCodeInvalidDefinition,
					fmt.Sprintf("node %q has invalid timeout %q", n.ID, n.Timeout))
			}
		}

		validateRetryPolicy(n, path, result)
	}

	for i := range def.Edges {
		e := &def.Edges[i]
		path := fmt.Sprintf("edges[%d]", i)

		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("edge references non-existent source node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("edge references non-existent target node %q", e.Target))
		}
		if e.Source != "" && e.Source == e.Target {
			result.AddError(path, schema.ErrCodeCycleDetected,
				fmt.Sprintf("edge from node %q to itself", e.Source))
		}
	}

	return result
}

func validateRetryPolicy(n *schema.NodeDefinition, path string, result *schema.ValidationResult) {
	policy := n.Retry
	if policy == nil {
		return
	}

	if policy.MaxRetries < 0 {
		result.AddError(path+".retry.max_retries", schema.ErrCodeInvalidDefinition,
			fmt.Sprintf("node %q has negative max_retries", n.ID))
	}
	switch policy.Backoff {
	case "", "none", "constant", "linear", "exponential":
	default:
		result.AddError(path+".retry.backoff", schema.ErrCodeInvalidDefinition,
			fmt.Sprintf("node %q has unknown backoff strategy %q", n.ID, policy.Backoff))
	}
	if policy.Delay != "" {
		if _, err := time.ParseDuration(policy.Delay); err != nil {
			result.AddError(path+".retry.delay", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("node %q has invalid retry delay %q", n.ID, policy.Delay))
		}
	}
	if policy.MaxDelay != "" {
		if _, err := time.ParseDuration(policy.MaxDelay); err != nil {
			result.AddError(path+".retry.max_delay", schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("node %q has invalid retry max_delay %q", n.ID, policy.MaxDelay))
		}
	}
	if policy.MaxRetries > 0 && policy.Delay == "" {
		result.AddWarning(path+".retry.delay", schema.ErrCodeInvalidDefinition,
			fmt.Sprintf("node %q retries without a delay; attempts will be back to back", n.ID))
	}
}
