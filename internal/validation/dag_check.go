package validation

import (
	"fmt"
	"sort"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// validateDAG performs graph analysis on the definition: entry point
// existence, cycle detection (Kahn's algorithm), and unreachable-node
// warnings (BFS from the entry points). The executor re-runs its own DFS
// cycle check at run time; this stage exists so registry and import callers
// get the same verdict without starting an execution.
func validateDAG(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.ID] = true
	}

	// children[id] = downstream targets, inDegree from inbound edges.
	children := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	for id := range nodeIDs {
		inDegree[id] = 0
	}
	for _, e := range def.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue // invalid refs already caught by semantic
		}
		children[e.Source] = append(children[e.Source], e.Target)
		inDegree[e.Target]++
	}

	roots := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	if len(nodeIDs) > 0 && len(roots) == 0 {
		result.AddError("nodes", schema.ErrCodeInvalidDefinition,
			"workflow has no entry point: every node has incoming edges")
		return result
	}

	// Kahn's algorithm for cycle detection.
	queue := make([]string, len(roots))
	copy(queue, roots)
	degrees := make(map[string]int, len(inDegree))
	for id, d := range inDegree {
		degrees[id] = d
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range children[node] {
			degrees[child]--
			if degrees[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if visited != len(nodeIDs) {
		var stuck []string
		for id, d := range degrees {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		result.AddError("edges", schema.ErrCodeCycleDetected,
			fmt.Sprintf("workflow contains a dependency cycle involving %v", stuck))
		return result // cycle makes reachability analysis meaningless
	}

	// Reachability: BFS from entry points through children.
	reachable := make(map[string]bool, len(nodeIDs))
	bfsQueue := make([]string, len(roots))
	copy(bfsQueue, roots)
	for _, r := range roots {
		reachable[r] = true
	}
	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, child := range children[node] {
			if !reachable[child] {
				reachable[child] = true
				bfsQueue = append(bfsQueue, child)
			}
		}
	}

	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID),
				schema.ErrCodeInvalidDefinition,
				fmt.Sprintf("node %q is unreachable from any entry point", n.ID))
		}
	}

	return result
}
