package engine

import (
	"github.com/TIZ36/chatflow/pkg/schema"
)

// depGraph is the scheduling view of a workflow definition: adjacency in both
// directions plus in-degree counts for the ready queue.
type depGraph struct {
	order    []string // node IDs in definition order, for deterministic iteration
	nodes    map[string]*schema.NodeDefinition
	children map[string][]string
	parents  map[string][]string
	inDegree map[string]int
}

// buildGraph validates the structure of a definition and produces its
// dependency graph. Structural failures (empty graph, unknown edge endpoints,
// no entry point) report INVALID_DEFINITION; a cycle reports CYCLE_DETECTED
// naming the offending node. No node executes unless this passes.
func buildGraph(def *schema.WorkflowDefinition) (*depGraph, error) {
	if len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidDefinition, "workflow has no nodes")
	}

	g := &depGraph{
		order:    make([]string, 0, len(def.Nodes)),
		nodes:    make(map[string]*schema.NodeDefinition, len(def.Nodes)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		inDegree: make(map[string]int, len(def.Nodes)),
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			return nil, schema.NewError(schema.ErrCodeInvalidDefinition, "node with empty id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"duplicate node id %q", n.ID).WithNode(n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
		g.inDegree[n.ID] = 0
	}

	for i := range def.Edges {
		e := &def.Edges[i]
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"edge %s references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
				"edge %s references unknown target node %q", e.ID, e.Target)
		}
		g.children[e.Source] = append(g.children[e.Source], e.Target)
		g.parents[e.Target] = append(g.parents[e.Target], e.Source)
		g.inDegree[e.Target]++
	}

	if len(g.entryPoints()) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidDefinition,
			"workflow has no entry point: every node has incoming edges")
	}

	if nodeID, cyclic := g.detectCycle(); cyclic {
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow contains a cycle through node %q", nodeID).WithNode(nodeID)
	}

	return g, nil
}

// entryPoints returns the nodes with no incoming edges, in definition order.
func (g *depGraph) entryPoints() []string {
	var roots []string
	for _, id := range g.order {
		if g.inDegree[id] == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS stack
	colorBlack        // fully explored
)

// detectCycle runs a three-color depth-first search. An edge into a gray node
// is a back edge; the gray node is the one reported.
func (g *depGraph) detectCycle() (string, bool) {
	colors := make(map[string]int, len(g.order))

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		colors[id] = colorGray
		for _, child := range g.children[id] {
			switch colors[child] {
			case colorGray:
				return child, true
			case colorWhite:
				if nodeID, cyclic := visit(child); cyclic {
					return nodeID, true
				}
			}
		}
		colors[id] = colorBlack
		return "", false
	}

	for _, id := range g.order {
		if colors[id] == colorWhite {
			if nodeID, cyclic := visit(id); cyclic {
				return nodeID, true
			}
		}
	}
	return "", false
}
