package flow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// TopologicalSort orders the nodes of g so that every connection's source
// precedes its target. Nodes without connections are included like any
// other; nodes with no ordering constraint between them keep their input
// order. A cycle anywhere in the graph yields a *GraphCycleError.
func TopologicalSort(g *Graph) ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(g.Nodes))
	dg := graph.New(graph.StringHash, graph.Directed())
	for i, n := range g.Nodes {
		index[n.ID] = i
		if err := dg.AddVertex(n.ID); err != nil {
			return nil, fmt.Errorf("flow: add node %s: %w", n.ID, err)
		}
	}
	for _, c := range g.Connections {
		err := dg.AddEdge(c.Source, c.Target)
		if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return nil, fmt.Errorf("flow: add connection %s -> %s: %w", c.Source, c.Target, err)
		}
	}

	order, err := graph.StableTopologicalSort(dg, func(a, b string) bool {
		return index[a] < index[b]
	})
	if err != nil {
		return nil, &GraphCycleError{WorkflowID: g.WorkflowID, Nodes: cycleMembers(dg, g, index)}
	}
	return order, nil
}

// cycleMembers lists, in input order, the nodes that sit on a cycle.
func cycleMembers(dg graph.Graph[string, string], g *Graph, index map[string]int) []string {
	sccs, err := graph.StronglyConnectedComponents(dg)
	if err != nil {
		return nil
	}
	selfLoop := make(map[string]bool)
	for _, c := range g.Connections {
		if c.Source == c.Target {
			selfLoop[c.Source] = true
		}
	}

	var members []string
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && selfLoop[scc[0]]) {
			members = append(members, scc...)
		}
	}
	sort.Slice(members, func(i, j int) bool { return index[members[i]] < index[members[j]] })
	return members
}
