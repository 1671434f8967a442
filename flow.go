// Package flow executes automation workflows expressed as directed graphs of
// typed nodes. A run orders the graph, invokes one executor per node with
// durable, memoized steps and streams per-node status to live observers.
package flow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Graph is one workflow snapshot: its nodes and directed connections.
// A Graph loaded for a run is never mutated; later edits to the workflow do
// not affect a run that already holds its snapshot.
type Graph struct {
	WorkflowID  string       `json:"workflow_id"`
	OwnerID     string       `json:"owner_id,omitempty"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Node is a unit of work. Type selects the executor, Data is the
// executor-specific configuration.
type Node struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Connection says Target depends on Source.
type Connection struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// reservedIDChars separate node ids from step names and output markers in
// step log keys.
const reservedIDChars = "/#"

// Validate checks that node ids are unique and free of reserved characters
// and that every connection endpoint names a node of the graph.
func (g *Graph) Validate() error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: empty node id", ErrDuplicateNode)
		}
		if strings.ContainsAny(n.ID, reservedIDChars) {
			return fmt.Errorf("%w: %q contains one of %q", ErrInvalidNodeID, n.ID, reservedIDChars)
		}
		if _, ok := seen[n.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for _, c := range g.Connections {
		if _, ok := seen[c.Source]; !ok {
			return fmt.Errorf("%w: unknown source %q", ErrDanglingConnection, c.Source)
		}
		if _, ok := seen[c.Target]; !ok {
			return fmt.Errorf("%w: unknown target %q", ErrDanglingConnection, c.Target)
		}
	}
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// predecessors maps every node id to the distinct ids it directly depends on.
func (g *Graph) predecessors() map[string][]string {
	preds := make(map[string][]string, len(g.Nodes))
	seen := make(map[Connection]struct{}, len(g.Connections))
	for _, n := range g.Nodes {
		preds[n.ID] = nil
	}
	for _, c := range g.Connections {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		preds[c.Target] = append(preds[c.Target], c.Source)
	}
	return preds
}

// successors maps every node id to the distinct ids that directly depend on it.
func (g *Graph) successors() map[string][]string {
	succs := make(map[string][]string, len(g.Nodes))
	seen := make(map[Connection]struct{}, len(g.Connections))
	for _, c := range g.Connections {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		succs[c.Source] = append(succs[c.Source], c.Target)
	}
	return succs
}
