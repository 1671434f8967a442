package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flow"
)

// SaveWorkflow saves a full workflow snapshot (nodes + connections) in one
// transaction, replacing any previous snapshot with the same id.
// Cycles are accepted here; they are rejected when a run orders the graph.
func (s *PGStore) SaveWorkflow(ctx context.Context, g *flow.Graph) error {
	if g.WorkflowID == "" {
		return fmt.Errorf("flow: workflow id is required")
	}
	if err := g.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("flow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Replace semantics: connections and nodes cascade from the workflow row.
	if _, err := tx.Exec(ctx, `DELETE FROM flow_workflows WHERE id = $1`, g.WorkflowID); err != nil {
		return fmt.Errorf("flow: delete workflow: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO flow_workflows (id, owner_id) VALUES ($1, $2)`,
		g.WorkflowID, g.OwnerID,
	); err != nil {
		return fmt.Errorf("flow: insert workflow: %w", err)
	}

	for i, n := range g.Nodes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO flow_nodes (workflow_id, id, position, type, data) VALUES ($1, $2, $3, $4, $5)`,
			g.WorkflowID, n.ID, i, n.Type, []byte(n.Data),
		); err != nil {
			return fmt.Errorf("flow: insert node %s: %w", n.ID, err)
		}
	}

	for i, c := range g.Connections {
		if _, err := tx.Exec(ctx,
			`INSERT INTO flow_connections (workflow_id, position, source, target) VALUES ($1, $2, $3, $4)`,
			g.WorkflowID, i, c.Source, c.Target,
		); err != nil {
			return fmt.Errorf("flow: insert connection %s -> %s: %w", c.Source, c.Target, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("flow: commit: %w", err)
	}
	return nil
}

// LoadGraph retrieves a workflow snapshot with nodes in their saved order.
// Returns flow.ErrWorkflowNotFound if the workflow doesn't exist.
func (s *PGStore) LoadGraph(ctx context.Context, workflowID string) (*flow.Graph, error) {
	g := &flow.Graph{WorkflowID: workflowID}

	err := s.db.QueryRow(ctx,
		`SELECT owner_id FROM flow_workflows WHERE id = $1`, workflowID,
	).Scan(&g.OwnerID)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", flow.ErrWorkflowNotFound, workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("flow: get workflow: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, type, data FROM flow_nodes WHERE workflow_id = $1 ORDER BY position`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("flow: query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n    flow.Node
			data []byte
		)
		if err := rows.Scan(&n.ID, &n.Type, &data); err != nil {
			return nil, fmt.Errorf("flow: scan node: %w", err)
		}
		n.Data = data
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows nodes: %w", err)
	}

	rows, err = s.db.Query(ctx,
		`SELECT source, target FROM flow_connections WHERE workflow_id = $1 ORDER BY position`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("flow: query connections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c flow.Connection
		if err := rows.Scan(&c.Source, &c.Target); err != nil {
			return nil, fmt.Errorf("flow: scan connection: %w", err)
		}
		g.Connections = append(g.Connections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows connections: %w", err)
	}

	return g, nil
}

// DeleteWorkflow removes a workflow with its nodes and connections.
// No error if the workflow doesn't exist.
func (s *PGStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM flow_workflows WHERE id = $1`, workflowID); err != nil {
		return fmt.Errorf("flow: delete workflow: %w", err)
	}
	return nil
}
