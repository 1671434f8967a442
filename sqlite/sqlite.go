// Package sqlite implements flow.Store on an embedded SQLite database for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meikuraledutech/flow"
)

var _ flow.Store = (*Store)(nil)

// Store is a SQLite-backed flow.Store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables write-ahead logging for concurrent readers.
	WAL bool
}

// New opens the database and applies migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite serializes writes.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			workflow_id TEXT NOT NULL,
			id TEXT NOT NULL,
			position INTEGER NOT NULL,
			type TEXT NOT NULL,
			data TEXT,
			PRIMARY KEY (workflow_id, id),
			FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			workflow_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			PRIMARY KEY (workflow_id, position),
			FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			trigger_type TEXT NOT NULL,
			trigger_payload TEXT,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			result TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS steps (
			job_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			result TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (job_id, step_name)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("sqlite: migration failed: %w", err)
		}
	}
	return nil
}

// SaveWorkflow replaces the stored snapshot for g.WorkflowID.
func (s *Store) SaveWorkflow(ctx context.Context, g *flow.Graph) error {
	if g.WorkflowID == "" {
		return fmt.Errorf("sqlite: workflow id is required")
	}
	if err := g.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, g.WorkflowID); err != nil {
		return fmt.Errorf("sqlite: delete workflow: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (id, owner_id, updated_at) VALUES (?, ?, ?)`,
		g.WorkflowID, g.OwnerID, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("sqlite: insert workflow: %w", err)
	}
	for i, n := range g.Nodes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (workflow_id, id, position, type, data) VALUES (?, ?, ?, ?, ?)`,
			g.WorkflowID, n.ID, i, n.Type, nullBytes(n.Data),
		); err != nil {
			return fmt.Errorf("sqlite: insert node %s: %w", n.ID, err)
		}
	}
	for i, c := range g.Connections {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO connections (workflow_id, position, source, target) VALUES (?, ?, ?, ?)`,
			g.WorkflowID, i, c.Source, c.Target,
		); err != nil {
			return fmt.Errorf("sqlite: insert connection: %w", err)
		}
	}
	return tx.Commit()
}

// LoadGraph returns the stored snapshot with nodes in saved order.
func (s *Store) LoadGraph(ctx context.Context, workflowID string) (*flow.Graph, error) {
	g := &flow.Graph{WorkflowID: workflowID}
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM workflows WHERE id = ?`, workflowID).Scan(&g.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", flow.ErrWorkflowNotFound, workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get workflow: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data FROM nodes WHERE workflow_id = ? ORDER BY position`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n    flow.Node
			data sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.Type, &data); err != nil {
			return nil, fmt.Errorf("sqlite: scan node: %w", err)
		}
		if data.Valid {
			n.Data = []byte(data.String)
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows nodes: %w", err)
	}

	crows, err := s.db.QueryContext(ctx,
		`SELECT source, target FROM connections WHERE workflow_id = ? ORDER BY position`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query connections: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var c flow.Connection
		if err := crows.Scan(&c.Source, &c.Target); err != nil {
			return nil, fmt.Errorf("sqlite: scan connection: %w", err)
		}
		g.Connections = append(g.Connections, c)
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows connections: %w", err)
	}
	return g, nil
}

// DeleteWorkflow removes a workflow. No error if it does not exist.
func (s *Store) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, workflowID); err != nil {
		return fmt.Errorf("sqlite: delete workflow: %w", err)
	}
	return nil
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
