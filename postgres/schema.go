package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS flow_workflows (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flow_nodes (
    workflow_id TEXT NOT NULL REFERENCES flow_workflows(id) ON DELETE CASCADE,
    id          TEXT NOT NULL,
    position    INTEGER NOT NULL,
    type        TEXT NOT NULL,
    data        JSONB,
    PRIMARY KEY (workflow_id, id)
);

CREATE TABLE IF NOT EXISTS flow_connections (
    workflow_id TEXT NOT NULL REFERENCES flow_workflows(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    source      TEXT NOT NULL,
    target      TEXT NOT NULL,
    PRIMARY KEY (workflow_id, position)
);

CREATE TABLE IF NOT EXISTS flow_jobs (
    id              TEXT PRIMARY KEY,
    workflow_id     TEXT NOT NULL,
    user_id         TEXT NOT NULL DEFAULT '',
    trigger_type    TEXT NOT NULL,
    trigger_payload JSONB,
    status          TEXT NOT NULL,
    error           TEXT NOT NULL DEFAULT '',
    result          JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flow_steps (
    job_id     TEXT NOT NULL REFERENCES flow_jobs(id) ON DELETE CASCADE,
    step_name  TEXT NOT NULL,
    result     JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (job_id, step_name)
);

CREATE INDEX IF NOT EXISTS idx_flow_nodes_workflow ON flow_nodes(workflow_id);
CREATE INDEX IF NOT EXISTS idx_flow_jobs_status    ON flow_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_flow_jobs_workflow  ON flow_jobs(workflow_id);
`

// CreateSchema creates the engine tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the engine tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`DROP TABLE IF EXISTS flow_steps, flow_jobs, flow_connections, flow_nodes, flow_workflows CASCADE;`)
	return err
}
