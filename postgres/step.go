package postgres

import (
	"context"
	"encoding/json"
	"fmt"
)

// RecordStepResult writes a step result. The first recorded result for a
// (job, step) pair wins; later writes are ignored.
func (s *PGStore) RecordStepResult(ctx context.Context, jobID, stepName string, result json.RawMessage) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO flow_steps (job_id, step_name, result) VALUES ($1, $2, $3)
		 ON CONFLICT (job_id, step_name) DO NOTHING`,
		jobID, stepName, []byte(result),
	)
	if err != nil {
		return fmt.Errorf("flow: record step %s: %w", stepName, err)
	}
	return nil
}

// LookupStepResult reads a recorded step result.
func (s *PGStore) LookupStepResult(ctx context.Context, jobID, stepName string) (json.RawMessage, bool, error) {
	var result []byte
	err := s.db.QueryRow(ctx,
		`SELECT result FROM flow_steps WHERE job_id = $1 AND step_name = $2`, jobID, stepName,
	).Scan(&result)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("flow: lookup step %s: %w", stepName, err)
	}
	return result, true, nil
}
