package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

// AppendDarwinRun logs one policy tuning attempt
func (s *PostgresStorage) AppendDarwinRun(ctx context.Context, run *types.DarwinRun) (*types.DarwinRun, error) {
	baselineJSON, err := marshalJSON(run.BaselinePolicy)
	if err != nil {
		return nil, err
	}
	candidateJSON, err := marshalJSON(run.CandidatePolicy)
	if err != nil {
		return nil, err
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO darwin_runs (
			run_id, status, dry_run, baseline_policy, candidate_policy,
			baseline_objective, candidate_objective, false_positive_rate,
			accepted, validation_result, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		run.RunID,
		run.Status,
		run.DryRun,
		baselineJSON,
		candidateJSON,
		run.BaselineObjective,
		run.CandidateObjective,
		run.FalsePositiveRate,
		run.Accepted,
		run.ValidationResult,
		nullable(run.Notes),
		run.CreatedAt,
	).Scan(&run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to append darwin run %s: %w", run.RunID, err)
	}
	return run, nil
}

// ListDarwinRuns returns tuning attempts, most recent first
func (s *PostgresStorage) ListDarwinRuns(ctx context.Context, limit int) ([]*types.DarwinRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, status, dry_run, baseline_policy::text, candidate_policy::text,
		       baseline_objective, candidate_objective, false_positive_rate,
		       accepted, validation_result, COALESCE(notes, ''), created_at
		FROM darwin_runs
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query darwin runs: %w", err)
	}
	defer rows.Close()

	var out []*types.DarwinRun
	for rows.Next() {
		var run types.DarwinRun
		var baselineJSON, candidateJSON string
		if err := rows.Scan(
			&run.ID,
			&run.RunID,
			&run.Status,
			&run.DryRun,
			&baselineJSON,
			&candidateJSON,
			&run.BaselineObjective,
			&run.CandidateObjective,
			&run.FalsePositiveRate,
			&run.Accepted,
			&run.ValidationResult,
			&run.Notes,
			&run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan darwin run row: %w", err)
		}
		if err := unmarshalInto(baselineJSON, &run.BaselinePolicy); err != nil {
			return nil, err
		}
		if err := unmarshalInto(candidateJSON, &run.CandidatePolicy); err != nil {
			return nil, err
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}
