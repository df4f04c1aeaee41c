package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

// AppendDarwinRun logs one policy tuning attempt
func (s *SQLiteStorage) AppendDarwinRun(ctx context.Context, run *types.DarwinRun) (*types.DarwinRun, error) {
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

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO darwin_runs (
			run_id, status, dry_run, baseline_policy, candidate_policy,
			baseline_objective, candidate_objective, false_positive_rate,
			accepted, validation_result, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.Status,
		boolToInt(run.DryRun),
		baselineJSON,
		candidateJSON,
		run.BaselineObjective,
		run.CandidateObjective,
		run.FalsePositiveRate,
		boolToInt(run.Accepted),
		run.ValidationResult,
		nullable(run.Notes),
		run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append darwin run %s: %w", run.RunID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read darwin run insert id: %w", err)
	}
	run.ID = id
	return run, nil
}

// ListDarwinRuns returns tuning attempts, most recent first
func (s *SQLiteStorage) ListDarwinRuns(ctx context.Context, limit int) ([]*types.DarwinRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, status, dry_run, baseline_policy, candidate_policy,
		       baseline_objective, candidate_objective, false_positive_rate,
		       accepted, validation_result, COALESCE(notes, ''), created_at
		FROM darwin_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query darwin runs: %w", err)
	}
	defer rows.Close()

	var out []*types.DarwinRun
	for rows.Next() {
		var run types.DarwinRun
		var dryRun, accepted int
		var baselineJSON, candidateJSON string
		if err := rows.Scan(
			&run.ID,
			&run.RunID,
			&run.Status,
			&dryRun,
			&baselineJSON,
			&candidateJSON,
			&run.BaselineObjective,
			&run.CandidateObjective,
			&run.FalsePositiveRate,
			&accepted,
			&run.ValidationResult,
			&run.Notes,
			&run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan darwin run row: %w", err)
		}
		run.DryRun = dryRun != 0
		run.Accepted = accepted != 0
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
