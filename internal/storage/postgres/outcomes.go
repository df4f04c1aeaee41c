package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

// AppendOutcome stores one verified outcome row
func (s *PostgresStorage) AppendOutcome(ctx context.Context, outcome *types.Outcome) (*types.Outcome, error) {
	evidenceJSON, err := marshalJSON(outcome.Evidence)
	if err != nil {
		return nil, err
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now().UTC()
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO outcome_witnesses (event_id, recorded_by, outcome_type, status, evidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		outcome.EventID,
		outcome.RecordedBy,
		string(outcome.Type),
		string(outcome.Status),
		evidenceJSON,
		outcome.CreatedAt,
	).Scan(&outcome.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to append outcome for %s: %w", outcome.EventID, err)
	}
	return outcome, nil
}

// OutcomesForEvent returns every outcome for an event in recording order
func (s *PostgresStorage) OutcomesForEvent(ctx context.Context, eventID string) ([]*types.Outcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, recorded_by, outcome_type, status, evidence::text, created_at
		FROM outcome_witnesses
		WHERE event_id = $1
		ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes for %s: %w", eventID, err)
	}
	defer rows.Close()

	var out []*types.Outcome
	for rows.Next() {
		var outcome types.Outcome
		var evidenceJSON string
		if err := rows.Scan(
			&outcome.ID,
			&outcome.EventID,
			&outcome.RecordedBy,
			&outcome.Type,
			&outcome.Status,
			&evidenceJSON,
			&outcome.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		if err := unmarshalInto(evidenceJSON, &outcome.Evidence); err != nil {
			return nil, err
		}
		out = append(out, &outcome)
	}
	return out, rows.Err()
}
