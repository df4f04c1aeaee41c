package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

// AppendOutcome stores a new outcome witness row
func (s *SQLiteStorage) AppendOutcome(ctx context.Context, outcome *types.Outcome) (*types.Outcome, error) {
	evidenceJSON, err := marshalJSON(outcome.Evidence)
	if err != nil {
		return nil, err
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO outcome_witnesses (event_id, recorded_by, outcome_type, status, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		outcome.EventID,
		outcome.RecordedBy,
		string(outcome.Type),
		string(outcome.Status),
		evidenceJSON,
		outcome.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append outcome for %s: %w", outcome.EventID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome insert id: %w", err)
	}
	outcome.ID = id
	return outcome, nil
}

// OutcomesForEvent returns all outcomes recorded against an event, oldest first
func (s *SQLiteStorage) OutcomesForEvent(ctx context.Context, eventID string) ([]*types.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, recorded_by, outcome_type, status, evidence, created_at
		FROM outcome_witnesses
		WHERE event_id = ?
		ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes for %s: %w", eventID, err)
	}
	defer rows.Close()

	var out []*types.Outcome
	for rows.Next() {
		var o types.Outcome
		var evidenceJSON string
		if err := rows.Scan(&o.ID, &o.EventID, &o.RecordedBy, &o.Type, &o.Status, &evidenceJSON, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		if err := unmarshalInto(evidenceJSON, &o.Evidence); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}
