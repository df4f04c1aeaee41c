package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

// CurrentPolicy returns the latest policy version.
// A NotFoundError means no policy has been persisted yet; callers fall back
// to the built-in defaults.
func (s *SQLiteStorage) CurrentPolicy(ctx context.Context) (*types.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, replay_penalty, cross_agent_replay_penalty, collusion_penalty,
		       outcome_pass_bonus, outcome_fail_penalty, human_acceptance_bonus,
		       max_adjustment_abs, COALESCE(updated_by, ''), COALESCE(reason, ''), created_at
		FROM policy_versions
		ORDER BY version DESC
		LIMIT 1`)

	var p types.Policy
	err := row.Scan(
		&p.Version,
		&p.ReplayPenalty,
		&p.CrossAgentReplayPenalty,
		&p.CollusionPenalty,
		&p.OutcomePassBonus,
		&p.OutcomeFailPenalty,
		&p.HumanAcceptanceBonus,
		&p.MaxAdjustmentAbs,
		&p.UpdatedBy,
		&p.Reason,
		&p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &types.NotFoundError{Kind: "policy", Key: "current"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current policy: %w", err)
	}
	return &p, nil
}

// AppendPolicy persists a new policy version
func (s *SQLiteStorage) AppendPolicy(ctx context.Context, policy *types.Policy) (*types.Policy, error) {
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_versions (
			version, replay_penalty, cross_agent_replay_penalty, collusion_penalty,
			outcome_pass_bonus, outcome_fail_penalty, human_acceptance_bonus,
			max_adjustment_abs, updated_by, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		policy.Version,
		policy.ReplayPenalty,
		policy.CrossAgentReplayPenalty,
		policy.CollusionPenalty,
		policy.OutcomePassBonus,
		policy.OutcomeFailPenalty,
		policy.HumanAcceptanceBonus,
		policy.MaxAdjustmentAbs,
		nullable(policy.UpdatedBy),
		nullable(policy.Reason),
		policy.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append policy version %d: %w", policy.Version, err)
	}
	return policy, nil
}
