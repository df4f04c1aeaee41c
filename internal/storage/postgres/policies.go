package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

const policyColumns = `version, replay_penalty, cross_agent_replay_penalty,
       collusion_penalty, outcome_pass_bonus, outcome_fail_penalty,
       human_acceptance_bonus, max_adjustment_abs, COALESCE(updated_by, ''),
       COALESCE(reason, ''), created_at`

// CurrentPolicy returns the latest policy version
func (s *PostgresStorage) CurrentPolicy(ctx context.Context) (*types.Policy, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+policyColumns+`
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
	if isNoRows(err) {
		return nil, &types.NotFoundError{Kind: "policy", Key: "current"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current policy: %w", err)
	}
	return &p, nil
}

// AppendPolicy stores a new policy version
func (s *PostgresStorage) AppendPolicy(ctx context.Context, policy *types.Policy) (*types.Policy, error) {
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO policy_versions (
			version, replay_penalty, cross_agent_replay_penalty, collusion_penalty,
			outcome_pass_bonus, outcome_fail_penalty, human_acceptance_bonus,
			max_adjustment_abs, updated_by, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
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
