package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/sab-lab/convergence/internal/policy"
	"github.com/sab-lab/convergence/internal/types"
)

// GetPolicy returns the active scoring policy, defaults when none is stored
func (s *Service) GetPolicy(ctx context.Context) (*types.Policy, error) {
	return s.policies.Current(ctx)
}

// UpdatePolicy validates and appends a new policy version
func (s *Service) UpdatePolicy(ctx context.Context, p *types.Policy, updatedBy, reason string) (*types.Policy, error) {
	if updatedBy == "" {
		return nil, &types.ValidationError{Field: "updated_by", Reason: "required"}
	}
	stored, err := s.policies.Update(ctx, p, updatedBy, reason)
	if err != nil {
		return nil, err
	}

	if _, err := s.witnessAction(ctx, updatedBy, actionPolicyUpdated, "policy", map[string]any{
		"version": stored.Version,
		"reason":  reason,
	}); err != nil {
		return nil, err
	}
	return stored, nil
}

// RunDarwinCycle triggers one policy tuning attempt. An accepted non-dry run
// installs the candidate as the active policy; every run is logged and
// witnessed regardless of acceptance.
func (s *Service) RunDarwinCycle(ctx context.Context, reviewer, reason string, dryRun, runValidation bool) (*types.DarwinRun, error) {
	if reviewer == "" {
		return nil, &types.ValidationError{Field: "reviewer", Reason: "required"}
	}

	run, err := s.darwin.RunCycle(ctx, policy.CycleRequest{
		Reviewer:      reviewer,
		Reason:        reason,
		DryRun:        dryRun,
		RunValidation: runValidation,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.witnessAction(ctx, reviewer, actionDarwinCycle, run.RunID, map[string]any{
		"status":              run.Status,
		"accepted":            run.Accepted,
		"dry_run":             run.DryRun,
		"baseline_objective":  run.BaselineObjective,
		"candidate_objective": run.CandidateObjective,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("darwin cycle recorded",
		zap.String("run_id", run.RunID),
		zap.String("status", run.Status),
		zap.Bool("accepted", run.Accepted))
	return run, nil
}

// ListDarwinRuns returns recent tuning attempts most-recent-first
func (s *Service) ListDarwinRuns(ctx context.Context, limit int) ([]*types.DarwinRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListDarwinRuns(ctx, limit)
}
