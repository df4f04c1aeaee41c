// Package policy manages the versioned scoring/penalty policy and the darwin
// tuning loop that proposes, evaluates, and conditionally accepts new
// versions.
package policy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sab-lab/convergence/internal/storage"
	"github.com/sab-lab/convergence/internal/types"
)

// Every numeric policy field lives inside this bound
const (
	FieldMin = -0.60
	FieldMax = 0.60
)

// Defaults is the policy in force before any version is persisted
func Defaults() *types.Policy {
	return &types.Policy{
		Version:                 0,
		ReplayPenalty:           -0.15,
		CrossAgentReplayPenalty: -0.20,
		CollusionPenalty:        -0.25,
		OutcomePassBonus:        0.05,
		OutcomeFailPenalty:      -0.10,
		HumanAcceptanceBonus:    0.05,
		MaxAdjustmentAbs:        0.30,
	}
}

// Validate checks every numeric field against the global bound. Penalties must
// not reward and bonuses must not punish; the adjustment ceiling must leave
// room to adjust at all.
func Validate(p *types.Policy) error {
	fields := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"replay_penalty", p.ReplayPenalty, FieldMin, 0},
		{"cross_agent_replay_penalty", p.CrossAgentReplayPenalty, FieldMin, 0},
		{"collusion_penalty", p.CollusionPenalty, FieldMin, 0},
		{"outcome_pass_bonus", p.OutcomePassBonus, 0, FieldMax},
		{"outcome_fail_penalty", p.OutcomeFailPenalty, FieldMin, 0},
		{"human_acceptance_bonus", p.HumanAcceptanceBonus, 0, FieldMax},
		{"max_adjustment_abs", p.MaxAdjustmentAbs, 0.01, FieldMax},
	}
	for _, f := range fields {
		if f.value < f.min || f.value > f.max {
			return &types.ValidationError{
				Field:  f.name,
				Reason: fmt.Sprintf("%.4f outside [%.2f, %.2f]", f.value, f.min, f.max),
			}
		}
	}
	return nil
}

// Store serves the current policy and appends new versions
type Store struct {
	store  storage.Storage
	logger *zap.Logger
}

// NewStore creates a policy store over the given backend
func NewStore(store storage.Storage, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{store: store, logger: logger}
}

// Current returns the latest persisted policy, or the defaults when none has
// been written yet
func (s *Store) Current(ctx context.Context) (*types.Policy, error) {
	current, err := s.store.CurrentPolicy(ctx)
	if types.IsNotFound(err) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current policy: %w", err)
	}
	return current, nil
}

// Update validates and appends a new policy version. The stored version number
// is always current+1 regardless of what the caller supplied.
func (s *Store) Update(ctx context.Context, p *types.Policy, updatedBy, reason string) (*types.Policy, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}

	next := *p
	next.Version = current.Version + 1
	next.UpdatedBy = updatedBy
	next.Reason = reason
	next.CreatedAt = time.Now().UTC()

	stored, err := s.store.AppendPolicy(ctx, &next)
	if err != nil {
		return nil, fmt.Errorf("failed to append policy version %d: %w", next.Version, err)
	}

	s.logger.Info("policy updated",
		zap.Int("version", stored.Version),
		zap.String("updated_by", updatedBy))
	return stored, nil
}
