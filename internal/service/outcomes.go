package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sab-lab/convergence/internal/trust"
	"github.com/sab-lab/convergence/internal/types"
)

// RecordOutcome appends a verified pass/fail result against a prior signal
// and recomputes the outcome component of that signal's trust adjustment from
// the full outcome history. Recomputation is deterministic, so repeating it
// after a partial failure is safe.
func (s *Service) RecordOutcome(ctx context.Context, req *types.OutcomeRequest) (*types.TrustGradient, error) {
	if req == nil || req.EventID == "" {
		return nil, &types.ValidationError{Field: "event_id", Reason: "required"}
	}
	if req.RecordedBy == "" {
		return nil, &types.ValidationError{Field: "recorded_by", Reason: "required"}
	}
	if !types.ValidOutcomeType(req.Type) {
		return nil, &types.ValidationError{Field: "outcome_type", Reason: fmt.Sprintf("unknown type %q", req.Type)}
	}
	if !types.ValidOutcomeStatus(req.Status) {
		return nil, &types.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", req.Status)}
	}
	if err := validateMetadata("evidence", req.Evidence); err != nil {
		return nil, err
	}

	s.adjustMu.Lock()
	defer s.adjustMu.Unlock()

	gradient, err := s.store.GetGradientByEventID(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	evidence := req.Evidence
	if evidence == nil {
		evidence = map[string]any{}
	}
	outcome, err := s.store.AppendOutcome(ctx, &types.Outcome{
		EventID:    req.EventID,
		RecordedBy: req.RecordedBy,
		Type:       req.Type,
		Status:     req.Status,
		Evidence:   evidence,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.recomputeAdjustment(ctx, gradient, gradient.Diagnostic.Decomposition.Manual, "", "", nil)
	if err != nil {
		return nil, err
	}

	if _, err := s.witnessAction(ctx, req.RecordedBy, actionOutcomeRecorded, req.EventID, map[string]any{
		"outcome_id":   outcome.ID,
		"outcome_type": string(req.Type),
		"status":       string(req.Status),
		"trust_score":  updated.TrustScore,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("outcome recorded",
		zap.String("event_id", req.EventID),
		zap.String("type", string(req.Type)),
		zap.String("status", string(req.Status)),
		zap.Float64("trust_score", updated.TrustScore))
	return updated, nil
}

// SetTrustAdjustment is the administrative override: it sets a target total
// adjustment and decomposes it so the anti-gaming and outcome components,
// recomputed from stored history, survive the edit. Only the manual residual
// changes.
func (s *Service) SetTrustAdjustment(ctx context.Context, eventID string, target float64, reviewer, reason string) (*types.TrustGradient, error) {
	if eventID == "" {
		return nil, &types.ValidationError{Field: "event_id", Reason: "required"}
	}
	if reviewer == "" {
		return nil, &types.ValidationError{Field: "reviewer", Reason: "required"}
	}
	if reason == "" {
		return nil, &types.ValidationError{Field: "reason", Reason: "required"}
	}

	s.adjustMu.Lock()
	defer s.adjustMu.Unlock()

	gradient, err := s.store.GetGradientByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	currentPolicy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.store.OutcomesForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	anti := trust.AdjustmentForFlags(gradient.AntiGamingFlags, currentPolicy)
	outcomeComp := trust.OutcomeComponent(outcomes, currentPolicy)
	manual := target - anti - outcomeComp

	now := time.Now().UTC()
	updated, err := s.recomputeAdjustment(ctx, gradient, manual, reviewer, reason, &now)
	if err != nil {
		return nil, err
	}

	if _, err := s.witnessAction(ctx, reviewer, actionTrustAdjusted, eventID, map[string]any{
		"target_adjustment": types.Round4(target),
		"manual_component":  updated.Diagnostic.Decomposition.Manual,
		"trust_score":       updated.TrustScore,
		"reason":            reason,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("trust adjustment set",
		zap.String("event_id", eventID),
		zap.String("reviewer", reviewer),
		zap.Float64("trust_score", updated.TrustScore))
	return updated, nil
}

// ApplyClawback lowers an event's trust score by a penalty on top of its
// current total adjustment
func (s *Service) ApplyClawback(ctx context.Context, eventID string, penalty float64, reviewer, reason string) (*types.TrustGradient, error) {
	if penalty <= 0 {
		return nil, &types.ValidationError{Field: "penalty", Reason: "must be positive"}
	}
	gradient, err := s.store.GetGradientByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	target := gradient.TrustAdjustment - math.Abs(penalty)
	updated, err := s.SetTrustAdjustment(ctx, eventID, target, reviewer, reason)
	if err != nil {
		return nil, err
	}

	if _, err := s.witnessAction(ctx, reviewer, actionClawbackApplied, eventID, map[string]any{
		"penalty":     types.Round4(penalty),
		"trust_score": updated.TrustScore,
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// recomputeAdjustment rebuilds the full decomposition from stored flags and
// outcome history plus the given manual component, then persists the mutable
// fields
func (s *Service) recomputeAdjustment(ctx context.Context, gradient *types.TrustGradient, manual float64, reviewer, reason string, adjustedAt *time.Time) (*types.TrustGradient, error) {
	currentPolicy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.store.OutcomesForEvent(ctx, gradient.SignalEventID)
	if err != nil {
		return nil, err
	}

	anti := trust.AdjustmentForFlags(gradient.AntiGamingFlags, currentPolicy)
	outcomeComp := trust.OutcomeComponent(outcomes, currentPolicy)
	breakdown := trust.Recombine(gradient.BaseTrustScore, anti, outcomeComp, manual, currentPolicy)

	update := &types.AdjustmentUpdate{
		TrustAdjustment: breakdown.Total,
		TrustScore:      breakdown.Effective,
		LowTrustFlag:    breakdown.Effective < types.LowTrustThreshold,
		Breakdown:       breakdown,
		Reviewer:        reviewer,
		Reason:          reason,
		AdjustedAt:      adjustedAt,
	}
	if err := s.store.UpdateGradientAdjustment(ctx, gradient.SignalEventID, update); err != nil {
		return nil, err
	}
	return s.store.GetGradientByEventID(ctx, gradient.SignalEventID)
}
