package trust

import (
	"github.com/sab-lab/convergence/internal/types"
)

// OutcomeComponent computes the outcome share of a gradient's adjustment:
// the policy-weighted sum over every outcome recorded for the event. Human
// acceptance earns the pass bonus plus its own bonus on top. Recomputed from
// scratch each time an outcome arrives, never incrementally patched.
func OutcomeComponent(outcomes []*types.Outcome, policy *types.Policy) float64 {
	var total float64
	for _, outcome := range outcomes {
		switch outcome.Status {
		case types.OutcomePass:
			total += policy.OutcomePassBonus
			if outcome.Type == types.OutcomeHumanAcceptance {
				total += policy.HumanAcceptanceBonus
			}
		case types.OutcomeFail:
			total += policy.OutcomeFailPenalty
		}
	}
	return types.Round4(types.Clamp(total, -policy.MaxAdjustmentAbs, policy.MaxAdjustmentAbs))
}

// Recombine folds the three adjustment components into the stored breakdown.
// Each component is clamped independently before summation and the sum is
// clamped again, so no single source can push the total past the ceiling and
// components remain attributable after the fact.
func Recombine(base, antiGaming, outcome, manual float64, policy *types.Policy) types.AdjustmentBreakdown {
	limit := policy.MaxAdjustmentAbs
	antiGaming = types.Clamp(antiGaming, -limit, limit)
	outcome = types.Clamp(outcome, -limit, limit)
	manual = types.Clamp(manual, -limit, limit)
	total := types.Clamp(antiGaming+outcome+manual, -limit, limit)

	return types.AdjustmentBreakdown{
		Base:       types.Round4(base),
		AntiGaming: types.Round4(antiGaming),
		Outcome:    types.Round4(outcome),
		Manual:     types.Round4(manual),
		Total:      types.Round4(total),
		Effective:  types.Round4(types.Clamp01(base + total)),
	}
}
