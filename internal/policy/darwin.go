package policy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sab-lab/convergence/internal/storage"
	"github.com/sab-lab/convergence/internal/trust"
	"github.com/sab-lab/convergence/internal/types"
)

const (
	// tuningStep is the fixed nudge applied per cycle to any weight the
	// outcome data argues against
	tuningStep = 0.02

	// acceptEpsilon is the minimum objective improvement required to accept
	// a candidate
	acceptEpsilon = 0.002

	// minScoredEvents is the smallest outcome-bearing sample a cycle will
	// tune on; below it the cycle records insufficient_data and exits
	minScoredEvents = 5

	// sampleLimit bounds the historical window a cycle evaluates against
	sampleLimit = 500
)

// Darwin runs the policy tuning cycle: propose a candidate from observed
// outcome data, evaluate both policies against history, and accept the
// candidate only when it measurably improves the objective and external
// validation (when requested) passes. Triggered externally; never
// self-scheduling.
type Darwin struct {
	store             storage.Storage
	policies          *Store
	logger            *zap.Logger
	validationCmds    []string
	validationTimeout time.Duration
}

// NewDarwin wires a tuning loop over the given storage and policy store
func NewDarwin(store storage.Storage, policies *Store, logger *zap.Logger, validationCmds []string, validationTimeout time.Duration) *Darwin {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validationTimeout <= 0 {
		validationTimeout = 5 * time.Minute
	}
	return &Darwin{
		store:             store,
		policies:          policies,
		logger:            logger,
		validationCmds:    validationCmds,
		validationTimeout: validationTimeout,
	}
}

// CycleRequest names the parameters of one tuning run
type CycleRequest struct {
	Reviewer      string
	Reason        string
	DryRun        bool
	RunValidation bool
}

// RunCycle executes one tuning attempt and always records a DarwinRun row,
// accepted or not. A dry run evaluates and logs but never mutates the active
// policy.
func (d *Darwin) RunCycle(ctx context.Context, req CycleRequest) (*types.DarwinRun, error) {
	baseline, err := d.policies.Current(ctx)
	if err != nil {
		return nil, err
	}

	run := &types.DarwinRun{
		RunID:            uuid.NewString(),
		DryRun:           req.DryRun,
		BaselinePolicy:   *baseline,
		ValidationResult: "skipped",
	}

	events, err := d.store.ScoredEvents(ctx, sampleLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load scored events: %w", err)
	}
	scored := withOutcomes(events)

	if len(scored) < minScoredEvents {
		run.Status = "insufficient_data"
		run.CandidatePolicy = *baseline
		run.Notes = fmt.Sprintf("%d outcome-bearing events, need %d", len(scored), minScoredEvents)
		return d.record(ctx, run)
	}

	candidate := ProposeCandidate(baseline, scored)
	run.CandidatePolicy = *candidate

	baseObj, _ := EvaluateObjective(baseline, scored)
	candObj, fpRate := EvaluateObjective(candidate, scored)
	run.BaselineObjective = types.Round4(baseObj)
	run.CandidateObjective = types.Round4(candObj)
	run.FalsePositiveRate = types.Round4(fpRate)

	improved := candObj-baseObj > acceptEpsilon

	validationOK := true
	if req.RunValidation {
		if err := d.validate(ctx); err != nil {
			validationOK = false
			run.ValidationResult = "failed: " + err.Error()
		} else {
			run.ValidationResult = "passed"
		}
	}

	run.Accepted = improved && validationOK
	run.Status = "completed"

	if run.Accepted && !req.DryRun {
		if _, err := d.policies.Update(ctx, candidate, req.Reviewer, req.Reason); err != nil {
			run.Status = "failed"
			run.Accepted = false
			run.Notes = "policy append failed: " + err.Error()
			return d.record(ctx, run)
		}
	}

	d.logger.Info("darwin cycle finished",
		zap.String("run_id", run.RunID),
		zap.Bool("accepted", run.Accepted),
		zap.Bool("dry_run", req.DryRun),
		zap.Float64("baseline_objective", run.BaselineObjective),
		zap.Float64("candidate_objective", run.CandidateObjective))
	return d.record(ctx, run)
}

func (d *Darwin) record(ctx context.Context, run *types.DarwinRun) (*types.DarwinRun, error) {
	stored, err := d.store.AppendDarwinRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to record darwin run: %w", err)
	}
	return stored, nil
}

// validate shells out to the configured commands under a shared deadline.
// Non-zero exit, timeout, and an empty command list are all failures; an
// unrunnable validation never reads as a passing one.
func (d *Darwin) validate(ctx context.Context) error {
	if len(d.validationCmds) == 0 {
		return fmt.Errorf("validation requested but no commands configured")
	}

	ctx, cancel := context.WithTimeout(ctx, d.validationTimeout)
	defer cancel()

	for _, cmdline := range d.validationCmds {
		cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
		output, err := cmd.CombinedOutput()
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("command %q timed out after %s", cmdline, d.validationTimeout)
		}
		if err != nil {
			detail := strings.TrimSpace(string(output))
			if len(detail) > 200 {
				detail = detail[:200]
			}
			return fmt.Errorf("command %q failed: %v: %s", cmdline, err, detail)
		}
	}
	return nil
}

// ProposeCandidate derives a candidate policy from outcome history. Flagged
// events that mostly passed argue the penalties are too aggressive; flagged
// events that mostly failed argue they are too lenient. The overall pass-rate
// trend tunes the outcome weights the same way.
func ProposeCandidate(baseline *types.Policy, events []*types.ScoredEvent) *types.Policy {
	candidate := *baseline

	var flaggedTotal, flaggedPassed int
	var passTotal, outcomeTotal int
	for _, ev := range events {
		ratio := passRatio(ev.Outcomes)
		outcomeTotal += len(ev.Outcomes)
		passTotal += countPasses(ev.Outcomes)
		if len(ev.Gradient.AntiGamingFlags) > 0 {
			flaggedTotal++
			if ratio > 0.5 {
				flaggedPassed++
			}
		}
	}

	if flaggedTotal > 0 {
		flaggedPassRatio := float64(flaggedPassed) / float64(flaggedTotal)
		switch {
		case flaggedPassRatio >= 0.6:
			// Mostly false positives: soften every anti-gaming penalty
			candidate.ReplayPenalty = nudgeTowardZero(candidate.ReplayPenalty)
			candidate.CrossAgentReplayPenalty = nudgeTowardZero(candidate.CrossAgentReplayPenalty)
			candidate.CollusionPenalty = nudgeTowardZero(candidate.CollusionPenalty)
		case flaggedPassRatio <= 0.4:
			candidate.ReplayPenalty = nudgeAwayFromZero(candidate.ReplayPenalty)
			candidate.CrossAgentReplayPenalty = nudgeAwayFromZero(candidate.CrossAgentReplayPenalty)
			candidate.CollusionPenalty = nudgeAwayFromZero(candidate.CollusionPenalty)
		}
	}

	if outcomeTotal > 0 {
		overallPassRate := float64(passTotal) / float64(outcomeTotal)
		if overallPassRate >= 0.6 {
			candidate.OutcomePassBonus = types.Round4(types.Clamp(candidate.OutcomePassBonus+tuningStep, 0, FieldMax))
		} else if overallPassRate <= 0.4 {
			candidate.OutcomeFailPenalty = types.Round4(types.Clamp(candidate.OutcomeFailPenalty-tuningStep, FieldMin, 0))
		}
	}

	return &candidate
}

// EvaluateObjective scores a policy against outcome-bearing history. Each
// event contributes 1 − |simulated effective trust − observed pass ratio|;
// the objective is the mean contribution. Also reports the false positive
// rate: flagged events that mostly passed over flagged events total.
func EvaluateObjective(p *types.Policy, events []*types.ScoredEvent) (objective, falsePositiveRate float64) {
	var sum float64
	var counted int
	var flaggedTotal, flaggedPassed int

	for _, ev := range events {
		if len(ev.Outcomes) == 0 {
			continue
		}
		ratio := passRatio(ev.Outcomes)

		anti := trust.AdjustmentForFlags(ev.Gradient.AntiGamingFlags, p)
		outcome := trust.OutcomeComponent(ev.Outcomes, p)
		manual := ev.Gradient.Diagnostic.Decomposition.Manual
		breakdown := trust.Recombine(ev.Gradient.BaseTrustScore, anti, outcome, manual, p)

		diff := breakdown.Effective - ratio
		if diff < 0 {
			diff = -diff
		}
		sum += 1 - diff
		counted++

		if len(ev.Gradient.AntiGamingFlags) > 0 {
			flaggedTotal++
			if ratio > 0.5 {
				flaggedPassed++
			}
		}
	}

	if counted == 0 {
		return 0, 0
	}
	objective = sum / float64(counted)
	if flaggedTotal > 0 {
		falsePositiveRate = float64(flaggedPassed) / float64(flaggedTotal)
	}
	return objective, falsePositiveRate
}

func withOutcomes(events []*types.ScoredEvent) []*types.ScoredEvent {
	out := make([]*types.ScoredEvent, 0, len(events))
	for _, ev := range events {
		if len(ev.Outcomes) > 0 {
			out = append(out, ev)
		}
	}
	return out
}

func passRatio(outcomes []*types.Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	return float64(countPasses(outcomes)) / float64(len(outcomes))
}

func countPasses(outcomes []*types.Outcome) int {
	var n int
	for _, o := range outcomes {
		if o.Status == types.OutcomePass {
			n++
		}
	}
	return n
}

func nudgeTowardZero(penalty float64) float64 {
	return types.Round4(types.Clamp(penalty+tuningStep, FieldMin, 0))
}

func nudgeAwayFromZero(penalty float64) float64 {
	return types.Round4(types.Clamp(penalty-tuningStep, FieldMin, 0))
}
