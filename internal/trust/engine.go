// Package trust derives trust gradients from DGC signals and maintains the
// adjustment decomposition as outcomes and manual overrides arrive.
package trust

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

// Component weights for observed performance and the base trust score
const (
	gateWeight     = 0.60
	missionWeight  = 0.25
	collapseWeight = 0.15

	performanceWeight = 0.60
	alignmentWeight   = 0.25
	affinityWeight    = 0.15
)

// Diagnostic thresholds
const (
	weakGateThreshold     = 0.45
	strongGateThreshold   = 0.75
	highCollapseThreshold = 0.65
	selfGapThreshold      = 0.25
)

// Derive computes the trust gradient for a freshly ingested signal. It runs
// exactly once per signal; later outcome or manual adjustments mutate only
// the adjustment, score, flag, and decomposition fields.
func Derive(signal *types.Signal, identity *types.Identity, antiGamingFlags []string, antiAdjustment float64) *types.TrustGradient {
	gateComponent := types.SafeMean(mapValues(signal.GateScores), 0.5)
	// An empty collapse map reads as neutral 0.5 risk, not zero risk.
	collapseRaw := types.SafeMean(mapValues(signal.CollapseDimensions), 0.5)
	collapseComponent := 1.0 - collapseRaw

	missionComponent := 0.5
	if signal.MissionRelevance != nil {
		missionComponent = *signal.MissionRelevance
	}

	observedPerformance := types.Clamp01(
		gateWeight*gateComponent + missionWeight*missionComponent + collapseWeight*collapseComponent)

	var selfGrade *float64
	var affinity []string
	if identity != nil {
		grade := identity.SelfGrade
		selfGrade = &grade
		affinity = identity.TaskAffinity
	}

	selfAlignmentComponent := 0.75 // neutral default for absent self-report
	if selfGrade != nil {
		selfAlignmentComponent = types.Clamp01(1.0 - math.Abs(*selfGrade-observedPerformance))
	}

	affinityMatchComponent, affinityMismatch := affinityMatch(signal.TaskType, affinity)

	baseTrustScore := types.Round4(types.Clamp01(
		performanceWeight*observedPerformance +
			alignmentWeight*selfAlignmentComponent +
			affinityWeight*affinityMatchComponent))

	weakGates := namesWhere(signal.GateScores, func(v float64) bool { return v < weakGateThreshold })
	strongGates := namesWhere(signal.GateScores, func(v float64) bool { return v >= strongGateThreshold })
	highCollapse := namesWhere(signal.CollapseDimensions, func(v float64) bool { return v >= highCollapseThreshold })

	var likelyCauses []string
	if len(weakGates) > 0 {
		likelyCauses = append(likelyCauses, types.CauseContextQualityGap)
	}
	if len(highCollapse) > 0 {
		likelyCauses = append(likelyCauses, types.CauseLiturgicalCollapseRisk)
	}
	if affinityMismatch {
		likelyCauses = append(likelyCauses, types.CauseTaskAffinityMismatch)
	}
	if selfGrade != nil && math.Abs(*selfGrade-observedPerformance) >= selfGapThreshold {
		likelyCauses = append(likelyCauses, types.CauseSelfAssessmentGap)
	}
	if len(antiGamingFlags) > 0 {
		likelyCauses = append(likelyCauses, types.CauseAntiGamingReview)
	}
	if len(likelyCauses) == 0 {
		likelyCauses = append(likelyCauses, types.CauseOnTrack)
	}

	totalAdjustment := types.Round4(antiAdjustment)
	trustScore := types.Round4(types.Clamp01(baseTrustScore + totalAdjustment))
	lowTrust := trustScore < types.LowTrustThreshold

	suggestedAction := types.ActionContinueGradientPath
	if lowTrust {
		suggestedAction = types.ActionRerouteOrImproveContext
	}

	flags := antiGamingFlags
	if flags == nil {
		flags = []string{}
	}

	gradient := &types.TrustGradient{
		SignalEventID:          signal.EventID,
		SignalID:               signal.ID,
		AgentAddress:           signal.AgentAddress,
		TaskID:                 signal.TaskID,
		TaskType:               signal.TaskType,
		ArtifactID:             signal.ArtifactID,
		BaseTrustScore:         baseTrustScore,
		TrustAdjustment:        totalAdjustment,
		TrustScore:             trustScore,
		LowTrustFlag:           lowTrust,
		GateComponent:          types.Round4(gateComponent),
		MissionComponent:       types.Round4(missionComponent),
		CollapseComponent:      types.Round4(collapseComponent),
		SelfAlignmentComponent: types.Round4(selfAlignmentComponent),
		AffinityMatchComponent: types.Round4(affinityMatchComponent),
		AntiGamingFlags:        flags,
		WeakGates:              weakGates,
		StrongGates:            strongGates,
		HighCollapse:           highCollapse,
		LikelyCauses:           likelyCauses,
		CreatedAt:              time.Now().UTC(),
	}
	gradient.Diagnostic = types.Diagnostic{
		ObservedPerformance:    types.Round4(observedPerformance),
		TaskType:               signal.TaskType,
		TaskAffinity:           append([]string{}, affinity...),
		WeakGates:              weakGates,
		StrongGates:            strongGates,
		HighCollapseDimensions: highCollapse,
		LikelyCauses:           likelyCauses,
		SuggestedAction:        suggestedAction,
		Decomposition: types.AdjustmentBreakdown{
			Base:       baseTrustScore,
			AntiGaming: totalAdjustment,
			Outcome:    0,
			Manual:     0,
			Total:      totalAdjustment,
			Effective:  trustScore,
		},
	}
	return gradient
}

// affinityMatch scores how well a signal's task type matches the identity's
// declared affinities. Substring matches count in either direction. The
// mismatch flag is raised only when affinity data exists and none matched.
func affinityMatch(taskType string, affinity []string) (float64, bool) {
	if taskType == "" || len(affinity) == 0 {
		return 0.5, false
	}
	taskNorm := strings.ToLower(strings.TrimSpace(taskType))
	for _, item := range affinity {
		if item == taskNorm || strings.Contains(taskNorm, item) || strings.Contains(item, taskNorm) {
			return 1.0, false
		}
	}
	return 0.25, true
}

func mapValues(m map[string]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func namesWhere(m map[string]float64, pred func(float64) bool) []string {
	out := []string{}
	for name, score := range m {
		if pred(score) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
