package trust

import (
	"github.com/sab-lab/convergence/internal/codec"
	"github.com/sab-lab/convergence/internal/types"
)

// ContentFingerprint hashes the behavioral content of a signal. Two signals
// with the same fingerprint describe the same evidence regardless of event_id
// or submission time. The same function backs payload_hash at ingest, so an
// honest resubmission and a laundered replay hash identically and only the
// event_id distinguishes them.
func ContentFingerprint(taskType, artifactID, sourceAlias string, gateScores, collapseDimensions map[string]float64, missionRelevance *float64) (string, error) {
	var mission any
	if missionRelevance != nil {
		mission = *missionRelevance
	}
	if gateScores == nil {
		gateScores = map[string]float64{}
	}
	if collapseDimensions == nil {
		collapseDimensions = map[string]float64{}
	}
	return codec.Hash(map[string]any{
		"task_type":           taskType,
		"artifact_id":         artifactID,
		"source_alias":        sourceAlias,
		"gate_scores":         gateScores,
		"collapse_dimensions": collapseDimensions,
		"mission_relevance":   mission,
	})
}

// SignalFingerprint is ContentFingerprint applied to a stored signal
func SignalFingerprint(signal *types.Signal) (string, error) {
	return ContentFingerprint(signal.TaskType, signal.ArtifactID, signal.SourceAlias,
		signal.GateScores, signal.CollapseDimensions, signal.MissionRelevance)
}

// DetectFlags scans a bounded window of recent signals for gaming patterns
// around a new submission. Flags are non-exclusive; a signal can trip all
// three. Detection is advisory: the penalty it feeds into the gradient is
// reversible by a reviewer, so false positives cost an audit, not an agent.
func DetectFlags(incoming *types.Signal, recent []*types.Signal) ([]string, error) {
	fingerprint, err := SignalFingerprint(incoming)
	if err != nil {
		return nil, err
	}

	var sameAgentReplay, crossAgentReplay bool
	aliasAgents := map[string]bool{}

	for _, prior := range recent {
		if prior.EventID == incoming.EventID {
			continue
		}
		priorFP, err := SignalFingerprint(prior)
		if err != nil {
			return nil, err
		}
		if priorFP == fingerprint {
			if prior.AgentAddress == incoming.AgentAddress {
				sameAgentReplay = true
			} else {
				crossAgentReplay = true
			}
		}
		// A shared artifact across agents is cross-replay even when the
		// surrounding scores differ.
		if incoming.ArtifactID != "" && prior.ArtifactID == incoming.ArtifactID &&
			prior.AgentAddress != incoming.AgentAddress {
			crossAgentReplay = true
		}
		if incoming.SourceAlias != "" && prior.SourceAlias == incoming.SourceAlias &&
			prior.AgentAddress != incoming.AgentAddress {
			aliasAgents[prior.AgentAddress] = true
		}
	}

	flags := []string{}
	if sameAgentReplay {
		flags = append(flags, types.FlagReplayLaundering)
	}
	if crossAgentReplay {
		flags = append(flags, types.FlagCrossAgentReplay)
	}
	// Cluster of >=3 distinct agents (submitter plus two others) sharing one
	// source alias.
	if len(aliasAgents) >= 2 {
		flags = append(flags, types.FlagSourceAliasCollusion)
	}
	return flags, nil
}

// AdjustmentForFlags sums the configured penalty for each present flag,
// clamped to the policy's adjustment ceiling
func AdjustmentForFlags(flags []string, policy *types.Policy) float64 {
	var total float64
	for _, flag := range flags {
		switch flag {
		case types.FlagReplayLaundering:
			total += policy.ReplayPenalty
		case types.FlagCrossAgentReplay:
			total += policy.CrossAgentReplayPenalty
		case types.FlagSourceAliasCollusion:
			total += policy.CollusionPenalty
		}
	}
	return types.Round4(types.Clamp(total, -policy.MaxAdjustmentAbs, policy.MaxAdjustmentAbs))
}
