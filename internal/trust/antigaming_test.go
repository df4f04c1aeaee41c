package trust

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sab-lab/convergence/internal/types"
)

func fingerprintSignal(eventID, agent, alias string) *types.Signal {
	return &types.Signal{
		EventID:            eventID,
		AgentAddress:       agent,
		TaskType:           "evaluation",
		ArtifactID:         "artifact-1",
		SourceAlias:        alias,
		GateScores:         map[string]float64{"satya": 0.9},
		CollapseDimensions: map[string]float64{"ritual_ack": 0.1},
		MissionRelevance:   floatPtr(0.8),
	}
}

func TestContentFingerprintStable(t *testing.T) {
	a, err := SignalFingerprint(fingerprintSignal("evt-1", "agent-a", "scout"))
	require.NoError(t, err)
	// event_id and agent are identity, not content; fingerprint ignores them
	b, err := SignalFingerprint(fingerprintSignal("evt-2", "agent-b", "scout"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	changed := fingerprintSignal("evt-3", "agent-a", "scout")
	changed.GateScores["satya"] = 0.91
	c, err := SignalFingerprint(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestContentFingerprintNilMission(t *testing.T) {
	signal := fingerprintSignal("evt-1", "agent-a", "")
	signal.MissionRelevance = nil
	a, err := SignalFingerprint(signal)
	require.NoError(t, err)

	withMission := fingerprintSignal("evt-1", "agent-a", "")
	b, err := SignalFingerprint(withMission)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDetectReplayLaundering(t *testing.T) {
	incoming := fingerprintSignal("evt-new", "agent-a", "")
	incoming.ArtifactID = ""
	prior := fingerprintSignal("evt-old", "agent-a", "")
	prior.ArtifactID = ""

	flags, err := DetectFlags(incoming, []*types.Signal{prior})
	require.NoError(t, err)
	assert.Equal(t, []string{types.FlagReplayLaundering}, flags)
}

func TestDetectCrossAgentReplay(t *testing.T) {
	incoming := fingerprintSignal("evt-new", "agent-a", "")
	prior := fingerprintSignal("evt-old", "agent-b", "")

	flags, err := DetectFlags(incoming, []*types.Signal{prior})
	require.NoError(t, err)
	assert.Contains(t, flags, types.FlagCrossAgentReplay)
	assert.NotContains(t, flags, types.FlagReplayLaundering)
}

func TestDetectCrossAgentArtifactOnly(t *testing.T) {
	// Different scores, same artifact from another agent
	incoming := fingerprintSignal("evt-new", "agent-a", "")
	prior := fingerprintSignal("evt-old", "agent-b", "")
	prior.GateScores = map[string]float64{"satya": 0.2}

	flags, err := DetectFlags(incoming, []*types.Signal{prior})
	require.NoError(t, err)
	assert.Equal(t, []string{types.FlagCrossAgentReplay}, flags)
}

func TestDetectSourceAliasCollusion(t *testing.T) {
	incoming := fingerprintSignal("evt-new", "agent-a", "scout")
	incoming.ArtifactID = ""

	// One other agent sharing the alias is not yet a cluster
	one := fingerprintSignal("evt-1", "agent-b", "scout")
	one.ArtifactID = ""
	one.GateScores = map[string]float64{"satya": 0.5}
	flags, err := DetectFlags(incoming, []*types.Signal{one})
	require.NoError(t, err)
	assert.NotContains(t, flags, types.FlagSourceAliasCollusion)

	two := fingerprintSignal("evt-2", "agent-c", "scout")
	two.ArtifactID = ""
	two.GateScores = map[string]float64{"satya": 0.6}
	flags, err = DetectFlags(incoming, []*types.Signal{one, two})
	require.NoError(t, err)
	assert.Contains(t, flags, types.FlagSourceAliasCollusion)
}

func TestDetectIgnoresOwnEventID(t *testing.T) {
	// The stored copy of the incoming event must not flag itself
	incoming := fingerprintSignal("evt-1", "agent-a", "")
	stored := fingerprintSignal("evt-1", "agent-a", "")

	flags, err := DetectFlags(incoming, []*types.Signal{stored})
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestDetectCleanWindow(t *testing.T) {
	incoming := fingerprintSignal("evt-new", "agent-a", "")
	incoming.ArtifactID = ""

	var recent []*types.Signal
	for i := 0; i < 20; i++ {
		s := fingerprintSignal(fmt.Sprintf("evt-%d", i), "agent-a", "")
		s.ArtifactID = ""
		s.GateScores = map[string]float64{"satya": 0.5 + float64(i)*0.01}
		recent = append(recent, s)
	}

	flags, err := DetectFlags(incoming, recent)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestAdjustmentForFlags(t *testing.T) {
	policy := &types.Policy{
		ReplayPenalty:           -0.15,
		CrossAgentReplayPenalty: -0.20,
		CollusionPenalty:        -0.25,
		MaxAdjustmentAbs:        0.30,
	}

	assert.Equal(t, 0.0, AdjustmentForFlags(nil, policy))
	assert.Equal(t, -0.15, AdjustmentForFlags([]string{types.FlagReplayLaundering}, policy))
	// All three sum past the ceiling and clamp
	all := []string{types.FlagReplayLaundering, types.FlagCrossAgentReplay, types.FlagSourceAliasCollusion}
	assert.Equal(t, -0.3, AdjustmentForFlags(all, policy))
}
