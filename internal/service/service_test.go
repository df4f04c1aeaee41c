package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/sab-lab/convergence/internal/config"
	"github.com/sab-lab/convergence/internal/storage/sqlite"
	"github.com/sab-lab/convergence/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestService(t *testing.T, mutate ...func(*config.Config)) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "service.db")
	cfg.IngestRate = 0 // unthrottled unless a test opts in
	for _, m := range mutate {
		m(cfg)
	}
	store, err := sqlite.New(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, cfg, nil)
}

func floatPtr(v float64) *float64 { return &v }

func agniPacket() *types.IdentityPacket {
	return &types.IdentityPacket{
		BaseModel:     "model-a",
		Alias:         "AGNI",
		Timestamp:     "2026-02-16T14:30:00Z",
		PerceivedRole: "evaluator",
		SelfGrade:     0.75,
		ContextHash:   "ctx_abc12345",
		TaskAffinity:  []string{"Evaluation", " evaluation ", "research"},
	}
}

func goodPayload(eventID string) *types.SignalPayload {
	return &types.SignalPayload{
		EventID:            eventID,
		Timestamp:          "2026-02-16T14:31:00Z",
		TaskType:           "evaluation",
		GateScores:         map[string]float64{"satya": 0.91, "substance": 0.87},
		CollapseDimensions: map[string]float64{"ritual_ack": 0.2},
		MissionRelevance:   floatPtr(0.89),
	}
}

func TestRegisterIdentityNormalizesAffinity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	identity, err := svc.RegisterIdentity(ctx, "agent-1", agniPacket())
	require.NoError(t, err)
	assert.Equal(t, []string{"evaluation", "research"}, identity.TaskAffinity)
	assert.NotEmpty(t, identity.PacketHash)
	assert.NotEmpty(t, identity.AuditHash)

	records, err := svc.WitnessList(ctx, "agent-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "identity_registered", records[0].Action)
	assert.Equal(t, records[0].Hash, identity.AuditHash)
}

func TestRegisterIdentityValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterIdentity(ctx, "", agniPacket())
	assert.True(t, types.IsValidation(err))

	bad := agniPacket()
	bad.SelfGrade = 1.2
	_, err = svc.RegisterIdentity(ctx, "agent-1", bad)
	assert.True(t, types.IsValidation(err))

	oversized := agniPacket()
	oversized.TaskAffinity = make([]string, types.MaxTaskAffinityEntries+1)
	for i := range oversized.TaskAffinity {
		oversized.TaskAffinity[i] = fmt.Sprintf("affinity-%d", i)
	}
	_, err = svc.RegisterIdentity(ctx, "agent-1", oversized)
	assert.True(t, types.IsValidation(err))
}

func TestIngestHighQualitySignal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterIdentity(ctx, "agent-1", agniPacket())
	require.NoError(t, err)

	result, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)
	assert.False(t, result.IdempotentReplay)
	assert.False(t, result.Gradient.LowTrustFlag)
	assert.Equal(t, []string{types.CauseOnTrack}, result.Gradient.LikelyCauses)
	assert.NotEmpty(t, result.Signal.AuditHash)
	assert.Equal(t, "dgc.v1", result.Signal.Metadata["schema_version"])

	// The ingest is witnessed and the audit hash points at the chain record
	records, err := svc.WitnessList(ctx, "evt-001", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, records[0].Hash, result.Signal.AuditHash)
}

func TestIngestIdempotentReplay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)

	second, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)
	assert.True(t, second.IdempotentReplay)
	assert.Equal(t, first.Gradient.TrustScore, second.Gradient.TrustScore)
	assert.Equal(t, first.Signal.ID, second.Signal.ID)
}

func TestIngestConflicts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)

	// Same event_id, different agent
	_, err = svc.IngestSignal(ctx, "agent-2", "", goodPayload("evt-001"))
	require.True(t, types.IsConflict(err))

	// Same event_id and agent, different content
	altered := goodPayload("evt-001")
	altered.GateScores["satya"] = 0.5
	_, err = svc.IngestSignal(ctx, "agent-1", "", altered)
	require.True(t, types.IsConflict(err))

	// Original row is untouched
	history, err := svc.TrustHistory(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestIngestValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.IngestSignal(ctx, "agent-1", "", &types.SignalPayload{})
	assert.True(t, types.IsValidation(err))

	bad := goodPayload("evt-001")
	bad.GateScores["satya"] = 1.5
	_, err = svc.IngestSignal(ctx, "agent-1", "", bad)
	assert.True(t, types.IsValidation(err))

	bad = goodPayload("evt-002")
	bad.MissionRelevance = floatPtr(-0.1)
	_, err = svc.IngestSignal(ctx, "agent-1", "", bad)
	assert.True(t, types.IsValidation(err))
}

// TestConcurrentIngestSameEvent exercises the race reconciliation: N callers
// submitting the identical event must produce one stored row and exactly one
// non-replay response.
func TestConcurrentIngestSameEvent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	const callers = 16
	var freshCount atomic.Int64
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			result, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-race"))
			if err != nil {
				return err
			}
			if !result.IdempotentReplay {
				freshCount.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), freshCount.Load())

	history, err := svc.TrustHistory(ctx, "agent-1", 100)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestSharedSecretGate(t *testing.T) {
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.DGCSharedSecret = "hunter2"
	})
	ctx := context.Background()

	_, err := svc.IngestSignal(ctx, "agent-1", "wrong", goodPayload("evt-001"))
	assert.True(t, types.IsValidation(err))

	_, err = svc.IngestSignal(ctx, "agent-1", "hunter2", goodPayload("evt-001"))
	assert.NoError(t, err)
}

func TestProductionWithoutSecretFailsClosed(t *testing.T) {
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.Environment = "production"
	})

	_, err := svc.IngestSignal(context.Background(), "agent-1", "", goodPayload("evt-001"))
	var ce *types.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestIngestRateLimit(t *testing.T) {
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.IngestRate = 1
		cfg.IngestBurst = 2
	})
	ctx := context.Background()

	_, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-1"))
	require.NoError(t, err)
	_, err = svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-2"))
	require.NoError(t, err)
	_, err = svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-3"))
	assert.True(t, types.IsValidation(err))

	// Limits are per agent
	_, err = svc.IngestSignal(ctx, "agent-2", "", goodPayload("evt-4"))
	assert.NoError(t, err)
}

func TestRecordOutcomeMonotonic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)
	before := result.Gradient.TrustScore

	passed, err := svc.RecordOutcome(ctx, &types.OutcomeRequest{
		EventID:    "evt-001",
		RecordedBy: "ci",
		Type:       types.OutcomeTests,
		Status:     types.OutcomePass,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, passed.TrustScore, before)
	assert.Equal(t, passed.Diagnostic.Decomposition.Outcome, passed.TrustAdjustment)

	failed, err := svc.RecordOutcome(ctx, &types.OutcomeRequest{
		EventID:    "evt-001",
		RecordedBy: "ci",
		Type:       types.OutcomeSmoke,
		Status:     types.OutcomeFail,
	})
	require.NoError(t, err)
	assert.Less(t, failed.TrustScore, passed.TrustScore)
}

func TestRecordOutcomeValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordOutcome(ctx, &types.OutcomeRequest{
		EventID: "evt-001", RecordedBy: "ci", Type: "vibes", Status: types.OutcomePass,
	})
	assert.True(t, types.IsValidation(err))

	_, err = svc.RecordOutcome(ctx, &types.OutcomeRequest{
		EventID: "evt-missing", RecordedBy: "ci", Type: types.OutcomeTests, Status: types.OutcomePass,
	})
	assert.True(t, types.IsNotFound(err))
}

func TestSetTrustAdjustmentPreservesComponents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, &types.OutcomeRequest{
		EventID: "evt-001", RecordedBy: "ci", Type: types.OutcomeTests, Status: types.OutcomePass,
	})
	require.NoError(t, err)

	adjusted, err := svc.SetTrustAdjustment(ctx, "evt-001", -0.1, "ops", "manual review")
	require.NoError(t, err)

	d := adjusted.Diagnostic.Decomposition
	// Outcome component survives the manual edit; the residual lands in manual
	assert.Equal(t, 0.05, d.Outcome)
	assert.Equal(t, -0.15, d.Manual)
	assert.Equal(t, -0.1, d.Total)
	assert.Equal(t, "ops", adjusted.Reviewer)
	require.NotNil(t, adjusted.AdjustedAt)
}

func TestApplyClawback(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)

	clawed, err := svc.ApplyClawback(ctx, "evt-001", 0.2, "ops", "retracted artifact")
	require.NoError(t, err)
	assert.InDelta(t, result.Gradient.TrustScore-0.2, clawed.TrustScore, 1e-4)

	_, err = svc.ApplyClawback(ctx, "evt-001", -0.2, "ops", "bad penalty")
	assert.True(t, types.IsValidation(err))
}

func TestLandscapeProjection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterIdentity(ctx, "agent-1", agniPacket())
	require.NoError(t, err)
	_, err = svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)

	weak := goodPayload("evt-002")
	weak.TaskType = "frontend"
	weak.GateScores = map[string]float64{"satya": 0.2}
	weak.CollapseDimensions = map[string]float64{"ritual_ack": 0.9}
	weak.MissionRelevance = floatPtr(0.2)
	_, err = svc.IngestSignal(ctx, "agent-2", "", weak)
	require.NoError(t, err)

	landscape, err := svc.Landscape(ctx, 10)
	require.NoError(t, err)
	require.Len(t, landscape.Nodes, 2)
	assert.Equal(t, 2, landscape.Summary.AgentCount)
	assert.Equal(t, 1, landscape.Summary.LowTrustCount)

	byAgent := map[string]types.LandscapeNode{}
	for _, node := range landscape.Nodes {
		byAgent[node.AgentAddress] = node
	}
	assert.Equal(t, "AGNI", byAgent["agent-1"].Alias)
	assert.Equal(t, colorHealthy, byAgent["agent-1"].Color)
	assert.Equal(t, colorLow, byAgent["agent-2"].Color)
	assert.Equal(t, byAgent["agent-1"].TrustScore, byAgent["agent-1"].X)
}

func TestAntiGamingReportAndReplayFlags(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)

	// Same content, new event_id, same agent: replay laundering
	laundered, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-002"))
	require.NoError(t, err)
	assert.Contains(t, laundered.Gradient.AntiGamingFlags, types.FlagReplayLaundering)
	assert.Contains(t, laundered.Gradient.LikelyCauses, types.CauseAntiGamingReview)
	assert.Less(t, laundered.Gradient.TrustScore, laundered.Gradient.BaseTrustScore)

	// Same content from another agent: cross-agent replay
	cross, err := svc.IngestSignal(ctx, "agent-2", "", goodPayload("evt-003"))
	require.NoError(t, err)
	assert.Contains(t, cross.Gradient.AntiGamingFlags, types.FlagCrossAgentReplay)

	report, err := svc.AntiGamingReport(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Summary.Scanned)
	assert.Equal(t, 2, report.Summary.SuspiciousCount)
	assert.GreaterOrEqual(t, report.Summary.FlagCounts[types.FlagReplayLaundering], 1)
}

func TestPolicyUpdateWitnessed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	current, err := svc.GetPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, current.Version)

	next := *current
	next.ReplayPenalty = -0.2
	stored, err := svc.UpdatePolicy(ctx, &next, "ops", "tighten replay")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)

	records, err := svc.WitnessList(ctx, "policy", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "policy_updated", records[0].Action)
}

func TestRunDarwinCycleWitnessed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	run, err := svc.RunDarwinCycle(ctx, "ops", "weekly", true, false)
	require.NoError(t, err)
	assert.Equal(t, "insufficient_data", run.Status)

	records, err := svc.WitnessList(ctx, run.RunID, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "darwin_cycle", records[0].Action)
}

func TestWitnessVerifyAcrossOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterIdentity(ctx, "agent-1", agniPacket())
	require.NoError(t, err)
	_, err = svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, &types.OutcomeRequest{
		EventID: "evt-001", RecordedBy: "ci", Type: types.OutcomeTests, Status: types.OutcomePass,
	})
	require.NoError(t, err)

	count, err := svc.WitnessVerify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestLatestTrustForAgents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)
	later := goodPayload("evt-002")
	later.GateScores = map[string]float64{"satya": 0.5}
	_, err = svc.IngestSignal(ctx, "agent-1", "", later)
	require.NoError(t, err)

	latest, err := svc.LatestTrustForAgents(ctx, []string{"agent-1", "agent-unknown"})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "evt-002", latest["agent-1"].SignalEventID)
}

func TestIngestDoesNotMutateCallerMetadata(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	payload := goodPayload("evt-001")
	payload.Metadata = map[string]any{"pipeline": "ci"}

	result, err := svc.IngestSignal(ctx, "agent-1", "", payload)
	require.NoError(t, err)
	assert.Equal(t, "dgc.v1", result.Signal.Metadata["schema_version"])

	// The submitted map stays exactly as the caller built it
	assert.Equal(t, map[string]any{"pipeline": "ci"}, payload.Metadata)
}

func TestConcurrentOutcomesAllCounted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.IngestSignal(ctx, "agent-1", "", goodPayload("evt-001"))
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		i := i
		g.Go(func() error {
			_, err := svc.RecordOutcome(ctx, &types.OutcomeRequest{
				EventID:    "evt-001",
				RecordedBy: fmt.Sprintf("ci-%d", i),
				Type:       types.OutcomeTests,
				Status:     types.OutcomePass,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	// The stored decomposition reflects every outcome, not just the one seen
	// by whichever recomputation happened to write last
	history, err := svc.TrustHistory(ctx, "agent-1", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 0.2, history[0].Diagnostic.Decomposition.Outcome)
	assert.Equal(t, 0.2, history[0].Diagnostic.Decomposition.Total)
}

func TestIngestLimiterMapBounded(t *testing.T) {
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.IngestRate = 1
		cfg.IngestBurst = 1
	})

	for i := 0; i < maxIngestLimiters+32; i++ {
		svc.allowIngest(fmt.Sprintf("agent-%d", i))
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.LessOrEqual(t, len(svc.limiters), maxIngestLimiters)
}
