package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sab-lab/convergence/internal/types"
)

// getTestConfig returns a config for testing based on environment variables
func getTestConfig() Config {
	cfg := Config{
		Host:     "localhost",
		Port:     5432,
		Database: "convergence_test",
		User:     "postgres",
		SSLMode:  "disable",
	}

	if host := os.Getenv("CONVERGENCE_TEST_PG_HOST"); host != "" {
		cfg.Host = host
	}
	if db := os.Getenv("CONVERGENCE_TEST_PG_DATABASE"); db != "" {
		cfg.Database = db
	}
	if user := os.Getenv("CONVERGENCE_TEST_PG_USER"); user != "" {
		cfg.User = user
	}
	if pass := os.Getenv("CONVERGENCE_TEST_PG_PASSWORD"); pass != "" {
		cfg.Password = pass
	}

	return cfg
}

// setupTestStorage creates a test storage and truncates all tables
func setupTestStorage(t *testing.T) *PostgresStorage {
	if os.Getenv("CONVERGENCE_TEST_PG") == "" {
		t.Skip("Skipping PostgreSQL test (set CONVERGENCE_TEST_PG=1 to enable)")
	}

	storage, err := New(getTestConfig())
	if err != nil {
		t.Skipf("Skipping PostgreSQL test (database not available): %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	_, err = storage.pool.Exec(context.Background(), `
		TRUNCATE TABLE witness_chain, darwin_runs, policy_versions,
			outcome_witnesses, trust_gradients, dgc_signals,
			agent_identity_packets RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err, "failed to clean up test database")

	return storage
}

func testSignal(eventID, agent string) *types.Signal {
	return &types.Signal{
		EventID:         eventID,
		AgentAddress:    agent,
		SignalTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TaskType:        "code_review",
		ArtifactID:      "artifact-" + eventID,
		GateScores:      map[string]float64{"correctness": 0.9},
		CollapseDimensions: map[string]float64{
			"context_drift": 0.2,
		},
		PayloadHash: "hash-" + eventID,
	}
}

func TestSignalRoundTrip(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	mission := 0.85
	signal := testSignal("pg-evt-1", "agent://alpha")
	signal.MissionRelevance = &mission
	signal.Metadata = map[string]any{"schema_version": "dgc.v1"}

	fresh, err := storage.InsertSignalIfAbsent(ctx, signal)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.NotZero(t, signal.ID)

	got, err := storage.GetSignalByEventID(ctx, "pg-evt-1")
	require.NoError(t, err)
	assert.Equal(t, "agent://alpha", got.AgentAddress)
	assert.Equal(t, map[string]float64{"correctness": 0.9}, got.GateScores)
	require.NotNil(t, got.MissionRelevance)
	assert.InDelta(t, 0.85, *got.MissionRelevance, 1e-9)
}

func TestInsertSignalIfAbsentConflict(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	fresh, err := storage.InsertSignalIfAbsent(ctx, testSignal("pg-evt-dup", "agent://alpha"))
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = storage.InsertSignalIfAbsent(ctx, testSignal("pg-evt-dup", "agent://other"))
	require.NoError(t, err)
	assert.False(t, fresh, "second insert for the same event_id should be a no-op")

	got, err := storage.GetSignalByEventID(ctx, "pg-evt-dup")
	require.NoError(t, err)
	assert.Equal(t, "agent://alpha", got.AgentAddress, "original row must win")
}

func TestGetSignalNotFound(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.GetSignalByEventID(context.Background(), "no-such-event")
	var notFound *types.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestIdentityLatestPerAgent(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	for i, role := range []string{"reviewer", "builder"} {
		_, err := storage.StoreIdentity(ctx, &types.Identity{
			AgentAddress:        "agent://alpha",
			BaseModel:           "model-x",
			Alias:               "alpha",
			RegisteredTimestamp: time.Now().UTC().Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
			PerceivedRole:       role,
			SelfGrade:           0.8,
			PacketHash:          fmt.Sprintf("packet-%d", i),
		})
		require.NoError(t, err)
	}

	latest, err := storage.LatestIdentity(ctx, "agent://alpha")
	require.NoError(t, err)
	assert.Equal(t, "builder", latest.PerceivedRole)

	all, err := storage.LatestIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "builder", all["agent://alpha"].PerceivedRole)
}

func TestGradientAdjustmentUpdate(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.InsertSignalIfAbsent(ctx, testSignal("pg-evt-grad", "agent://alpha"))
	require.NoError(t, err)

	fresh, err := storage.InsertGradientIfAbsent(ctx, &types.TrustGradient{
		SignalEventID:  "pg-evt-grad",
		AgentAddress:   "agent://alpha",
		BaseTrustScore: 0.7,
		TrustScore:     0.7,
		LikelyCauses:   []string{"on_track"},
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, fresh)

	now := time.Now().UTC().Truncate(time.Microsecond)
	err = storage.UpdateGradientAdjustment(ctx, "pg-evt-grad", &types.AdjustmentUpdate{
		TrustAdjustment: -0.05,
		TrustScore:      0.65,
		LowTrustFlag:    false,
		Breakdown: types.AdjustmentBreakdown{
			Base:      0.7,
			Outcome:   0.05,
			Manual:    -0.1,
			Total:     -0.05,
			Effective: 0.65,
		},
		Reviewer:   "reviewer@ops",
		Reason:     "manual review",
		AdjustedAt: &now,
	})
	require.NoError(t, err)

	got, err := storage.GetGradientByEventID(ctx, "pg-evt-grad")
	require.NoError(t, err)
	assert.InDelta(t, -0.05, got.TrustAdjustment, 1e-9)
	assert.InDelta(t, 0.65, got.TrustScore, 1e-9)
	assert.Equal(t, "reviewer@ops", got.Reviewer)
	assert.InDelta(t, -0.1, got.Diagnostic.Decomposition.Manual, 1e-9)
}

func TestPolicyVersioning(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.CurrentPolicy(ctx)
	var notFound *types.NotFoundError
	require.ErrorAs(t, err, &notFound)

	for v := 1; v <= 3; v++ {
		_, err := storage.AppendPolicy(ctx, &types.Policy{
			Version:                 v,
			ReplayPenalty:           -0.15,
			CrossAgentReplayPenalty: -0.20,
			CollusionPenalty:        -0.25,
			OutcomePassBonus:        0.05,
			OutcomeFailPenalty:      -0.10,
			HumanAcceptanceBonus:    0.05,
			MaxAdjustmentAbs:        0.30,
			UpdatedBy:               "ops",
			Reason:                  fmt.Sprintf("revision %d", v),
		})
		require.NoError(t, err)
	}

	current, err := storage.CurrentPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, current.Version)
	assert.Equal(t, "revision 3", current.Reason)
}

func TestWitnessChainPersistence(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	last, err := storage.LastWitnessRecord(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "empty chain has no last record")

	prev := ""
	for i := int64(1); i <= 3; i++ {
		_, err := storage.AppendWitnessRecord(ctx, &types.WitnessRecord{
			ID:        i,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Action:    "dgc_signal_ingested",
			Actor:     "agent://alpha",
			Subject:   fmt.Sprintf("evt-%d", i),
			Meta:      map[string]any{"seq": float64(i)},
			PrevHash:  prev,
			Hash:      fmt.Sprintf("hash-%d", i),
		})
		require.NoError(t, err)
		prev = fmt.Sprintf("hash-%d", i)
	}

	last, err = storage.LastWitnessRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(3), last.ID)

	// duplicate id must be rejected by the primary key
	_, err = storage.AppendWitnessRecord(ctx, &types.WitnessRecord{
		ID:        3,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Action:    "dgc_signal_ingested",
		Actor:     "agent://beta",
		Hash:      "hash-fork",
	})
	assert.Error(t, err)

	filtered, err := storage.ListWitnessRecords(ctx, "evt-2", 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, int64(2), filtered[0].ID)
}
