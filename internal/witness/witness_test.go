package witness

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sab-lab/convergence/internal/storage/sqlite"
	"github.com/sab-lab/convergence/internal/types"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "witness.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewChain(store, nil)
}

func TestAppendLinksRecords(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	first, err := chain.Append(ctx, "system", "identity_registered", "agent-1", map[string]any{"packet_hash": "ph"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "", first.PrevHash)
	assert.Len(t, first.Hash, 64)

	second, err := chain.Append(ctx, "agent-1", "dgc_signal_ingested", "evt-001", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, first.Hash, second.PrevHash)
}

func TestVerifyDetectsTampering(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	var records []*types.WitnessRecord
	for i := 0; i < 5; i++ {
		rec, err := chain.Append(ctx, "system", "policy_updated", fmt.Sprintf("v%d", i), map[string]any{"step": i})
		require.NoError(t, err)
		records = append(records, rec)
	}

	require.NoError(t, Verify(records))

	// Mutating one record's meta invalidates it and the suffix
	records[2].Meta["step"] = 99
	err := Verify(records)
	require.Error(t, err)
	var cie *types.ChainIntegrityError
	require.ErrorAs(t, err, &cie)
	assert.Equal(t, 2, cie.Index)
}

func TestVerifyDetectsBrokenLinkage(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	var records []*types.WitnessRecord
	for i := 0; i < 3; i++ {
		rec, err := chain.Append(ctx, "system", "outcome_recorded", "evt-001", nil)
		require.NoError(t, err)
		records = append(records, rec)
	}

	records[1].PrevHash = "forged"
	err := Verify(records)
	var cie *types.ChainIntegrityError
	require.ErrorAs(t, err, &cie)
	assert.Equal(t, 1, cie.Index)
}

func TestVerifyAllRoundTrip(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := chain.Append(ctx, "system", "darwin_cycle", fmt.Sprintf("run-%d", i), nil)
		require.NoError(t, err)
	}

	count, err := chain.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, count)
}

// TestConcurrentAppendsNeverFork exercises the serialization boundary: many
// goroutines appending at once must produce one linear verified chain.
func TestConcurrentAppendsNeverFork(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			_, err := chain.Append(ctx, "system", "concurrent_append", fmt.Sprintf("evt-%d", i), nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	count, err := chain.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

// TestVerifyAllStableUnderConcurrentAppends interleaves appends with full
// verifications. Verification reads the chain in one statement, so a record
// landing mid-verify must never surface as a phantom integrity violation.
func TestVerifyAllStableUnderConcurrentAppends(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := chain.Append(ctx, "system", "dgc_signal_ingested", fmt.Sprintf("seed-%d", i), nil)
		require.NoError(t, err)
	}

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 50; i++ {
			if _, err := chain.Append(ctx, "system", "outcome_recorded", fmt.Sprintf("live-%d", i), nil); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < 25; i++ {
			count, err := chain.VerifyAll(ctx)
			if err != nil {
				return fmt.Errorf("verify during appends (count %d): %w", count, err)
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	count, err := chain.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, count)
}

func TestAppendValidatesInput(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	_, err := chain.Append(ctx, "", "action", "", nil)
	assert.True(t, types.IsValidation(err))
	_, err = chain.Append(ctx, "actor", "", "", nil)
	assert.True(t, types.IsValidation(err))
}
