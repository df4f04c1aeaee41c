package policy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sab-lab/convergence/internal/storage/sqlite"
	"github.com/sab-lab/convergence/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := sqlite.New(filepath.Join(t.TempDir(), "policy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewStore(backend, nil)
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidateRejectsOutOfBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.Policy)
	}{
		{"penalty below floor", func(p *types.Policy) { p.ReplayPenalty = -0.7 }},
		{"positive penalty", func(p *types.Policy) { p.CollusionPenalty = 0.1 }},
		{"negative bonus", func(p *types.Policy) { p.OutcomePassBonus = -0.05 }},
		{"bonus above ceiling", func(p *types.Policy) { p.HumanAcceptanceBonus = 0.65 }},
		{"zero adjustment ceiling", func(p *types.Policy) { p.MaxAdjustmentAbs = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Defaults()
			tc.mutate(p)
			err := Validate(p)
			assert.True(t, types.IsValidation(err))
		})
	}
}

func TestCurrentFallsBackToDefaults(t *testing.T) {
	store := newTestStore(t)

	current, err := store.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, current.Version)
	assert.Equal(t, Defaults().ReplayPenalty, current.ReplayPenalty)
}

func TestUpdateAssignsNextVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := Defaults()
	first.ReplayPenalty = -0.18
	stored, err := store.Update(ctx, first, "ops", "tighten replay penalty")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	assert.Equal(t, "ops", stored.UpdatedBy)

	second := Defaults()
	second.Version = 99 // caller-supplied version is ignored
	stored, err = store.Update(ctx, second, "ops", "revert")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
}

func TestUpdateRejectsInvalidPolicy(t *testing.T) {
	store := newTestStore(t)

	bad := Defaults()
	bad.MaxAdjustmentAbs = 0.9
	_, err := store.Update(context.Background(), bad, "ops", "too loose")
	assert.True(t, types.IsValidation(err))

	current, err := store.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, current.Version)
}
