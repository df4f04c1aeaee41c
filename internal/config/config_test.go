package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sab-lab/convergence/internal/types"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSQLite, cfg.DBBackend)
	assert.Equal(t, 200, cfg.AntiGamingWindow)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CONVERGENCE_DB_BACKEND", "postgres")
	t.Setenv("CONVERGENCE_PG_PORT", "5433")
	t.Setenv("CONVERGENCE_DARWIN_TIMEOUT_SECS", "60")
	t.Setenv("CONVERGENCE_DARWIN_VALIDATION_CMDS", "go test ./... ; ./scripts/smoke.sh")
	t.Setenv("CONVERGENCE_INGEST_RATE", "2.5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.DBBackend)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, 60*time.Second, cfg.DarwinValidationTimeout)
	assert.Equal(t, []string{"go test ./...", "./scripts/smoke.sh"}, cfg.DarwinValidationCmds)
	assert.Equal(t, 2.5, cfg.IngestRate)
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("CONVERGENCE_PG_PORT", "not-a-port")
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestProductionRequiresSharedSecret(t *testing.T) {
	cfg := Default()
	cfg.Environment = "production"
	err := cfg.Validate()
	require.Error(t, err)
	var ce *types.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	cfg.DGCSharedSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convergence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_backend: sqlite\ndb_path: /tmp/custom.db\ningest_burst: 42\n"), 0o644))

	cfg := Default()
	require.NoError(t, LoadFile(path, cfg))
	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, 42, cfg.IngestBurst)
}

func TestValidateBounds(t *testing.T) {
	cfg := Default()
	cfg.AntiGamingWindow = 10
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DBBackend = "mysql"
	assert.Error(t, cfg.Validate())
}
