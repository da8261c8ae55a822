package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFile_Defaults(t *testing.T) {
	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Budgets.FeatureBuild)
	assert.Equal(t, 5, cfg.Budgets.RuntimeVerify)
	assert.Equal(t, 5, cfg.Budgets.InteractiveUI)
	assert.Equal(t, 3, cfg.Budgets.QualityScoreFix)
	assert.Equal(t, 3, cfg.Budgets.TargetedBugfix)
	assert.Equal(t, "integration", cfg.Merge.Line)
	assert.Equal(t, 0.98, cfg.Score.FixedThreshold)
	assert.Equal(t, "local", cfg.Store.Backend)
}

func TestLoadWithFile_YAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
dispatch:
  max_parallel: 2
  branch_prefix: fx
merge:
  line: main-line
  smoke_timeout: 30s
budgets:
  feature_build: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Dispatch.MaxParallel)
	assert.Equal(t, "fx", cfg.Dispatch.BranchPrefix)
	assert.Equal(t, "main-line", cfg.Merge.Line)
	assert.Equal(t, 30*time.Second, cfg.Merge.SmokeTimeout.Duration())
	assert.Equal(t, 4, cfg.Budgets.FeatureBuild)
	// Untouched sections keep defaults
	assert.Equal(t, 5, cfg.Budgets.RuntimeVerify)
}

func TestLoadWithFile_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch:\n  max_parallel: 2\n"), 0o600))

	t.Setenv("FOUNDRY_DISPATCH_MAX_PARALLEL", "16")
	t.Setenv("FOUNDRY_STORE_BACKEND", "shared")
	t.Setenv("FOUNDRY_STORE_SHARED_URL", "nats://localhost:4222")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Dispatch.MaxParallel)
	assert.Equal(t, "shared", cfg.Store.Backend)
	assert.Equal(t, "nats://localhost:4222", cfg.Store.SharedURL)
}

func TestLoadWithFile_InvalidRejected(t *testing.T) {
	t.Setenv("FOUNDRY_STORE_BACKEND", "postgres")

	_, err := LoadWithFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestConfig_Validate_ReportsAllProblems(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Budgets.FeatureBuild = 0
	cfg.Merge.Line = ""
	cfg.Score.FixedThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budgets.feature_build")
	assert.Contains(t, err.Error(), "merge.line")
	assert.Contains(t, err.Error(), "score.fixed_threshold")
}

func TestTransformEnvKey(t *testing.T) {
	assert.Equal(t, "dispatch.max_parallel", transformEnvKey("FOUNDRY_DISPATCH_MAX_PARALLEL"))
	assert.Equal(t, "store.shared_url", transformEnvKey("FOUNDRY_STORE_SHARED_URL"))
	assert.Equal(t, "metrics.addr", transformEnvKey("FOUNDRY_METRICS_ADDR"))
}
