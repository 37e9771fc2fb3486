package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// seedHome points the global config layer at a temp directory.
func seedHome(t *testing.T, content string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	if content != "" {
		dir := filepath.Join(home, paths.GlobalDirName)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
	}
}

func seedProjectConfig(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, paths.ProjectConfigFileName), []byte(content), 0o644))
}

func TestLoadMergesLayersProjectWins(t *testing.T) {
	seedHome(t, "qa:\n  category: A\nproviders:\n  min_reviews: 3\n")
	root := t.TempDir()
	seedProjectConfig(t, root, "qa:\n  category: all\n")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "all", cfg.QA.Category)
	// Global settings untouched by the project layer survive the merge.
	assert.Equal(t, 3, cfg.Providers.MinReviews)
	// Defaults fill everything neither layer sets.
	assert.Equal(t, 1800, cfg.Providers.TimeoutSec)
}

func TestLoadFailsWithoutAnyLayer(t *testing.T) {
	seedHome(t, "")
	_, err := Load(t.TempDir())
	require.Error(t, err)
	berr := bmaderrors.As(err)
	require.NotNil(t, berr)
	assert.Equal(t, bmaderrors.CodeConfigMissing, berr.Code)
	assert.Contains(t, berr.Fix, "init")
}

func TestLoadRejectsInvalidMergedConfig(t *testing.T) {
	seedHome(t, "")
	root := t.TempDir()
	seedProjectConfig(t, root, "providers:\n  master:\n    provider: gpt\n")

	_, err := Load(root)
	require.Error(t, err)
	var verr *bmaderrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "providers.master.provider", verr.Errors[0].Loc)
}

func TestLoadAcceptsEmptyProjectLayer(t *testing.T) {
	seedHome(t, "")
	root := t.TempDir()
	seedProjectConfig(t, root, "")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.Providers.Master.Provider)
}

func TestLoadOrDefaultNeverFails(t *testing.T) {
	seedHome(t, "")
	cfg := LoadOrDefault(t.TempDir())
	require.NotNil(t, cfg)
	assert.Equal(t, "claude", cfg.Providers.Master.Provider)
}

func TestApplyEnvVarsOverridesBothLayers(t *testing.T) {
	seedHome(t, "")
	root := t.TempDir()
	seedProjectConfig(t, root, "qa:\n  enabled: false\n")
	t.Setenv("BMAD_QA_ENABLED", "1")
	t.Setenv("BMAD_MASTER_MODEL", "opus")
	t.Setenv("BMAD_MIN_REVIEWS", "1")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.True(t, cfg.QA.Enabled)
	assert.Equal(t, "opus", cfg.Providers.Master.Model)
	assert.Equal(t, 1, cfg.Providers.MinReviews)
}

func TestDeepMergeMapsMergeListsReplace(t *testing.T) {
	base := map[string]any{
		"providers": map[string]any{"min_reviews": 2, "evaluators": []any{"a", "b"}},
		"version":   "1",
	}
	overlay := map[string]any{
		"providers": map[string]any{"evaluators": []any{"c"}},
	}
	out := DeepMerge(base, overlay)

	providers := out["providers"].(map[string]any)
	assert.Equal(t, 2, providers["min_reviews"])
	assert.Equal(t, []any{"c"}, providers["evaluators"])
	assert.Equal(t, "1", out["version"])
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := Default()
	cfg.Providers.Master.Provider = ""
	cfg.Dashboard.Port = 99999
	cfg.Sprint.DivergenceThreshold = 2

	err := cfg.Validate()
	var verr *bmaderrors.ValidationError
	require.ErrorAs(t, err, &verr)
	locs := make([]string, 0, len(verr.Errors))
	for _, fe := range verr.Errors {
		locs = append(locs, fe.Loc)
	}
	assert.Contains(t, locs, "providers.master.provider")
	assert.Contains(t, locs, "dashboard.port")
	assert.Contains(t, locs, "sprint.divergence_threshold")
}

func TestRedactedMasksDangerousFields(t *testing.T) {
	cfg := Default()
	cfg.Providers.ClaudePath = "/usr/local/bin/claude"
	cfg.Notify.Command = "curl evil"

	m := Redacted(cfg)
	providers := m["providers"].(map[string]any)
	assert.Equal(t, RedactedValue, providers["claude_path"])
	notifications := m["notifications"].(map[string]any)
	assert.Equal(t, RedactedValue, notifications["command"])
	// Safe fields come through untouched.
	assert.NotEqual(t, RedactedValue, m["version"])
}

func TestLookupResolvesDotPaths(t *testing.T) {
	cfg := Default()
	v, ok := Lookup(cfg, "qa.batch_size")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	_, ok = Lookup(cfg, "qa.nonsense")
	assert.False(t, ok)
	_, ok = Lookup(cfg, "qa.batch_size.deeper")
	assert.False(t, ok)
}

func TestSchemaAndClassOf(t *testing.T) {
	for _, f := range Schema() {
		assert.NotEqual(t, ClassDangerous, f.Class, "schema leaked %s", f.Path)
	}
	assert.Equal(t, ClassDangerous, ClassOf("providers.claude_path"))
	assert.Equal(t, ClassSafe, ClassOf("qa.category"))
	// Unknown paths are treated with suspicion.
	assert.Equal(t, ClassRisky, ClassOf("made.up.path"))
}

func TestEffectiveSoftLimitDefaultsToEightyPercent(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 144000, cfg.EffectiveSoftLimit())
	cfg.Compiler.TokenSoftLimit = 1000
	assert.Equal(t, 1000, cfg.EffectiveSoftLimit())
}

func TestExpandPath(t *testing.T) {
	got := ExpandPath("{project-root}/bmad/workflows", "/work/proj", "")
	assert.Equal(t, "/work/proj/bmad/workflows", got)
}
