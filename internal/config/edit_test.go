package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/paths"
)

func TestSetScopedWritesProjectLayer(t *testing.T) {
	seedHome(t, "")
	root := t.TempDir()
	seedProjectConfig(t, root, "version: \"1\"\n")

	require.NoError(t, SetScoped(root, ScopeProject, "qa.category", "all"))

	v, found, err := GetScoped(root, ScopeProject, "qa.category")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "all", v)

	// Pre-existing keys in the layer survive the round trip.
	data, err := os.ReadFile(filepath.Join(root, paths.ProjectConfigFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `version: "1"`)
}

func TestSetScopedCreatesMissingLayer(t *testing.T) {
	seedHome(t, "")
	root := t.TempDir()

	require.NoError(t, SetScoped(root, ScopeProject, "dashboard.port", 9000))
	_, err := os.Stat(filepath.Join(root, paths.ProjectConfigFileName))
	require.NoError(t, err)
}

func TestSetScopedRejectsDangerousAndInvalid(t *testing.T) {
	seedHome(t, "")
	root := t.TempDir()

	err := SetScoped(root, ScopeProject, "providers.claude_path", "/tmp/x")
	require.Error(t, err)

	err = SetScoped(root, ScopeProject, "dashboard.port", 99999)
	require.Error(t, err)
	// Validation failure must leave no file behind.
	_, statErr := os.Stat(filepath.Join(root, paths.ProjectConfigFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSetScopedRefusesScalarAsMapping(t *testing.T) {
	seedHome(t, "")
	root := t.TempDir()
	seedProjectConfig(t, root, "version: \"1\"\n")

	err := SetScoped(root, ScopeProject, "version.deeper", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a mapping")
}

func TestGetScopedMergedReadsEffectiveConfig(t *testing.T) {
	seedHome(t, "qa:\n  category: A\n")
	root := t.TempDir()
	seedProjectConfig(t, root, "qa:\n  category: all\n")

	v, found, err := GetScoped(root, ScopeMerged, "qa.category")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "all", v)
}

func TestExportRedactsEveryScope(t *testing.T) {
	seedHome(t, "providers:\n  claude_path: /home/u/claude\n")
	root := t.TempDir()
	seedProjectConfig(t, root, "notifications:\n  command: mail -s done me@example.com\n")

	for _, scope := range []string{ScopeMerged, ScopeGlobal, ScopeProject} {
		data, err := Export(root, scope)
		require.NoError(t, err, scope)
		assert.NotContains(t, string(data), "/home/u/claude", scope)
		assert.NotContains(t, string(data), "me@example.com", scope)
	}

	_, err := Export(root, "bogus")
	require.Error(t, err)
}

func TestDiffLayersFindsChangesAdditionsRemovals(t *testing.T) {
	old := map[string]any{
		"qa":      map[string]any{"category": "A", "batch_size": 10},
		"version": "1",
	}
	updated := map[string]any{
		"qa":        map[string]any{"category": "all", "batch_size": 10},
		"dashboard": map[string]any{"port": 9000},
	}

	changes := DiffLayers(old, updated)
	byPath := map[string]Change{}
	for _, ch := range changes {
		byPath[ch.Path] = ch
	}

	require.Contains(t, byPath, "qa.category")
	assert.Equal(t, "A", byPath["qa.category"].Old)
	assert.Equal(t, "all", byPath["qa.category"].New)
	require.Contains(t, byPath, "dashboard.port")
	assert.Nil(t, byPath["dashboard.port"].Old)
	require.Contains(t, byPath, "version")
	assert.Nil(t, byPath["version"].New)
	assert.NotContains(t, byPath, "qa.batch_size")

	// Deterministic order for the import preview.
	var last string
	for _, ch := range changes {
		assert.True(t, last < ch.Path)
		last = ch.Path
	}
}

func TestParseLayerErrors(t *testing.T) {
	_, err := ParseLayer([]byte(":\nnot yaml ["))
	require.Error(t, err)

	raw, err := ParseLayer([]byte(""))
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestValidateLayerMergesOverDefaults(t *testing.T) {
	require.NoError(t, ValidateLayer(map[string]any{"qa": map[string]any{"category": "all"}}))
	require.Error(t, ValidateLayer(map[string]any{"qa": map[string]any{"category": "Z"}}))
}

func TestWriteEffectiveSnapshotRedacts(t *testing.T) {
	project := paths.New(t.TempDir())
	cfg := Default()
	cfg.Providers.ClaudePath = "/secret/claude"

	path := WriteEffectiveSnapshot(project, cfg)
	require.NotEmpty(t, path)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "effective-config-"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "/secret/claude")
	assert.Contains(t, string(data), "tool_version")
}
