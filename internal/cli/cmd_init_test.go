package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

func TestInitProjectCreatesLayoutOnce(t *testing.T) {
	project := paths.New(t.TempDir())

	created, err := initProject(project)
	require.NoError(t, err)
	assert.NotEmpty(t, created)

	for _, dir := range []string{project.ToolDir(), project.PatchesDir(), project.CacheDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	_, err = os.Stat(project.ProjectConfig())
	require.NoError(t, err)

	gitignore, err := os.ReadFile(filepath.Join(project.Root, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(gitignore), paths.ToolDirName+"/")
	assert.Contains(t, string(gitignore), paths.OutputDirName+"/")

	// Second run changes nothing.
	created, err = initProject(project)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestInitPreservesExistingFiles(t *testing.T) {
	project := paths.New(t.TempDir())
	require.NoError(t, os.WriteFile(project.ProjectConfig(), []byte("version: \"1\"\nqa:\n  enabled: true\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project.Root, ".gitignore"), []byte("node_modules/\n"), 0o644))

	_, err := initProject(project)
	require.NoError(t, err)

	data, err := os.ReadFile(project.ProjectConfig())
	require.NoError(t, err)
	assert.Contains(t, string(data), "enabled: true")

	gitignore, err := os.ReadFile(filepath.Join(project.Root, ".gitignore"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(gitignore), "node_modules/\n"))
	assert.Equal(t, 1, strings.Count(string(gitignore), paths.ToolDirName+"/"))
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitConfigError, ExitCode(bmaderrors.ErrConfigMissing("a", "b")))
	assert.Equal(t, ExitConfigError, ExitCode(bmaderrors.ErrConfigInvalid("p", "bad")))
	assert.Equal(t, ExitError, ExitCode(bmaderrors.ErrDashboard("nope")))
}
