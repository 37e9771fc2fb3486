package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsAcceptsPathsInsideRoot(t *testing.T) {
	root := t.TempDir()
	p := New(root)

	inside, err := p.Contains(filepath.Join(root, "docs", "epics", "epic-1.md"))
	require.NoError(t, err)
	assert.True(t, inside)

	inside, err = p.Contains(root)
	require.NoError(t, err)
	assert.True(t, inside)
}

func TestContainsRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	p := New(root)

	inside, err := p.Contains(filepath.Join(root, "..", "sibling.txt"))
	require.NoError(t, err)
	assert.False(t, inside)

	inside, err = p.Contains("/etc/passwd")
	require.NoError(t, err)
	assert.False(t, inside)
}

func TestContainsResolvesSymlinkEscapes(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o644))

	root := t.TempDir()
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(secret, link))

	inside, err := New(root).Contains(link)
	require.NoError(t, err)
	assert.False(t, inside)
}

func TestSanitizeModelName(t *testing.T) {
	assert.Equal(t, "claude-opus-4.5", SanitizeModelName("claude/opus:4.5"))
	assert.Equal(t, "plain", SanitizeModelName("plain"))
}

func TestArtifactPathsShareTheLayout(t *testing.T) {
	p := New("/work/proj")

	assert.Equal(t, "/work/proj/.bmad-assist/state.yaml", p.StateFile())
	assert.Equal(t, "/work/proj/_bmad-output/implementation-artifacts/story-validations/validation-1-2-gemini.md",
		p.ValidationFile("1", "2", "gemini"))
	assert.Equal(t, "/work/proj/_bmad-output/implementation-artifacts/code-reviews/code-review-1-2-claude-opus.md",
		p.CodeReviewFile("1", "2", "claude/opus"))
	assert.Equal(t, "/work/proj/docs/epics", p.EpicsDir())
}

func TestGetOriginalCWDHonorsEnv(t *testing.T) {
	t.Setenv("BMAD_ORIGINAL_CWD", "/somewhere/else")
	assert.Equal(t, "/somewhere/else", GetOriginalCWD())

	t.Setenv("BMAD_ORIGINAL_CWD", "")
	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, cwd, GetOriginalCWD())
}
