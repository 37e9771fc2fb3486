package debuglog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readOnlyFile(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	return string(data)
}

func TestBuffersUntilSessionKnown(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	l.Line(`{"type":"noise"}`)
	l.Line(`{"type":"system","subtype":"init","session_id":"s-1"}`)

	// Nothing on disk until the session is recognized.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	l.SessionStarted("s-1")
	l.Line(`{"type":"assistant"}`)
	require.NoError(t, l.Close())

	content := readOnlyFile(t, dir)
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, `{"type":"noise"}`, lines[0])

	assert.Equal(t, filepath.Dir(l.Path()), dir)
	assert.Contains(t, filepath.Base(l.Path()), "s-1.jsonl")
}

func TestFallbackFilenameWhenNoInit(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.Line("plain output, never json")
	require.NoError(t, l.Close())

	name := filepath.Base(l.Path())
	assert.Contains(t, name, "-unknown-")
	assert.True(t, strings.HasSuffix(name, ".jsonl"))
	assert.Contains(t, readOnlyFile(t, dir), "plain output")
}

func TestCloseWithoutLinesWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	require.NoError(t, l.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, l.Path())
}

func TestLinesAfterCloseDropped(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.SessionStarted("s-2")
	l.Line("one")
	require.NoError(t, l.Close())
	l.Line("two")

	content := readOnlyFile(t, dir)
	assert.Equal(t, "one\n", content)
}

func TestSessionIDSanitizedInFilename(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.SessionStarted("org/model:variant")
	l.Line("x")
	require.NoError(t, l.Close())
	assert.Equal(t, dir, filepath.Dir(l.Path()))
	assert.Contains(t, filepath.Base(l.Path()), "org-model-variant")
}
