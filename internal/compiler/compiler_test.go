package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/config"
	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

func writeWorkflow(t *testing.T, root, name, configYAML, instructions string) {
	t.Helper()
	dir := filepath.Join(root, "bmad", "workflows", name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.yaml"), []byte(configYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instructions.xml"), []byte(instructions), 0644))
}

func testCompiler(t *testing.T) (*Compiler, *paths.Project) {
	t.Helper()
	project := paths.New(t.TempDir())
	cfg := config.Default()
	return New(project, cfg, WithDebugDir(filepath.Join(t.TempDir(), "prompts"))), project
}

func TestNormalizeWorkflowName(t *testing.T) {
	key, err := NormalizeWorkflowName("Create-Story")
	require.NoError(t, err)
	assert.Equal(t, "create_story", key)

	for _, bad := range []string{"", "create story", "create/story", "a..b!"} {
		_, err := NormalizeWorkflowName(bad)
		assert.Error(t, err, bad)
	}
}

func TestLookupDistinctErrors(t *testing.T) {
	_, _, err := lookupWorkflow("no such!")
	require.Error(t, err)
	invalidMsg := err.Error()

	_, _, err = lookupWorkflow("definitely-unregistered")
	require.Error(t, err)
	assert.NotEqual(t, invalidMsg, err.Error())
	assert.Contains(t, err.Error(), "no workflow registered")
}

func TestCompileMissingWorkflowDir(t *testing.T) {
	c, _ := testCompiler(t)
	_, _, err := c.Compile(context.Background(), "create-story", nil)
	require.Error(t, err)
	var cerr *bmaderrors.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, bmaderrors.CodeCompiler, cerr.Code)
	assert.Contains(t, cerr.Why, "workflow directory missing")
}

func TestCompileEndToEnd(t *testing.T) {
	c, project := testCompiler(t)
	writeWorkflow(t, project.Root, "dev-story",
		"variables:\n  story_dir: \"{project-root}/_bmad-output\"\n  greeting: hello\n",
		"<step>Work in {{story_dir}} and say {greeting}</step>\n<example>never shown</example>")

	require.NoError(t, os.MkdirAll(filepath.Join(project.Root, "docs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(project.Root, "docs", "architecture.md"), []byte("# Arch"), 0644))

	cw, prompt, err := c.Compile(context.Background(), "dev-story", map[string]string{"greeting": "hi"})
	require.NoError(t, err)

	assert.Equal(t, "dev_story", cw.WorkflowName)
	// Params beat workflow defaults.
	assert.Contains(t, prompt, "say hi")
	assert.Contains(t, prompt, project.Root+"/_bmad-output")
	// Non-executable elements are stripped.
	assert.NotContains(t, prompt, "never shown")
	// Context embedding.
	assert.Contains(t, prompt, `<context name="docs/architecture.md">`)
	assert.Contains(t, prompt, "# Arch")
	// Sections present in order.
	assert.Contains(t, prompt, "<task-context>")
	assert.Contains(t, prompt, "<instructions>")
	assert.Greater(t, cw.TokenEstimate, 0)
	// Neither sprint-status location exists.
	assert.Equal(t, "none", cw.Variables["sprint_status"])
}

func TestCompileHardTokenLimit(t *testing.T) {
	c, project := testCompiler(t)
	c.cfg.Compiler.TokenHardLimit = 10
	writeWorkflow(t, project.Root, "code-review", "{}\n", "<step>a long instruction body well past ten tokens of budget</step>")

	_, _, err := c.Compile(context.Background(), "code-review", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard limit")
}

func TestResolveSprintStatus(t *testing.T) {
	project := paths.New(t.TempDir())

	got, err := ResolveSprintStatus(project)
	require.NoError(t, err)
	assert.Equal(t, "none", got)

	require.NoError(t, os.MkdirAll(project.ImplementationDir(), 0755))
	require.NoError(t, os.WriteFile(project.SprintStatusFile(), []byte("{}"), 0644))
	got, err = ResolveSprintStatus(project)
	require.NoError(t, err)
	assert.Equal(t, project.SprintStatusFile(), got)

	// Both locations present is ambiguous.
	require.NoError(t, os.WriteFile(project.LegacySprintStatusFile(), []byte("{}"), 0644))
	_, err = ResolveSprintStatus(project)
	require.Error(t, err)
	var aerr *bmaderrors.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, bmaderrors.CodeAmbiguousFile, aerr.Code)
}

func TestConfigSourceContainment(t *testing.T) {
	project := paths.New(t.TempDir())
	ir := &WorkflowIR{ConfigPath: filepath.Join(project.Root, "bmad", "workflows", "x", "workflow.yaml")}

	ir.RawConfig = map[string]any{"config_source": "{project-root}/docs/config.yaml"}
	_, err := resolveVariables(ir, project, nil, nil)
	assert.NoError(t, err)

	ir.RawConfig = map[string]any{"config_source": "{project-root}/../outside.yaml"}
	_, err = resolveVariables(ir, project, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "..")

	ir.RawConfig = map[string]any{"config_source": "/etc/passwd"}
	_, err = resolveVariables(ir, project, nil, nil)
	assert.Error(t, err)
}

func TestVariablePrecedence(t *testing.T) {
	project := paths.New(t.TempDir())
	ir := &WorkflowIR{
		ConfigPath: filepath.Join(project.Root, "wf", "workflow.yaml"),
		RawConfig: map[string]any{
			"variables": map[string]any{"a": "default", "b": "default", "c": "default"},
		},
	}
	vars, err := resolveVariables(ir, project,
		map[string]string{"b": "external", "c": "external"},
		map[string]string{"c": "param"})
	require.NoError(t, err)
	assert.Equal(t, "default", vars["a"])
	assert.Equal(t, "external", vars["b"])
	assert.Equal(t, "param", vars["c"])
}

func TestSubstituteVariablesLeavesUnknownTokens(t *testing.T) {
	got := substituteVariables("{{known}} and {missing} and {known}", map[string]string{"known": "v"})
	assert.Equal(t, "v and {missing} and v", got)
}

func TestFilterInstructionsCollapsesBlankLines(t *testing.T) {
	raw := "<step>one</step>\n\n\n\n<example>gone</example>\n\n<step>two</step>"
	got := filterInstructions(raw, nil)
	assert.NotContains(t, got, "gone")
	assert.NotContains(t, got, "\n\n\n")
}
