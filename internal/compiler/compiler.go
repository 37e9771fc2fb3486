package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"

	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// Preloader produces the WorkflowIR for a workflow directory, either from a
// cached patched template or from the raw files. The patch cache implements
// this; a nil Preloader means raw loading only.
type Preloader interface {
	Preload(ctx context.Context, workflowName, dir string) (*WorkflowIR, error)
}

// Compiler compiles registered workflows into standalone prompts.
type Compiler struct {
	project  *paths.Project
	cfg      *config.Config
	preload  Preloader
	debugDir string
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithPreloader wires the patch and template cache.
func WithPreloader(p Preloader) Option {
	return func(c *Compiler) { c.preload = p }
}

// WithDebugDir overrides where compiled prompts are mirrored for inspection.
func WithDebugDir(dir string) Option {
	return func(c *Compiler) { c.debugDir = dir }
}

// New creates a Compiler for a project.
func New(project *paths.Project, cfg *config.Config, opts ...Option) *Compiler {
	c := &Compiler{project: project, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.debugDir == "" {
		if dir, err := paths.DebugPromptsDir(); err == nil {
			c.debugDir = dir
		}
	}
	return c
}

// Compile produces the final prompt for a workflow. params are the
// invocation-level variables and take precedence over everything else.
func (c *Compiler) Compile(ctx context.Context, workflowName string, params map[string]string) (*CompiledWorkflow, string, error) {
	key, spec, err := lookupWorkflow(workflowName)
	if err != nil {
		return nil, "", err
	}

	dir := c.workflowDir(spec)
	if _, err := os.Stat(dir); err != nil {
		return nil, "", bmaderrors.ErrCompiler(workflowName,
			fmt.Sprintf("workflow directory missing at %s", dir)).WithCause(err)
	}

	ir, err := c.preloadIR(ctx, key, dir)
	if err != nil {
		return nil, "", err
	}

	vars, err := resolveVariables(ir, c.project, c.cfg.Compiler.Variables, params)
	if err != nil {
		return nil, "", err
	}
	for k, v := range c.cfg.PowerPrompts.Variables {
		if _, exists := vars[k]; !exists {
			vars[k] = fmt.Sprintf("%v", v)
		}
	}

	if spec.wantsSprintStatus {
		status, err := ResolveSprintStatus(c.project)
		if err != nil {
			return nil, "", err
		}
		vars["sprint_status"] = status
	}

	files, err := discoverContext(c.project, spec.contextGlobs)
	if err != nil {
		return nil, "", bmaderrors.ErrCompiler(workflowName, "context discovery failed").WithCause(err)
	}

	cw := &CompiledWorkflow{
		WorkflowName:   key,
		Mission:        substituteVariables(spec.mission, vars),
		Context:        files,
		Variables:      vars,
		Instructions:   filterInstructions(ir.RawInstructions, vars),
		OutputTemplate: c.outputTemplate(ir, vars),
		Patched:        ir.Patched,
	}

	prompt, err := emit(cw, c.cfg.EffectiveSoftLimit(), c.cfg.Compiler.TokenHardLimit)
	if err != nil {
		return nil, "", err
	}
	c.mirrorPrompt(key, prompt)
	return cw, prompt, nil
}

// workflowDir resolves the workflow directory under the configured root.
func (c *Compiler) workflowDir(spec workflowSpec) string {
	root := config.ExpandPath(c.cfg.Compiler.WorkflowsDir, c.project.Root, "")
	if root == "" {
		root = filepath.Join(c.project.Root, "bmad", "workflows")
	}
	return filepath.Join(root, spec.dirName)
}

func (c *Compiler) preloadIR(ctx context.Context, name, dir string) (*WorkflowIR, error) {
	if c.preload != nil {
		return c.preload.Preload(ctx, name, dir)
	}
	return LoadWorkflowIR(dir)
}

// outputTemplate reads the optional template declared by the workflow config.
func (c *Compiler) outputTemplate(ir *WorkflowIR, vars map[string]string) string {
	name, ok := ir.RawConfig["output_template"].(string)
	if !ok || name == "" {
		return ""
	}
	path := filepath.Join(ir.InstalledPath(), name)
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("output template unreadable", "path", path, "error", err)
		return ""
	}
	return substituteVariables(string(data), vars)
}

// mirrorPrompt writes the compiled prompt to the debug prompts directory.
func (c *Compiler) mirrorPrompt(workflow, prompt string) {
	if c.debugDir == "" {
		return
	}
	if err := os.MkdirAll(c.debugDir, 0755); err != nil {
		return
	}
	path := filepath.Join(c.debugDir, workflow+".xml")
	if err := os.WriteFile(path, []byte(prompt), 0644); err != nil {
		slog.Debug("prompt mirror failed", "path", path, "error", err)
	}
}
