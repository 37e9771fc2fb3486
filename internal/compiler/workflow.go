// Package compiler turns a named workflow definition into a single standalone
// prompt: variables resolved, context files embedded, instructions filtered,
// everything emitted as one XML document a provider can execute headlessly.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
)

// WorkflowIR is a loaded-but-unrendered workflow: the parsed workflow.yaml,
// the raw XML instructions, and where the config came from.
type WorkflowIR struct {
	RawConfig       map[string]any
	RawInstructions string
	ConfigPath      string
	// Patched reports whether the instructions came from a patch-transformed
	// cached template rather than the raw workflow.
	Patched bool
}

// InstalledPath returns the directory holding the workflow config, used for
// the {installed_path} placeholder.
func (ir *WorkflowIR) InstalledPath() string {
	return filepath.Dir(ir.ConfigPath)
}

// Defaults returns the workflow's declared default variables.
func (ir *WorkflowIR) Defaults() map[string]string {
	out := map[string]string{}
	raw, ok := ir.RawConfig["variables"].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range raw {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// ContextFile is one discovered file embedded into the prompt.
type ContextFile struct {
	// Rel is the path relative to the project root, used as the tag name.
	Rel     string
	Content string
}

// CompiledWorkflow is the final object handed to a provider.
type CompiledWorkflow struct {
	WorkflowName   string
	Mission        string
	Context        []ContextFile
	Variables      map[string]string
	Instructions   string
	OutputTemplate string
	TokenEstimate  int
	// Patched mirrors WorkflowIR.Patched for the interactive-hazard check.
	Patched bool
}

// LoadWorkflowIR reads workflow.yaml and instructions.xml from a workflow
// directory.
func LoadWorkflowIR(dir string) (*WorkflowIR, error) {
	configPath := filepath.Join(dir, "workflow.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, bmaderrors.ErrCompiler(filepath.Base(dir),
			fmt.Sprintf("workflow config missing at %s", configPath)).WithCause(err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, bmaderrors.ErrCompiler(filepath.Base(dir), "workflow.yaml is not valid YAML").WithCause(err)
	}

	instructions, err := os.ReadFile(filepath.Join(dir, "instructions.xml"))
	if err != nil {
		return nil, bmaderrors.ErrCompiler(filepath.Base(dir),
			"instructions.xml missing next to workflow.yaml").WithCause(err)
	}

	return &WorkflowIR{
		RawConfig:       raw,
		RawInstructions: string(instructions),
		ConfigPath:      configPath,
	}, nil
}
