// Package patch implements the workflow patch pipeline: an optional
// LLM-driven transform of a raw workflow into a cached template, keyed by a
// hash of the workflow sources plus the patch file.
package patch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// Patch is a declared workflow transform.
type Patch struct {
	Config        PatchInfo      `yaml:"config"`
	Compatibility Compatibility  `yaml:"compatibility"`
	Transforms    []string       `yaml:"transforms"`
	Validation    *Validation    `yaml:"validation,omitempty"`
	PostProcess   []PostProcess  `yaml:"post_process,omitempty"`

	// Path records where the patch was found.
	Path string `yaml:"-"`
}

// PatchInfo names the patch.
type PatchInfo struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Compatibility pins the patch to a tool version and workflow.
type Compatibility struct {
	BmadVersion string `yaml:"bmad_version,omitempty"`
	Workflow    string `yaml:"workflow"`
}

// Validation lists acceptance checks for the transformed document. Entries
// wrapped in slashes ("/pat/") are regexes; all others are substrings.
type Validation struct {
	MustContain    []string `yaml:"must_contain,omitempty"`
	MustNotContain []string `yaml:"must_not_contain,omitempty"`
}

// PostProcess is one regex replacement applied after extraction.
type PostProcess struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	// Flags is a combination of IGNORECASE, MULTILINE, DOTALL separated by
	// "|" or ",".
	Flags string `yaml:"flags,omitempty"`
}

// errNoPatcher is returned when a transform is needed but no patcher
// provider was configured.
var errNoPatcher = bmaderrors.ErrPatch("patcher", "no patcher provider configured")

// patchFileName returns the conventional patch filename for a workflow.
func patchFileName(workflow string) string {
	return workflow + ".patch.yaml"
}

// Discover searches for the workflow's patch: project patches directory
// first, then the working directory, then the global patches directory. At
// most one patch applies; the first hit wins.
func Discover(project *paths.Project, workflow string) (*Patch, error) {
	name := patchFileName(workflow)
	candidates := []string{
		filepath.Join(project.PatchesDir(), name),
		filepath.Join(paths.GetOriginalCWD(), name),
	}
	if global, err := paths.GlobalDir(); err == nil {
		candidates = append(candidates, filepath.Join(global, "patches", name))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return Load(path)
	}
	return nil, nil
}

// Load reads and validates a patch file.
func Load(path string) (*Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bmaderrors.ErrPatch(filepath.Base(path), "unreadable").WithCause(err)
	}
	var p Patch
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, bmaderrors.ErrPatch(filepath.Base(path), "not valid YAML").WithCause(err)
	}
	if p.Config.Name == "" {
		return nil, bmaderrors.ErrPatch(filepath.Base(path), "config.name is required")
	}
	if len(p.Transforms) == 0 {
		return nil, bmaderrors.ErrPatch(p.Config.Name, "transforms list is empty")
	}
	for i, pp := range p.PostProcess {
		if pp.Pattern == "" {
			return nil, bmaderrors.ErrPatch(p.Config.Name, fmt.Sprintf("post_process[%d].pattern is empty", i))
		}
	}
	p.Path = path
	return &p, nil
}
