// Package paths computes the canonical filesystem layout for a bmad-assist
// project. All components resolve artifact locations through this package so
// the layout is defined in exactly one place.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ToolDirName is the tool-private directory under the project root.
	ToolDirName = ".bmad-assist"
	// OutputDirName is the shared output directory under the project root.
	OutputDirName = "_bmad-output"
	// GlobalDirName is the per-user directory under the home directory.
	GlobalDirName = ".bmad-assist"

	// StateFileName is the loop state file inside the tool directory.
	StateFileName = "state.yaml"
	// SprintStatusFileName is the authoritative sprint ledger.
	SprintStatusFileName = "sprint-status.yaml"
	// PauseFlagFileName is the cooperative pause flag inside the tool directory.
	PauseFlagFileName = "pause.flag"
	// ProjectConfigFileName is the project-local configuration file.
	ProjectConfigFileName = "bmad-assist.yaml"
)

// Project resolves all well-known paths under a single project root.
type Project struct {
	Root string
}

// New creates a Project rooted at dir. The root is cleaned but not required
// to exist; callers create directories lazily.
func New(dir string) *Project {
	return &Project{Root: filepath.Clean(dir)}
}

// ToolDir returns the tool-private directory (.bmad-assist).
func (p *Project) ToolDir() string { return filepath.Join(p.Root, ToolDirName) }

// StateFile returns the loop state file path.
func (p *Project) StateFile() string { return filepath.Join(p.ToolDir(), StateFileName) }

// PauseFlag returns the pause flag file path.
func (p *Project) PauseFlag() string { return filepath.Join(p.ToolDir(), PauseFlagFileName) }

// PatchesDir returns the project-level patch directory.
func (p *Project) PatchesDir() string { return filepath.Join(p.ToolDir(), "patches") }

// CacheDir returns the compiled template cache directory.
func (p *Project) CacheDir() string { return filepath.Join(p.ToolDir(), "cache") }

// ProjectConfig returns the project configuration file path.
func (p *Project) ProjectConfig() string { return filepath.Join(p.Root, ProjectConfigFileName) }

// OutputDir returns the shared output directory (_bmad-output).
func (p *Project) OutputDir() string { return filepath.Join(p.Root, OutputDirName) }

// PlanningDir returns the planning artifacts directory.
func (p *Project) PlanningDir() string { return filepath.Join(p.OutputDir(), "planning-artifacts") }

// ImplementationDir returns the implementation artifacts directory.
func (p *Project) ImplementationDir() string {
	return filepath.Join(p.OutputDir(), "implementation-artifacts")
}

// SprintStatusFile returns the canonical sprint-status location.
func (p *Project) SprintStatusFile() string {
	return filepath.Join(p.ImplementationDir(), SprintStatusFileName)
}

// LegacySprintStatusFile returns the pre-restructure sprint-status location.
// Both locations existing at once is an ambiguity error surfaced by the
// compiler; see compiler.ResolveSprintStatus.
func (p *Project) LegacySprintStatusFile() string {
	return filepath.Join(p.OutputDir(), SprintStatusFileName)
}

// ValidationsDir returns the story validation artifacts directory.
func (p *Project) ValidationsDir() string {
	return filepath.Join(p.ImplementationDir(), "story-validations")
}

// CodeReviewsDir returns the code review artifacts directory.
func (p *Project) CodeReviewsDir() string {
	return filepath.Join(p.ImplementationDir(), "code-reviews")
}

// RetrospectivesDir returns the retrospective artifacts directory.
func (p *Project) RetrospectivesDir() string {
	return filepath.Join(p.ImplementationDir(), "retrospectives")
}

// QADir returns the QA artifacts directory.
func (p *Project) QADir() string {
	return filepath.Join(p.ImplementationDir(), "qa-artifacts")
}

// QATestPlansDir returns the QA test plan directory.
func (p *Project) QATestPlansDir() string { return filepath.Join(p.QADir(), "test-plans") }

// QATestResultsDir returns the QA test results directory.
func (p *Project) QATestResultsDir() string { return filepath.Join(p.QADir(), "test-results") }

// QATraceabilityDir returns the QA traceability directory.
func (p *Project) QATraceabilityDir() string { return filepath.Join(p.QADir(), "traceability") }

// BenchmarksDir returns the benchmarking records directory.
func (p *Project) BenchmarksDir() string { return filepath.Join(p.OutputDir(), "benchmarks") }

// EpicsDir returns the epic documents directory.
func (p *Project) EpicsDir() string { return filepath.Join(p.Root, "docs", "epics") }

// StoryFile returns the canonical story file path for epic E, story S and slug.
func (p *Project) StoryFile(epic, story, slug string) string {
	return filepath.Join(p.ImplementationDir(), fmt.Sprintf("%s-%s-%s.md", epic, story, slug))
}

// ValidationFile returns the per-evaluator validation artifact path.
func (p *Project) ValidationFile(epic, story, evaluator string) string {
	return filepath.Join(p.ValidationsDir(),
		fmt.Sprintf("validation-%s-%s-%s.md", epic, story, SanitizeModelName(evaluator)))
}

// CodeReviewFile returns the per-evaluator code review artifact path.
func (p *Project) CodeReviewFile(epic, story, evaluator string) string {
	return filepath.Join(p.CodeReviewsDir(),
		fmt.Sprintf("code-review-%s-%s-%s.md", epic, story, SanitizeModelName(evaluator)))
}

// Contains reports whether path resolves inside the project root. Symlinked
// and ".."-escaping paths are rejected; cross-drive paths count as escapes.
func (p *Project) Contains(path string) (bool, error) {
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return false, fmt.Errorf("resolve project root: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve path: %w", err)
	}
	// EvalSymlinks on the nearest existing ancestor catches symlink escapes.
	resolved, err := resolveExisting(abs)
	if err != nil {
		return false, err
	}
	rootResolved, err := resolveExisting(root)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		// Cross-drive on Windows: Rel fails, treat as escape.
		return false, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}
	return true, nil
}

// resolveExisting walks up from path to the nearest existing ancestor,
// resolves symlinks there, and re-joins the missing suffix.
func resolveExisting(path string) (string, error) {
	suffix := ""
	cur := path
	for {
		if _, err := os.Lstat(cur); err == nil {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
	resolved, err := filepath.EvalSymlinks(cur)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return filepath.Join(resolved, suffix), nil
}

// SanitizeModelName converts an evaluator display model into a filename-safe
// token (e.g. "claude/opus-4.5" becomes "claude-opus-4.5").
func SanitizeModelName(model string) string {
	r := strings.NewReplacer("/", "-", ":", "-", " ", "-")
	return r.Replace(model)
}

// GlobalDir returns the per-user bmad-assist directory (~/.bmad-assist).
func GlobalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, GlobalDirName), nil
}

// GlobalConfigFile returns the global configuration file path.
func GlobalConfigFile() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DebugJSONDir returns the provider debug JSONL directory.
func DebugJSONDir() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "debug", "json"), nil
}

// DebugPromptsDir returns the compiled prompt debug directory.
func DebugPromptsDir() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "debug", "prompts"), nil
}

// GetOriginalCWD returns BMAD_ORIGINAL_CWD when set and non-empty, otherwise
// the process working directory. Empty is treated as unset.
func GetOriginalCWD() string {
	if cwd := os.Getenv("BMAD_ORIGINAL_CWD"); cwd != "" {
		return cwd
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// ExpandHome replaces a leading "~" with the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
