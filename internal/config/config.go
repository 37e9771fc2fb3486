// Package config loads and validates bmad-assist configuration.
//
// Configuration comes from two YAML layers with deep-merge semantics: the
// global file at ~/.bmad-assist/config.yaml and the project-local
// bmad-assist.yaml. Nested mappings merge recursively, lists replace, and the
// project layer wins. Environment variables (BMAD_*) override both.
package config

import (
	"fmt"
	"strings"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// Config is the fully merged, typed configuration.
type Config struct {
	Version   string          `yaml:"version,omitempty" json:"version,omitempty"`
	Project   ProjectConfig   `yaml:"project" json:"project"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Compiler  CompilerConfig  `yaml:"compiler" json:"compiler"`
	Patch     PatchConfig     `yaml:"patch" json:"patch"`
	Testarch  TestarchConfig  `yaml:"testarch" json:"testarch"`
	QA        QAConfig        `yaml:"qa" json:"qa"`
	Sprint    SprintConfig    `yaml:"sprint" json:"sprint"`
	Dashboard DashboardConfig `yaml:"dashboard" json:"dashboard"`
	Notify    NotifyConfig    `yaml:"notifications" json:"notifications"`
	Debug     DebugConfig     `yaml:"debug" json:"debug"`

	// PowerPrompts carries free-form prompt variables. Unlike lists, the
	// variables mapping deep-merges across layers.
	PowerPrompts PowerPromptsConfig `yaml:"power_prompts" json:"power_prompts"`
}

// ProjectConfig identifies the project.
type ProjectConfig struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// ProviderRef names one provider invocation target.
type ProviderRef struct {
	// Provider is the provider kind: claude, codex or gemini.
	Provider string `yaml:"provider" json:"provider"`
	// Model is the model identifier passed to the provider CLI.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
}

// DisplayModel returns the human-readable evaluator identifier used in
// artifact filenames.
func (r ProviderRef) DisplayModel() string {
	if r.Model == "" {
		return r.Provider
	}
	return r.Provider + "-" + r.Model
}

// ProvidersConfig configures the provider fleet.
type ProvidersConfig struct {
	// Master runs the single-provider phases and all synthesis phases.
	Master ProviderRef `yaml:"master" json:"master"`
	// Patcher runs workflow patch transforms. Falls back to Master when unset.
	Patcher ProviderRef `yaml:"patcher,omitempty" json:"patcher,omitempty"`
	// Evaluators is the fan-out list for validation and code review.
	Evaluators []ProviderRef `yaml:"evaluators,omitempty" json:"evaluators,omitempty"`
	// MinReviews is the minimum number of successful evaluators required
	// before a multi-provider phase may advance.
	MinReviews int `yaml:"min_reviews,omitempty" json:"min_reviews,omitempty"`
	// TimeoutSec is the per-provider subprocess timeout in seconds.
	TimeoutSec int `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`
	// ClaudePath, CodexPath, GeminiPath override the provider CLI binaries.
	ClaudePath string `yaml:"claude_path,omitempty" json:"claude_path,omitempty"`
	CodexPath  string `yaml:"codex_path,omitempty" json:"codex_path,omitempty"`
	GeminiPath string `yaml:"gemini_path,omitempty" json:"gemini_path,omitempty"`
}

// CompilerConfig configures workflow compilation.
type CompilerConfig struct {
	// TokenHardLimit is the hard prompt budget; compilation fails above it.
	TokenHardLimit int `yaml:"token_hard_limit,omitempty" json:"token_hard_limit,omitempty"`
	// TokenSoftLimit warns above it. Zero means a fraction of the hard limit.
	TokenSoftLimit int `yaml:"token_soft_limit,omitempty" json:"token_soft_limit,omitempty"`
	// Variables is the external variable config consulted between invocation
	// params and workflow defaults.
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	// WorkflowsDir holds the workflow definitions. Supports {project-root}.
	WorkflowsDir string `yaml:"workflows_dir,omitempty" json:"workflows_dir,omitempty"`
}

// PatchConfig configures the patch and template cache pipeline.
type PatchConfig struct {
	// Enabled toggles patch discovery entirely.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxRetries bounds the patcher LLM attempts per compile.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	// GitCommands are run at compile time and embedded in the template.
	GitCommands []string `yaml:"git_commands,omitempty" json:"git_commands,omitempty"`
	// GitMarkerTag is the element name wrapping embedded git output.
	GitMarkerTag string `yaml:"git_marker_tag,omitempty" json:"git_marker_tag,omitempty"`
}

// TestarchConfig gates the optional test-architecture phases.
type TestarchConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	TestDesign string `yaml:"test_design,omitempty" json:"test_design,omitempty"`
	Framework  string `yaml:"framework,omitempty" json:"framework,omitempty"`
	CI         string `yaml:"ci,omitempty" json:"ci,omitempty"`
}

// QAConfig gates and tunes the optional QA phases.
type QAConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Category selects which test classes run: "A" or "all".
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
	// BatchThreshold is the test count above which batch mode activates.
	BatchThreshold int `yaml:"batch_threshold,omitempty" json:"batch_threshold,omitempty"`
	// BatchSize is the number of tests per batch.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	// TestTimeoutSec bounds each individual test execution.
	TestTimeoutSec int `yaml:"test_timeout_sec,omitempty" json:"test_timeout_sec,omitempty"`
	// MaxRemediationIterations bounds the remediation loop.
	MaxRemediationIterations int `yaml:"max_remediation_iterations,omitempty" json:"max_remediation_iterations,omitempty"`
}

// SprintConfig tunes the sprint-status reconciler.
type SprintConfig struct {
	// DivergenceThreshold is the changed/total ratio above which repair
	// switches from silent to interactive.
	DivergenceThreshold float64 `yaml:"divergence_threshold,omitempty" json:"divergence_threshold,omitempty"`
}

// DashboardConfig configures the HTTP/SSE server.
type DashboardConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`
	// AutoPort tries successive ports when the requested one is busy.
	AutoPort bool `yaml:"auto_port" json:"auto_port"`
	// ImportMaxBytes rejects config imports larger than this.
	ImportMaxBytes int `yaml:"import_max_bytes,omitempty" json:"import_max_bytes,omitempty"`
}

// NotifyConfig configures notification sinks.
type NotifyConfig struct {
	// Command, when set, is run for every dispatched notification with the
	// event JSON on stdin.
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
}

// DebugConfig configures debug behavior.
type DebugConfig struct {
	// Interactive enables the single-step [n]/[i]/[q] prompt between phases.
	Interactive bool `yaml:"interactive" json:"interactive"`
}

// PowerPromptsConfig carries user prompt variables; the mapping deep-merges
// across config layers instead of replacing.
type PowerPromptsConfig struct {
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// Default returns the built-in defaults applied beneath both config layers.
func Default() *Config {
	return &Config{
		Version: "1",
		Providers: ProvidersConfig{
			Master:     ProviderRef{Provider: "claude"},
			MinReviews: 2,
			TimeoutSec: 1800,
		},
		Compiler: CompilerConfig{
			TokenHardLimit: 180000,
			WorkflowsDir:   "{project-root}/bmad/workflows",
		},
		Patch: PatchConfig{
			Enabled:      true,
			MaxRetries:   3,
			GitMarkerTag: "git-intelligence",
		},
		QA: QAConfig{
			Category:                 "A",
			BatchThreshold:           10,
			BatchSize:                10,
			TestTimeoutSec:           300,
			MaxRemediationIterations: 3,
		},
		Sprint: SprintConfig{
			DivergenceThreshold: 0.3,
		},
		Dashboard: DashboardConfig{
			Host:           "127.0.0.1",
			Port:           8333,
			AutoPort:       true,
			ImportMaxBytes: 256 * 1024,
		},
	}
}

// Validate checks the typed config and returns a *ValidationError describing
// every violation, or nil when valid.
func (c *Config) Validate() error {
	var errs []bmaderrors.FieldError

	switch c.Providers.Master.Provider {
	case "claude", "codex", "gemini":
	case "":
		errs = append(errs, bmaderrors.FieldError{Loc: "providers.master.provider", Msg: "required", Type: "missing"})
	default:
		errs = append(errs, bmaderrors.FieldError{
			Loc:  "providers.master.provider",
			Msg:  fmt.Sprintf("unknown provider %q (want claude, codex or gemini)", c.Providers.Master.Provider),
			Type: "enum",
		})
	}
	for i, ev := range c.Providers.Evaluators {
		switch ev.Provider {
		case "claude", "codex", "gemini":
		default:
			errs = append(errs, bmaderrors.FieldError{
				Loc:  fmt.Sprintf("providers.evaluators[%d].provider", i),
				Msg:  fmt.Sprintf("unknown provider %q", ev.Provider),
				Type: "enum",
			})
		}
	}
	if c.Providers.MinReviews < 1 {
		errs = append(errs, bmaderrors.FieldError{Loc: "providers.min_reviews", Msg: "must be at least 1", Type: "range"})
	}
	if c.Providers.TimeoutSec <= 0 {
		errs = append(errs, bmaderrors.FieldError{Loc: "providers.timeout_sec", Msg: "must be positive", Type: "range"})
	}
	if c.QA.Category != "" && c.QA.Category != "A" && c.QA.Category != "all" {
		errs = append(errs, bmaderrors.FieldError{Loc: "qa.category", Msg: `must be "A" or "all"`, Type: "enum"})
	}
	if c.QA.BatchSize < 1 {
		errs = append(errs, bmaderrors.FieldError{Loc: "qa.batch_size", Msg: "must be at least 1", Type: "range"})
	}
	if c.Sprint.DivergenceThreshold < 0 || c.Sprint.DivergenceThreshold > 1 {
		errs = append(errs, bmaderrors.FieldError{Loc: "sprint.divergence_threshold", Msg: "must be within [0, 1]", Type: "range"})
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, bmaderrors.FieldError{Loc: "dashboard.port", Msg: "must be a valid port", Type: "range"})
	}
	if c.Compiler.TokenSoftLimit > 0 && c.Compiler.TokenSoftLimit > c.Compiler.TokenHardLimit {
		errs = append(errs, bmaderrors.FieldError{Loc: "compiler.token_soft_limit", Msg: "must not exceed the hard limit", Type: "range"})
	}

	if len(errs) > 0 {
		return &bmaderrors.ValidationError{Errors: errs}
	}
	return nil
}

// EffectiveSoftLimit returns the token soft limit, defaulting to 80% of the
// hard limit when unset.
func (c *Config) EffectiveSoftLimit() int {
	if c.Compiler.TokenSoftLimit > 0 {
		return c.Compiler.TokenSoftLimit
	}
	return c.Compiler.TokenHardLimit * 8 / 10
}

// PatcherRef returns the patcher provider, falling back to the master.
func (c *Config) PatcherRef() ProviderRef {
	if c.Providers.Patcher.Provider != "" {
		return c.Providers.Patcher
	}
	return c.Providers.Master
}

// ExpandPath substitutes path placeholders: a leading "~" becomes the user
// home, "{project-root}" becomes projectRoot and "{installed_path}" becomes
// installedPath. Paths stay strings on disk; expansion happens on use.
func ExpandPath(path, projectRoot, installedPath string) string {
	path = strings.ReplaceAll(path, "{project-root}", projectRoot)
	path = strings.ReplaceAll(path, "{installed_path}", installedPath)
	return paths.ExpandHome(path)
}
