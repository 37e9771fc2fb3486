// Package qa generates, executes and remediates end-to-end QA plans for an
// epic. The plan is a Markdown document produced by the master provider;
// category A tests are bash scripts run locally, category B are Playwright
// specs, category C are documentation-only checks that never execute.
package qa

import (
	"context"
	"fmt"

	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/state"
)

// Invoker runs one master-provider prompt and returns its stdout. The loop
// wires this to the provider layer with debug logging attached.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, prompt string) (string, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ExecOptions tune one executor invocation. Zero values defer to config.
type ExecOptions struct {
	// Epic overrides the state's current epic.
	Epic string
	// Category restricts execution: "A" or "all".
	Category string
	// Retry selects failed/error tests from the latest run for the epic.
	Retry bool
	// RetryRun pins the run the retry selection reads, by run ID.
	RetryRun string
	// IncludeSkipped widens retry selection to skipped tests.
	IncludeSkipped bool
	// BatchSize and BatchThreshold override the config batch tuning.
	BatchSize      int
	BatchThreshold int
}

// Engine implements the QA phases.
type Engine struct {
	project *paths.Project
	cfg     *config.Config
	invoker Invoker
	opts    ExecOptions

	// seen deduplicates issue descriptions across remediation iterations.
	seen map[string]bool
}

// New creates a QA engine.
func New(project *paths.Project, cfg *config.Config, invoker Invoker, opts ExecOptions) *Engine {
	return &Engine{
		project: project,
		cfg:     cfg,
		invoker: invoker,
		opts:    opts,
		seen:    map[string]bool{},
	}
}

// epicID resolves the epic the QA phases operate on.
func (e *Engine) epicID(st *state.State) (string, error) {
	if e.opts.Epic != "" {
		return e.opts.Epic, nil
	}
	if st != nil && st.CurrentEpic != nil {
		return st.CurrentEpic.String(), nil
	}
	return "", fmt.Errorf("no epic selected; pass --epic or run inside the loop")
}

// category resolves which test classes run.
func (e *Engine) category(st *state.State) string {
	if e.opts.Category != "" {
		return e.opts.Category
	}
	if st != nil && st.QACategory != "" {
		return st.QACategory
	}
	if e.cfg.QA.Category != "" {
		return e.cfg.QA.Category
	}
	return "A"
}
