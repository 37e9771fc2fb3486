package qa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/epic"
	"github.com/bmad-assist/bmad-assist/internal/state"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// PlanPath returns the canonical plan location for an epic.
func (e *Engine) PlanPath(epicID string) string {
	return filepath.Join(e.project.QATestPlansDir(), fmt.Sprintf("epic-%s-e2e-plan.md", epicID))
}

// GeneratePlan asks the master provider for an end-to-end test plan and
// writes it under qa-artifacts/test-plans. An existing plan is backed up
// first so regeneration never destroys history.
func (e *Engine) GeneratePlan(ctx context.Context, st *state.State) (map[string]string, error) {
	epicID, err := e.epicID(st)
	if err != nil {
		return nil, err
	}

	prompt, err := e.planPrompt(epicID)
	if err != nil {
		return nil, err
	}

	output, err := e.invoker.Invoke(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("plan generation provider failed: %w", err)
	}
	if _, err := ParsePlan(output); err != nil {
		return nil, fmt.Errorf("generated plan is unusable: %w", err)
	}

	path := e.PlanPath(epicID)
	backup := ""
	if _, err := os.Stat(path); err == nil {
		backup = strings.TrimSuffix(path, ".md") +
			fmt.Sprintf("-backup-%s.md", time.Now().Format("20060102T150405"))
		if err := os.Rename(path, backup); err != nil {
			return nil, fmt.Errorf("back up existing plan: %w", err)
		}
		slog.Info("existing QA plan backed up", "backup", backup)
	}
	if err := util.AtomicWriteFileString(path, output, 0o644); err != nil {
		return nil, fmt.Errorf("persist QA plan: %w", err)
	}

	outputs := map[string]string{"plan": path}
	if backup != "" {
		outputs["backup"] = backup
	}
	return outputs, nil
}

// planPrompt assembles the generation prompt from the epic document plus any
// traceability and test-design context that exists.
func (e *Engine) planPrompt(epicID string) (string, error) {
	id, err := epic.ParseID(epicID)
	if err != nil {
		return "", fmt.Errorf("bad epic id %q: %w", epicID, err)
	}
	ep, err := epic.FindEpic(e.project.EpicsDir(), id)
	if err != nil {
		return "", fmt.Errorf("load epic %s: %w", epicID, err)
	}

	var b strings.Builder
	b.WriteString("Write an end-to-end QA test plan for the epic below.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Number tests E" + epicID + "-A01, E" + epicID + "-B01, ... ")
	b.WriteString("Category A is CLI/bash, B is Playwright UI, C is documentation-only.\n")
	b.WriteString("- Start with a master checklist table listing every test ID.\n")
	b.WriteString("- Follow with one ### section per test containing a fenced bash ")
	b.WriteString("(category A) or typescript (category B) script.\n\n")
	b.WriteString("<epic>\n")
	b.WriteString(ep.Body)
	b.WriteString("\n</epic>\n")

	for _, extra := range []string{
		filepath.Join(e.project.QATraceabilityDir(), fmt.Sprintf("trace-epic-%s.md", epicID)),
		filepath.Join(e.project.Root, "docs", "ux-spec.md"),
		filepath.Join(e.project.Root, "docs", "test-design.md"),
	} {
		content, err := os.ReadFile(extra)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n<context source=%q>\n%s\n</context>\n", filepath.Base(extra), content)
	}
	return b.String(), nil
}
