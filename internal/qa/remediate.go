package qa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmad-assist/bmad-assist/internal/state"
)

const defaultMaxRemediationIterations = 3

// Issue is one problem the remediator feeds to the triage prompt.
type Issue struct {
	Source      string
	Description string
}

var (
	findingLine  = regexp.MustCompile(`(?im)^\s*[-*]\s*\[(CRITICAL|HIGH)\]\s*(.+)$`)
	modifiedLine = regexp.MustCompile(`(?im)^MODIFIED:\s*(.+)$`)
)

// Remediate runs the bounded triage/fix loop: collect issues from QA results
// and review artifacts, hand them to the master provider, parse its AUTO-FIX
// and ESCALATE sections, then optionally re-test with a regression check.
func (e *Engine) Remediate(ctx context.Context, st *state.State) (map[string]string, error) {
	epicID, err := e.epicID(st)
	if err != nil {
		return nil, err
	}

	maxIter := e.cfg.QA.MaxRemediationIterations
	if maxIter <= 0 {
		maxIter = defaultMaxRemediationIterations
	}

	modified := map[string]int{}
	var escalated []string
	fixed := 0
	lastPassRate := -1.0
	iterations := 0

	for iter := 1; iter <= maxIter; iter++ {
		issues := e.collectIssues(epicID)
		if len(issues) == 0 {
			break
		}
		iterations = iter

		output, err := e.invoker.Invoke(ctx, e.triagePrompt(epicID, issues))
		if err != nil {
			return nil, fmt.Errorf("remediation provider failed: %w", err)
		}

		autoFix, escalate := splitTriage(output)
		fixed += len(autoFix)
		escalated = append(escalated, escalate...)
		for _, m := range modifiedLine.FindAllStringSubmatch(output, -1) {
			file := strings.TrimSpace(m[1])
			modified[file]++
			if modified[file] > 1 {
				slog.Warn("file fixed more than once during remediation", "file", file, "times", modified[file])
			}
		}
		if len(autoFix) == 0 {
			// Everything left needs a human; iterating again changes nothing.
			break
		}

		// Re-test and stop on regression: the pass rate must not decrease.
		if _, err := os.Stat(e.PlanPath(epicID)); err == nil {
			if _, err := e.ExecutePlan(ctx, st); err != nil {
				slog.Warn("remediation re-test failed", "error", err)
				break
			}
			run, err := e.loadRun(epicID, "")
			if err != nil {
				break
			}
			rate := run.PassRate()
			if lastPassRate >= 0 && rate < lastPassRate {
				slog.Warn("remediation regressed the pass rate, stopping",
					"before", lastPassRate, "after", rate)
				break
			}
			lastPassRate = rate
		}
	}

	outputs := map[string]string{
		"iterations": fmt.Sprintf("%d", iterations),
		"fixed":      fmt.Sprintf("%d", fixed),
		"escalated":  fmt.Sprintf("%d", len(escalated)),
	}
	if len(escalated) > 0 {
		outputs["escalations"] = strings.Join(escalated, "; ")
	}
	return outputs, nil
}

// collectIssues gathers open problems for the epic, deduplicated across
// iterations through the engine's seen set.
func (e *Engine) collectIssues(epicID string) []Issue {
	var issues []Issue
	add := func(source, description string) {
		description = strings.TrimSpace(description)
		if description == "" || e.seen[description] {
			return
		}
		e.seen[description] = true
		issues = append(issues, Issue{Source: source, Description: description})
	}

	if run, err := e.loadRun(epicID, ""); err == nil {
		for _, res := range run.Results {
			if res.Status == StatusFail || res.Status == StatusError {
				desc := fmt.Sprintf("test %s %s", res.ID, strings.ToLower(res.Status))
				if res.Reason != "" {
					desc += ": " + res.Reason
				}
				add("qa-run-"+run.RunID, desc)
			}
		}
	}

	for _, dir := range []string{
		e.project.CodeReviewsDir(),
		e.project.ValidationsDir(),
		e.project.RetrospectivesDir(),
	} {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.md"))
		for _, path := range matches {
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			for _, m := range findingLine.FindAllStringSubmatch(string(content), -1) {
				add(filepath.Base(path), m[2])
			}
		}
	}
	return issues
}

func (e *Engine) triagePrompt(epicID string, issues []Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Triage and fix the open issues for epic %s.\n\n", epicID)
	b.WriteString("For each issue decide AUTO-FIX (fix it now, in this working tree) or ")
	b.WriteString("ESCALATE (needs a human decision). Respond with two sections, ")
	b.WriteString("`## AUTO-FIX` and `## ESCALATE`, each listing the issues it covers. ")
	b.WriteString("After fixing, print one `MODIFIED: <path>` line per file you changed.\n\n")
	for i, issue := range issues {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, issue.Source, issue.Description)
	}
	return b.String()
}

// splitTriage parses the AUTO-FIX and ESCALATE sections into their bullet
// items.
func splitTriage(output string) (autoFix, escalate []string) {
	section := ""
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "## AUTO-FIX"):
			section = "fix"
			continue
		case strings.HasPrefix(upper, "## ESCALATE"):
			section = "escalate"
			continue
		case strings.HasPrefix(trimmed, "## "):
			section = ""
			continue
		}
		if !strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "*") {
			continue
		}
		item := strings.TrimSpace(strings.TrimLeft(trimmed, "-* "))
		if item == "" {
			continue
		}
		switch section {
		case "fix":
			autoFix = append(autoFix, item)
		case "escalate":
			escalate = append(escalate, item)
		}
	}
	return autoFix, escalate
}
