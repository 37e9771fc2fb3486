package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bmad-assist/bmad-assist/internal/state"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// Test outcome statuses.
const (
	StatusPass  = "PASS"
	StatusFail  = "FAIL"
	StatusError = "ERROR"
	StatusSkip  = "SKIP"
)

const (
	defaultBatchThreshold = 10
	defaultBatchSize      = 10
	defaultTestTimeout    = 5 * time.Minute
	outputCap             = 4096
)

// TestResult records one executed test.
type TestResult struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title,omitempty"`
	Status     string `yaml:"status"`
	ExitCode   int    `yaml:"exit_code"`
	DurationMS int64  `yaml:"duration_ms"`
	Output     string `yaml:"output,omitempty"`
	Reason     string `yaml:"reason,omitempty"`
}

// RunResults is the persisted outcome of one executor run.
type RunResults struct {
	Epic       string          `yaml:"epic"`
	RunID      string          `yaml:"run_id"`
	StartedAt  state.Timestamp `yaml:"started_at"`
	FinishedAt state.Timestamp `yaml:"finished_at"`
	Results    []TestResult    `yaml:"results"`
	Passed     int             `yaml:"passed"`
	Failed     int             `yaml:"failed"`
	Errored    int             `yaml:"errored"`
	Skipped    int             `yaml:"skipped"`
}

func (r *RunResults) tally() {
	r.Passed, r.Failed, r.Errored, r.Skipped = 0, 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case StatusPass:
			r.Passed++
		case StatusFail:
			r.Failed++
		case StatusError:
			r.Errored++
		case StatusSkip:
			r.Skipped++
		}
	}
}

// PassRate returns passed / executed (skips excluded). 1.0 when nothing ran.
func (r *RunResults) PassRate() float64 {
	executed := r.Passed + r.Failed + r.Errored
	if executed == 0 {
		return 1.0
	}
	return float64(r.Passed) / float64(executed)
}

// ExecutePlan runs the epic's QA plan. Above the batch threshold the run is
// chunked and results are saved after every batch, so a crash loses at most
// one batch of work.
func (e *Engine) ExecutePlan(ctx context.Context, st *state.State) (map[string]string, error) {
	epicID, err := e.epicID(st)
	if err != nil {
		return nil, err
	}

	planPath := e.PlanPath(epicID)
	content, err := os.ReadFile(planPath)
	if err != nil {
		return nil, fmt.Errorf("no QA plan at %s; run QA_PLAN_GENERATE (or `bmad-assist qa generate`) first: %w", planPath, err)
	}
	plan, err := ParsePlan(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse QA plan %s: %w", planPath, err)
	}

	tests, err := e.selectTests(plan, epicID, e.category(st))
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("no runnable tests selected from %s", planPath)
	}

	run := &RunResults{
		Epic:      epicID,
		RunID:     time.Now().Format("20060102T150405"),
		StartedAt: state.Now(),
	}
	resultsPath := filepath.Join(e.project.QATestResultsDir(),
		fmt.Sprintf("epic-%s-run-%s.yaml", epicID, run.RunID))

	threshold := pick(e.opts.BatchThreshold, e.cfg.QA.BatchThreshold, defaultBatchThreshold)
	size := pick(e.opts.BatchSize, e.cfg.QA.BatchSize, defaultBatchSize)
	if len(tests) <= threshold {
		size = len(tests)
	}

	for start := 0; start < len(tests); start += size {
		end := min(start+size, len(tests))
		for _, test := range tests[start:end] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			run.Results = append(run.Results, e.runTest(ctx, test))
		}
		run.FinishedAt = state.Now()
		run.tally()
		if err := util.AtomicWriteYAML(resultsPath, run, 0o644); err != nil {
			return nil, fmt.Errorf("persist QA results: %w", err)
		}
	}

	summaryPath := strings.TrimSuffix(resultsPath, ".yaml") + "-summary.md"
	if err := util.AtomicWriteFileString(summaryPath, e.summarize(run), 0o644); err != nil {
		slog.Warn("QA summary not saved", "path", summaryPath, "error", err)
	}

	return map[string]string{
		"results": resultsPath,
		"summary": summaryPath,
		"passed":  fmt.Sprintf("%d", run.Passed),
		"failed":  fmt.Sprintf("%d", run.Failed+run.Errored),
		"skipped": fmt.Sprintf("%d", run.Skipped),
	}, nil
}

// selectTests filters the plan by category and, in retry mode, by the
// outcomes of a previous run.
func (e *Engine) selectTests(plan *Plan, epicID, category string) ([]Test, error) {
	var retryIDs map[string]bool
	if e.opts.Retry || e.opts.RetryRun != "" {
		prev, err := e.loadRun(epicID, e.opts.RetryRun)
		if err != nil {
			return nil, err
		}
		retryIDs = map[string]bool{}
		for _, res := range prev.Results {
			switch res.Status {
			case StatusFail, StatusError:
				retryIDs[res.ID] = true
			case StatusSkip:
				if e.opts.IncludeSkipped {
					retryIDs[res.ID] = true
				}
			}
		}
		if len(retryIDs) == 0 {
			return nil, fmt.Errorf("run %s has nothing to retry", prev.RunID)
		}
	}

	var tests []Test
	for _, t := range plan.Tests {
		if category != "all" && string(t.ID.Category) != category {
			continue
		}
		if retryIDs != nil && !retryIDs[t.ID.Raw] {
			continue
		}
		tests = append(tests, t)
	}
	return tests, nil
}

// runTest executes one test under the configured timeout with the project
// root as working directory.
func (e *Engine) runTest(ctx context.Context, test Test) TestResult {
	result := TestResult{ID: test.ID.Raw, Title: test.Title}

	switch {
	case test.ID.Category == 'C':
		result.Status = StatusSkip
		result.Reason = "category C is documentation-only"
		return result
	case test.Script == "":
		result.Status = StatusSkip
		result.Reason = "no script in plan section"
		return result
	case test.ID.Category == 'B':
		result.Status = StatusSkip
		result.Reason = "Playwright tests run via the dashboard probe"
		return result
	}

	timeout := defaultTestTimeout
	if e.cfg.QA.TestTimeoutSec > 0 {
		timeout = time.Duration(e.cfg.QA.TestTimeoutSec) * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, "sh", "-c", test.Script)
	cmd.Dir = e.project.Root
	started := time.Now()
	output, err := cmd.CombinedOutput()
	result.DurationMS = time.Since(started).Milliseconds()
	result.Output = util.TruncateString(string(output), outputCap)

	switch {
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		result.Status = StatusError
		result.Reason = fmt.Sprintf("timed out after %s", timeout)
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = StatusFail
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Status = StatusError
			result.Reason = err.Error()
		}
	default:
		result.Status = StatusPass
		if test.Expect != "" && !matchExpectation(result.Output, test.Expect) {
			result.Status = StatusFail
			result.Reason = fmt.Sprintf("output did not match %q", test.Expect)
		}
	}
	return result
}

// matchExpectation applies the assertion: /pat/ means regex, anything else a
// substring. Same convention as patch validation rules.
func matchExpectation(output, expect string) bool {
	if len(expect) > 2 && strings.HasPrefix(expect, "/") && strings.HasSuffix(expect, "/") {
		re, err := regexp.Compile("(?m)" + expect[1:len(expect)-1])
		if err != nil {
			return false
		}
		return re.MatchString(output)
	}
	return strings.Contains(output, expect)
}

func (e *Engine) summarize(run *RunResults) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# QA run %s for epic %s\n\n", run.RunID, run.Epic)
	fmt.Fprintf(&b, "%d passed, %d failed, %d errored, %d skipped (pass rate %.0f%%)\n\n",
		run.Passed, run.Failed, run.Errored, run.Skipped, run.PassRate()*100)
	for _, res := range run.Results {
		if res.Status == StatusPass {
			continue
		}
		fmt.Fprintf(&b, "- %s %s", res.Status, res.ID)
		if res.Reason != "" {
			fmt.Fprintf(&b, ": %s", res.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// loadRun reads a results file: the named run, or the latest for the epic.
func (e *Engine) loadRun(epicID, runID string) (*RunResults, error) {
	dir := e.project.QATestResultsDir()
	var path string
	if runID != "" {
		path = filepath.Join(dir, fmt.Sprintf("epic-%s-run-%s.yaml", epicID, runID))
	} else {
		matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("epic-%s-run-*.yaml", epicID)))
		if err != nil || len(matches) == 0 {
			return nil, fmt.Errorf("no previous QA runs for epic %s under %s", epicID, dir)
		}
		// Run IDs are lexically sortable timestamps.
		sort.Strings(matches)
		path = matches[len(matches)-1]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read QA run %s: %w", path, err)
	}
	var run RunResults
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse QA run %s: %w", path, err)
	}
	return &run, nil
}

func pick(override, configured, fallback int) int {
	if override > 0 {
		return override
	}
	if configured > 0 {
		return configured
	}
	return fallback
}
