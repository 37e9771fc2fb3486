package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmad-assist/bmad-assist/internal/state"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// synthesisHandler runs VALIDATE_STORY_SYNTHESIS and CODE_REVIEW_SYNTHESIS.
// The evaluator reports from the preceding fan-out are embedded as prompt
// context by the compiler; the master provider distills them into one report,
// which is persisted with a deterministic metrics header prepended.
type synthesisHandler struct {
	rt    *Runtime
	phase Phase
}

func (h *synthesisHandler) Phase() Phase { return h.phase }

func (h *synthesisHandler) Execute(ctx context.Context, st *state.State) Result {
	epicNum, storyNum, ok := storyCursor(st)
	if !ok {
		return failf("%s requires a current story cursor", h.phase)
	}

	inputs, err := h.evaluatorReports(epicNum, storyNum)
	if err != nil {
		return fail(err)
	}
	if len(inputs) == 0 {
		return failf("no evaluator reports found for story %s.%s under %s; run %s first",
			epicNum, storyNum, filepath.Base(h.inputDir()), h.fanoutPhase())
	}

	_, prompt, err := h.rt.Compiler.Compile(ctx, h.phase.Workflow(), storyParams(st))
	if err != nil {
		return fail(fmt.Errorf("compile %s: %w", h.phase.Workflow(), err))
	}

	res, err := h.rt.invoke(ctx, h.rt.Config.Providers.Master, prompt, h.phase)
	if err != nil {
		return fail(fmt.Errorf("%s provider failed: %w", h.phase, err))
	}

	outputs := map[string]string{"session_id": res.SessionID}
	if metrics, ok := ExtractMarkerJSON(res.Stdout); ok {
		if encoded, err := json.Marshal(metrics); err == nil {
			outputs["metrics"] = string(encoded)
		}
	} else {
		slog.Warn("synthesis output carried no metrics block", "phase", h.phase)
	}

	byEvaluator := map[string]SeverityCounts{}
	for evaluator, report := range inputs {
		byEvaluator[evaluator] = CountSeverities(report)
	}
	body := res.Stdout
	if header := MetricsHeader(byEvaluator); header != "" {
		body = header + "\n" + body
	}

	path := h.reportPath(epicNum, storyNum)
	if err := util.AtomicWriteFileString(path, body, 0o644); err != nil {
		return fail(fmt.Errorf("persist synthesis report: %w", err))
	}
	outputs["report"] = path
	return succeed(outputs)
}

// evaluatorReports loads every fan-out artifact for the story, keyed by the
// evaluator segment of the filename.
func (h *synthesisHandler) evaluatorReports(epicNum, storyNum string) (map[string]string, error) {
	prefix := h.filePrefix() + "-" + epicNum + "-" + storyNum + "-"
	matches, err := filepath.Glob(filepath.Join(h.inputDir(), prefix+"*.md"))
	if err != nil {
		return nil, fmt.Errorf("glob evaluator reports: %w", err)
	}
	reports := map[string]string{}
	for _, path := range matches {
		base := filepath.Base(path)
		evaluator := base[len(prefix) : len(base)-len(".md")]
		if evaluator == "synthesis" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read evaluator report %s: %w", base, err)
		}
		reports[evaluator] = string(content)
	}
	return reports, nil
}

func (h *synthesisHandler) fanoutPhase() Phase {
	if h.phase == CodeReviewSynthesis {
		return CodeReview
	}
	return ValidateStory
}

func (h *synthesisHandler) filePrefix() string {
	if h.phase == CodeReviewSynthesis {
		return "code-review"
	}
	return "validation"
}

func (h *synthesisHandler) inputDir() string {
	if h.phase == CodeReviewSynthesis {
		return h.rt.Project.CodeReviewsDir()
	}
	return h.rt.Project.ValidationsDir()
}

// reportPath names the synthesis artifact. The "synthesis" evaluator segment
// is what the sprint reconciler treats as done evidence for the story.
func (h *synthesisHandler) reportPath(epicNum, storyNum string) string {
	if h.phase == CodeReviewSynthesis {
		return h.rt.Project.CodeReviewFile(epicNum, storyNum, "synthesis")
	}
	return h.rt.Project.ValidationFile(epicNum, storyNum, "synthesis")
}
