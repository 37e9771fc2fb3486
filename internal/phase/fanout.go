package phase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bmad-assist/bmad-assist/internal/bench"
	"github.com/bmad-assist/bmad-assist/internal/config"
	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/state"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// DefaultMinReviews is the minimum number of successful evaluators a fan-out
// phase needs before the loop may advance.
const DefaultMinReviews = 2

// fanoutHandler runs VALIDATE_STORY and CODE_REVIEW: the same compiled
// prompt goes to every configured evaluator in parallel, each evaluator's
// raw report is persisted under its own filename, and the phase fails when
// fewer than min_reviews evaluators succeed.
type fanoutHandler struct {
	rt    *Runtime
	phase Phase
}

func (h *fanoutHandler) Phase() Phase { return h.phase }

// evaluatorOutcome collects one evaluator's run for post-fan-out accounting.
type evaluatorOutcome struct {
	ref      config.ProviderRef
	artifact string
	counts   SeverityCounts
	err      error
}

func (h *fanoutHandler) Execute(ctx context.Context, st *state.State) Result {
	epicNum, storyNum, ok := storyCursor(st)
	if !ok {
		return failf("%s requires a current story cursor; run CREATE_STORY first", h.phase)
	}

	_, prompt, err := h.rt.Compiler.Compile(ctx, h.phase.Workflow(), storyParams(st))
	if err != nil {
		return fail(fmt.Errorf("compile %s: %w", h.phase.Workflow(), err))
	}

	evaluators := h.rt.Config.Providers.Evaluators
	if len(evaluators) == 0 {
		evaluators = []config.ProviderRef{h.rt.Config.Providers.Master}
	}

	outcomes := make([]evaluatorOutcome, len(evaluators))
	var g errgroup.Group
	for i, ref := range evaluators {
		g.Go(func() error {
			// Individual evaluator failures are tallied, not propagated;
			// the min-reviews gate decides below.
			outcomes[i] = h.runEvaluator(ctx, ref, prompt, epicNum, storyNum)
			return nil
		})
	}
	_ = g.Wait()

	byEvaluator := map[string]SeverityCounts{}
	artifacts := make([]string, 0, len(outcomes))
	successes := 0
	for _, out := range outcomes {
		if out.err != nil {
			slog.Warn("evaluator failed",
				"phase", h.phase, "evaluator", out.ref.DisplayModel(), "error", out.err)
			continue
		}
		successes++
		artifacts = append(artifacts, out.artifact)
		byEvaluator[out.ref.DisplayModel()] = out.counts
	}

	want := h.rt.Config.Providers.MinReviews
	if want <= 0 {
		want = DefaultMinReviews
	}
	if want > len(evaluators) {
		want = len(evaluators)
	}
	if successes < want {
		return fail(bmaderrors.ErrInsufficientReviews(successes, want))
	}

	return succeed(map[string]string{
		"artifacts":      strings.Join(artifacts, ","),
		"evaluators_ok":  fmt.Sprintf("%d", successes),
		"metrics_header": MetricsHeader(byEvaluator),
	})
}

func (h *fanoutHandler) runEvaluator(ctx context.Context, ref config.ProviderRef, prompt, epicNum, storyNum string) evaluatorOutcome {
	out := evaluatorOutcome{ref: ref}

	res, err := h.rt.invoke(ctx, ref, prompt, h.phase)
	if err != nil {
		out.err = err
		h.record(ref, epicNum, storyNum, bench.Record{Success: false})
		return out
	}
	out.counts = CountSeverities(res.Stdout)

	path := h.artifactPath(epicNum, storyNum, ref.DisplayModel())
	if err := util.AtomicWriteFileString(path, res.Stdout, 0o644); err != nil {
		out.err = fmt.Errorf("persist evaluator artifact: %w", err)
		return out
	}
	out.artifact = path

	h.record(ref, epicNum, storyNum, bench.Record{
		Success:    true,
		DurationMS: res.DurationMS,
		ExitStatus: string(res.Status),
		Critical:   out.counts.Critical,
		High:       out.counts.High,
		Medium:     out.counts.Medium,
		Low:        out.counts.Low,
	})
	return out
}

func (h *fanoutHandler) artifactPath(epicNum, storyNum, evaluator string) string {
	if h.phase == CodeReview {
		return h.rt.Project.CodeReviewFile(epicNum, storyNum, evaluator)
	}
	return h.rt.Project.ValidationFile(epicNum, storyNum, evaluator)
}

func (h *fanoutHandler) record(ref config.ProviderRef, epicNum, storyNum string, rec bench.Record) {
	if h.rt.Bench == nil {
		return
	}
	rec.Phase = h.phase.Workflow()
	rec.Story = epicNum + "." + storyNum
	rec.Evaluator = ref.DisplayModel()
	h.rt.Bench.Record(rec)
}
