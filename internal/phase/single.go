package phase

import (
	"context"
	"fmt"

	"github.com/bmad-assist/bmad-assist/internal/state"
)

// singleHandler runs the phases that need exactly one master invocation:
// CREATE_STORY, DEV_STORY, ATDD and TEST_REVIEW. The provider CLI edits the
// working tree itself; the handler only compiles, invokes and reports.
type singleHandler struct {
	rt    *Runtime
	phase Phase
}

func (h *singleHandler) Phase() Phase { return h.phase }

func (h *singleHandler) Execute(ctx context.Context, st *state.State) Result {
	compiled, prompt, err := h.rt.Compiler.Compile(ctx, h.phase.Workflow(), storyParams(st))
	if err != nil {
		return fail(fmt.Errorf("compile %s: %w", h.phase.Workflow(), err))
	}

	res, err := h.rt.invoke(ctx, h.rt.Config.Providers.Master, prompt, h.phase)
	if err != nil {
		return fail(fmt.Errorf("%s provider failed: %w", h.phase, err))
	}

	return succeed(map[string]string{
		"workflow":    compiled.WorkflowName,
		"session_id":  res.SessionID,
		"duration_ms": fmt.Sprintf("%d", res.DurationMS),
	})
}
