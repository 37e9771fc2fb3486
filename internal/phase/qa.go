package phase

import (
	"context"
	"fmt"

	"github.com/bmad-assist/bmad-assist/internal/state"
)

// qaHandler bridges the QA phases to the QA engine. No prompt compilation
// happens here; the engine drives its own provider invocations.
type qaHandler struct {
	rt    *Runtime
	phase Phase
}

func (h *qaHandler) Phase() Phase { return h.phase }

func (h *qaHandler) Execute(ctx context.Context, st *state.State) Result {
	var outputs map[string]string
	var err error
	switch h.phase {
	case QAPlanGenerate:
		outputs, err = h.rt.QA.GeneratePlan(ctx, st)
	case QAPlanExecute:
		outputs, err = h.rt.QA.ExecutePlan(ctx, st)
	case QARemediate:
		outputs, err = h.rt.QA.Remediate(ctx, st)
	default:
		err = fmt.Errorf("phase %s is not a QA phase", h.phase)
	}
	if err != nil {
		return fail(fmt.Errorf("%s: %w", h.phase, err))
	}
	return succeed(outputs)
}
