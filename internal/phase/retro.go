package phase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/state"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// Markers delimiting the retrospective report body inside provider output.
const (
	RetroStartMarker = "===RETROSPECTIVE_START==="
	RetroEndMarker   = "===RETROSPECTIVE_END==="
)

// retroHandler runs the epic-teardown RETROSPECTIVE phase. With testarch
// enabled it first runs a requirements traceability pre-step whose failure
// never blocks the retrospective itself.
type retroHandler struct {
	rt *Runtime
}

func (h *retroHandler) Phase() Phase { return Retrospective }

func (h *retroHandler) Execute(ctx context.Context, st *state.State) Result {
	if st.CurrentEpic == nil {
		return failf("RETROSPECTIVE requires a current epic cursor")
	}
	epicID := st.CurrentEpic.String()

	if h.rt.Config.Testarch.Enabled {
		h.tracePreStep(ctx, epicID)
	}

	_, prompt, err := h.rt.Compiler.Compile(ctx, Retrospective.Workflow(), storyParams(st))
	if err != nil {
		return fail(fmt.Errorf("compile retrospective: %w", err))
	}

	res, err := h.rt.invoke(ctx, h.rt.Config.Providers.Master, prompt, Retrospective)
	if err != nil {
		return fail(fmt.Errorf("RETROSPECTIVE provider failed: %w", err))
	}

	report, ok := extractMarkerBlock(res.Stdout, RetroStartMarker, RetroEndMarker)
	if !ok {
		slog.Warn("retrospective output missing report markers, saving full output", "epic", epicID)
		report = res.Stdout
	}

	path := filepath.Join(h.rt.Project.RetrospectivesDir(),
		fmt.Sprintf("epic-%s-retro-%s.md", epicID, time.Now().Format("20060102")))
	if _, err := os.Stat(path); err == nil {
		slog.Warn("overwriting existing retrospective", "path", path)
	}
	if err := util.AtomicWriteFileString(path, report, 0o644); err != nil {
		return fail(fmt.Errorf("persist retrospective: %w", err))
	}

	return succeed(map[string]string{
		"report":     path,
		"session_id": res.SessionID,
	})
}

// tracePreStep asks the master provider for a requirements-to-test trace and
// stores it under the QA traceability directory. Best effort only.
func (h *retroHandler) tracePreStep(ctx context.Context, epicID string) {
	prompt := fmt.Sprintf(
		"Map every acceptance criterion of epic %s to the tests covering it. "+
			"List untested criteria explicitly. Respond in Markdown.", epicID)
	res, err := h.rt.invoke(ctx, h.rt.Config.Providers.Master, prompt, Retrospective)
	if err != nil {
		slog.Warn("testarch trace pre-step failed", "epic", epicID, "error", err)
		return
	}
	path := filepath.Join(h.rt.Project.QATraceabilityDir(), fmt.Sprintf("trace-epic-%s.md", epicID))
	if err := util.AtomicWriteFileString(path, res.Stdout, 0o644); err != nil {
		slog.Warn("testarch trace not saved", "path", path, "error", err)
	}
}
