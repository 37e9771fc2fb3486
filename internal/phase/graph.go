package phase

import (
	"log/slog"
	"os"

	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/state"
)

// Order is the fixed phase sequence for one story plus the epic teardown.
// Optional phases are filtered by NextPhase, never reordered.
var Order = []Phase{
	CreateStory,
	ValidateStory,
	ValidateStorySynthesis,
	ATDD,
	DevStory,
	CodeReview,
	CodeReviewSynthesis,
	TestReview,
	Retrospective,
	QAPlanGenerate,
	QAPlanExecute,
	QARemediate,
}

// Enabled reports whether a phase participates in the graph under cfg.
// ATDD and TEST_REVIEW require testarch; the QA phases require QA.
func Enabled(p Phase, cfg *config.Config) bool {
	switch p {
	case ATDD, TestReview:
		return cfg.Testarch.Enabled
	case QAPlanGenerate, QAPlanExecute, QARemediate:
		return qaEnabled(cfg)
	default:
		return true
	}
}

func qaEnabled(cfg *config.Config) bool {
	return cfg.QA.Enabled || os.Getenv("BMAD_QA_ENABLED") == "1"
}

// NextPhase returns the successor of current in Order, skipping disabled
// optional phases. An empty current yields the first phase. Returns "" when
// no enabled phase follows.
func NextPhase(current Phase, cfg *config.Config) Phase {
	start := 0
	if current != "" {
		idx := -1
		for i, p := range Order {
			if p == current {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ""
		}
		start = idx + 1
	}
	for _, p := range Order[start:] {
		if Enabled(p, cfg) {
			return p
		}
	}
	return ""
}

// LastStoryPhase returns the final per-story phase under cfg; the loop
// completes the story once it finishes. TEST_REVIEW when testarch is on,
// CODE_REVIEW_SYNTHESIS otherwise.
func LastStoryPhase(cfg *config.Config) Phase {
	if cfg.Testarch.Enabled {
		return TestReview
	}
	return CodeReviewSynthesis
}

// EpicTeardown reports whether p runs once per epic instead of per story.
func EpicTeardown(p Phase) bool {
	switch p {
	case Retrospective, QAPlanGenerate, QAPlanExecute, QARemediate:
		return true
	default:
		return false
	}
}

// Action is the guardian's verdict after a phase.
type Action int

const (
	// Continue lets the loop advance to the next phase.
	Continue Action = iota
	// Halt stops the loop; a failed phase would otherwise repeat forever.
	Halt
)

// CheckAnomaly inspects a phase result and decides whether the loop may
// advance. Failures always halt.
func CheckAnomaly(p Phase, result Result, st *state.State) Action {
	if result.Success {
		return Continue
	}
	slog.Error("guardian halting loop",
		"phase", p,
		"story", st.CurrentStory,
		"error", result.Message())
	return Halt
}
