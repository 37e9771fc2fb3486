// Package phase implements the per-story workflow phases: the fixed phase
// graph, the guardian that halts on anomalies, and one handler per phase.
// Handlers compile a prompt, invoke one or more providers and persist the
// resulting artifacts; the loop runner owns state and sequencing.
package phase

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmad-assist/bmad-assist/internal/bench"
	"github.com/bmad-assist/bmad-assist/internal/compiler"
	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/provider"
	"github.com/bmad-assist/bmad-assist/internal/state"
)

// Phase names one stage of the story workflow.
type Phase string

const (
	CreateStory            Phase = "CREATE_STORY"
	ValidateStory          Phase = "VALIDATE_STORY"
	ValidateStorySynthesis Phase = "VALIDATE_STORY_SYNTHESIS"
	ATDD                   Phase = "ATDD"
	DevStory               Phase = "DEV_STORY"
	CodeReview             Phase = "CODE_REVIEW"
	CodeReviewSynthesis    Phase = "CODE_REVIEW_SYNTHESIS"
	TestReview             Phase = "TEST_REVIEW"
	Retrospective          Phase = "RETROSPECTIVE"
	QAPlanGenerate         Phase = "QA_PLAN_GENERATE"
	QAPlanExecute          Phase = "QA_PLAN_EXECUTE"
	QARemediate            Phase = "QA_REMEDIATE"
)

// Workflow returns the compiled workflow name backing this phase. QA phases
// have no workflow; they call into the QA engine directly.
func (p Phase) Workflow() string {
	return strings.ToLower(string(p))
}

// Result is the outcome a handler reports back to the loop.
type Result struct {
	Success bool
	Outputs map[string]string
	Err     error
}

// Message returns the failure description, empty on success.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func succeed(outputs map[string]string) Result {
	if outputs == nil {
		outputs = map[string]string{}
	}
	return Result{Success: true, Outputs: outputs}
}

func fail(err error) Result {
	return Result{Success: false, Outputs: map[string]string{}, Err: err}
}

func failf(format string, args ...any) Result {
	return fail(fmt.Errorf(format, args...))
}

// Handler executes one phase against the current state.
type Handler interface {
	Phase() Phase
	Execute(ctx context.Context, st *state.State) Result
}

// PromptCompiler is the compiler surface handlers need.
type PromptCompiler interface {
	Compile(ctx context.Context, workflowName string, params map[string]string) (*compiler.CompiledWorkflow, string, error)
}

// QAEngine is the QA plan surface the QA phases delegate to. Implemented by
// the qa package; handlers never compile prompts for these phases.
type QAEngine interface {
	GeneratePlan(ctx context.Context, st *state.State) (map[string]string, error)
	ExecutePlan(ctx context.Context, st *state.State) (map[string]string, error)
	Remediate(ctx context.Context, st *state.State) (map[string]string, error)
}

// Runtime carries the shared dependencies every handler needs.
type Runtime struct {
	Project  *paths.Project
	Config   *config.Config
	Compiler PromptCompiler
	Events   events.Publisher
	Run      *events.Run
	Bench    *bench.Store
	QA       QAEngine

	// NewProvider builds provider instances; overridable in tests.
	NewProvider func(name string, opts provider.Options) (provider.Provider, error)
}

// NewRuntime wires a runtime with the default provider factory.
func NewRuntime(project *paths.Project, cfg *config.Config, comp PromptCompiler, pub events.Publisher, run *events.Run) *Runtime {
	return &Runtime{
		Project:     project,
		Config:      cfg,
		Compiler:    comp,
		Events:      pub,
		Run:         run,
		Bench:       bench.NewStore(project),
		NewProvider: provider.New,
	}
}

// HandlerFor returns the handler implementing p.
func (rt *Runtime) HandlerFor(p Phase) (Handler, error) {
	switch p {
	case CreateStory, DevStory, ATDD, TestReview:
		return &singleHandler{rt: rt, phase: p}, nil
	case ValidateStory, CodeReview:
		return &fanoutHandler{rt: rt, phase: p}, nil
	case ValidateStorySynthesis, CodeReviewSynthesis:
		return &synthesisHandler{rt: rt, phase: p}, nil
	case Retrospective:
		return &retroHandler{rt: rt}, nil
	case QAPlanGenerate, QAPlanExecute, QARemediate:
		if rt.QA == nil {
			return nil, fmt.Errorf("phase %s requires the QA engine but none is configured", p)
		}
		return &qaHandler{rt: rt, phase: p}, nil
	default:
		return nil, fmt.Errorf("no handler registered for phase %q", p)
	}
}

// storyParams derives the compile parameters from the state cursors.
func storyParams(st *state.State) map[string]string {
	params := map[string]string{}
	if st.CurrentEpic != nil {
		params["epic_num"] = st.CurrentEpic.String()
	}
	if st.CurrentStory != "" {
		e, s, ok := strings.Cut(st.CurrentStory, ".")
		if ok {
			params["epic_num"] = e
			params["story_num"] = s
			params["story_key"] = e + "-" + s
		}
	}
	return params
}

// storyCursor splits the "E.S" cursor into its parts.
func storyCursor(st *state.State) (epicNum, storyNum string, ok bool) {
	if st.CurrentStory == "" {
		return "", "", false
	}
	epicNum, storyNum, ok = strings.Cut(st.CurrentStory, ".")
	return epicNum, storyNum, ok
}
