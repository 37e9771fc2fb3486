// Package loop drives the autonomous development loop: it owns the loop
// state, asks the phase graph what to run next, dispatches handlers, keeps
// the sprint-status ledger in sync, and honors pause/stop requests.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/epic"
	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/lock"
	"github.com/bmad-assist/bmad-assist/internal/notify"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/phase"
	"github.com/bmad-assist/bmad-assist/internal/sprint"
	"github.com/bmad-assist/bmad-assist/internal/state"
)

// pausePollInterval is how often the runner re-checks the pause flag file.
const pausePollInterval = time.Second

// Options tune a Runner.
type Options struct {
	// Owner identifies this runner in the loop lock; user@host when empty.
	Owner string
	// Stepper, when set, is consulted between phases (debug single-step).
	Stepper Stepper
	// Confirmer resolves high-divergence sprint repairs. Auto-cancel when nil.
	Confirmer sprint.Confirmer
}

// Runner executes the loop for one project.
type Runner struct {
	project *paths.Project
	cfg     *config.Config
	rt      *phase.Runtime
	pub     events.Publisher
	run     *events.Run
	locker  *lock.Locker
	notify  *notify.Dispatcher
	recon   *sprint.Reconciler
	stepper Stepper

	handlerFor func(phase.Phase) (phase.Handler, error)
	syncing    atomic.Bool
	shutdown   atomic.Bool
}

// New wires a runner around an assembled phase runtime.
func New(project *paths.Project, cfg *config.Config, rt *phase.Runtime, opts Options) *Runner {
	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer = sprint.AutoCancelConfirmer{}
	}
	return &Runner{
		project:    project,
		cfg:        cfg,
		rt:         rt,
		pub:        rt.Events,
		run:        rt.Run,
		locker:     lock.New(project, opts.Owner),
		notify:     notify.NewDispatcher(cfg),
		recon:      sprint.NewReconciler(project, cfg.Sprint.DivergenceThreshold, confirmer),
		stepper:    opts.Stepper,
		handlerFor: rt.HandlerFor,
	}
}

// Run executes the loop until the project completes, a phase fails, or a
// stop is requested. The returned error is nil for completion and clean
// interruption.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.locker.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := r.locker.Release(); err != nil {
			slog.Warn("loop lock not released", "error", err)
		}
	}()
	stopHeartbeat := r.locker.StartHeartbeat(ctx, lock.DefaultHeartbeatInterval)
	defer stopHeartbeat()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			slog.Info("shutdown requested")
			r.shutdown.Store(true)
		}
	}()

	st, err := r.initState()
	if err != nil {
		return err
	}
	// An empty story with a phase still pending means the run halted during
	// the epic teardown (retrospective or QA), where the story cursor is
	// already cleared; that epic still needs finishing.
	if st.CurrentStory == "" && st.CurrentPhase == "" {
		slog.Info("no incomplete stories, nothing to do")
		return nil
	}
	config.WriteEffectiveSnapshot(r.project, r.cfg)

	// CurrentPhase names the phase to execute next, so a halted run
	// re-runs the failing phase instead of skipping it.
	current := phase.Phase(st.CurrentPhase)
	if current == "" {
		current = phase.NextPhase("", r.cfg)
	} else if !phase.Enabled(current, r.cfg) {
		// A feature flag was turned off between runs.
		current = phase.NextPhase(current, r.cfg)
	}

	for {
		if r.stopRequested(ctx) {
			return r.finish(st, "interrupted")
		}
		if err := r.waitIfPaused(ctx, st); err != nil {
			return r.finish(st, "interrupted")
		}

		if current == "" {
			done, err := r.completeEpic(st)
			if err != nil {
				return err
			}
			if done {
				return r.finish(st, "completed")
			}
			current = phase.NextPhase("", r.cfg)
			continue
		}

		if r.stepper != nil {
			action := r.step(ctx, current)
			if action == StepQuit {
				return r.finish(st, "interrupted")
			}
		}

		result, err := r.executePhase(ctx, current, st)
		if err != nil {
			return err
		}
		if phase.CheckAnomaly(current, result, st) == phase.Halt {
			r.saveState(st)
			r.notify.Dispatch(ctx, notify.Notification{
				Kind:    notify.KindError,
				Phase:   string(current),
				Story:   st.CurrentStory,
				Message: result.Message(),
			})
			return fmt.Errorf("phase %s failed: %s", current, result.Message())
		}

		current = r.advance(current, st)
		st.CurrentPhase = string(current)
		r.saveState(st)
		r.syncSprint(st)
	}
}

// executePhase runs one phase with status events around it.
func (r *Runner) executePhase(ctx context.Context, p phase.Phase, st *state.State) (phase.Result, error) {
	st.StartPhase(string(p))
	r.saveState(st)

	r.publishWorkflowStatus(p, "started", st, 0, "")
	r.notify.Dispatch(ctx, notify.Notification{
		Kind:  notify.KindPhaseStarted,
		Phase: string(p),
		Story: st.CurrentStory,
	})

	h, err := r.handlerFor(p)
	if err != nil {
		return phase.Result{}, err
	}
	result := h.Execute(ctx, st)
	duration := st.PhaseDurationMS()

	status := "completed"
	if !result.Success {
		status = "failed"
	}
	r.publishWorkflowStatus(p, status, st, duration, result.Message())
	r.notify.Dispatch(ctx, notify.Notification{
		Kind:    notify.KindPhaseFinished,
		Phase:   string(p),
		Story:   st.CurrentStory,
		Message: status,
		Details: result.Outputs,
	})
	return result, nil
}

// advance computes the phase to run after p completed. Finishing the last
// per-story phase completes the story and either wraps to CREATE_STORY for
// the next one or falls through to the epic teardown.
func (r *Runner) advance(p phase.Phase, st *state.State) phase.Phase {
	if p != phase.LastStoryPhase(r.cfg) {
		return phase.NextPhase(p, r.cfg)
	}

	finished := st.CurrentStory
	st.CompleteStory()
	r.publish(events.EventStoryStatus, events.StoryStatus{Key: finished, Status: "done"})

	next, ok := r.nextStory(st)
	if !ok {
		// Epic teardown: retrospective and optional QA phases.
		r.publish(events.EventStoryTransition, events.StoryTransition{From: finished, To: ""})
		return phase.NextPhase(p, r.cfg)
	}
	st.StartStory(next)
	r.publish(events.EventStoryTransition, events.StoryTransition{From: finished, To: next})
	return phase.NextPhase("", r.cfg)
}

// completeEpic closes out the current epic and moves the cursors to the next
// incomplete one. Returns true when the whole project is done.
func (r *Runner) completeEpic(st *state.State) (bool, error) {
	finishedEpic := st.CurrentEpic
	st.CompleteEpic()
	r.saveState(st)
	if finishedEpic != nil {
		slog.Info("epic completed", "epic", finishedEpic.String())
	}

	epics, err := epic.DiscoverEpics(r.project.EpicsDir())
	if err != nil {
		return false, fmt.Errorf("discover epics: %w", err)
	}
	for _, ep := range epics {
		if isEpicCompleted(st, ep.ID) {
			continue
		}
		story, ok := firstIncompleteStory(st, ep)
		if !ok {
			st.CompletedEpics = append(st.CompletedEpics, ep.ID)
			continue
		}
		st.StartEpic(ep.ID)
		st.StartStory(story)
		r.publish(events.EventStoryTransition, events.StoryTransition{To: story})
		r.saveState(st)
		return false, nil
	}
	return true, nil
}

// nextStory finds the next incomplete story in the current epic.
func (r *Runner) nextStory(st *state.State) (string, bool) {
	if st.CurrentEpic == nil {
		return "", false
	}
	ep, err := epic.FindEpic(r.project.EpicsDir(), *st.CurrentEpic)
	if err != nil {
		slog.Warn("current epic not found on disk", "epic", st.CurrentEpic.String(), "error", err)
		return "", false
	}
	return firstIncompleteStory(st, ep)
}

func firstIncompleteStory(st *state.State, ep *epic.Epic) (string, bool) {
	for _, story := range ep.Stories {
		if !st.IsStoryCompleted(story.Ref()) {
			return story.Ref(), true
		}
	}
	return "", false
}

func isEpicCompleted(st *state.State, id epic.ID) bool {
	for _, done := range st.CompletedEpics {
		if done == id {
			return true
		}
	}
	return false
}

// initState loads the persisted state or initializes it from the epic docs
// and the sprint-status ledger.
func (r *Runner) initState() (*state.State, error) {
	st, err := state.Load(r.project)
	if err != nil {
		return nil, err
	}
	if st != nil {
		return st, nil
	}

	st = state.New()
	epics, err := epic.DiscoverEpics(r.project.EpicsDir())
	if err != nil {
		return nil, fmt.Errorf("discover epics: %w", err)
	}
	if len(epics) == 0 {
		return nil, fmt.Errorf("no epic documents under %s; write docs/epics/epic-1-*.md first", r.project.EpicsDir())
	}

	// Stories the sprint ledger already marks done count as completed.
	ledger := loadLedgerStatuses(r.project)
	for _, ep := range epics {
		for _, story := range ep.Stories {
			if ledger[story.Key()] == "done" {
				st.CompletedStories = append(st.CompletedStories, story.Ref())
			}
		}
	}

	for _, ep := range epics {
		if story, ok := firstIncompleteStory(st, ep); ok {
			st.StartEpic(ep.ID)
			st.StartStory(story)
			break
		}
		st.CompletedEpics = append(st.CompletedEpics, ep.ID)
	}
	r.saveState(st)
	return st, nil
}

func loadLedgerStatuses(project *paths.Project) map[string]string {
	data, err := os.ReadFile(project.SprintStatusFile())
	if err != nil {
		return nil
	}
	doc, err := sprint.ParseDocument(data)
	if err != nil {
		slog.Warn("sprint-status unreadable during init", "error", err)
		return nil
	}
	return doc.Entries()
}

// waitIfPaused blocks while the pause flag file exists, keeping heartbeats
// flowing so dashboard clients stay connected.
func (r *Runner) waitIfPaused(ctx context.Context, st *state.State) error {
	if _, err := os.Stat(r.project.PauseFlag()); err != nil {
		return nil
	}

	r.publish(events.EventLoopPaused, nil)
	r.notify.Dispatch(ctx, notify.Notification{Kind: notify.KindPaused, Story: st.CurrentStory})
	r.syncSprint(st)
	slog.Info("loop paused", "flag", r.project.PauseFlag())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
		if r.shutdown.Load() {
			return context.Canceled
		}
		if _, err := os.Stat(r.project.PauseFlag()); err != nil {
			r.publish(events.EventLoopResumed, nil)
			r.notify.Dispatch(ctx, notify.Notification{Kind: notify.KindResumed, Story: st.CurrentStory})
			slog.Info("loop resumed")
			return nil
		}
		r.publish(events.EventHeartbeat, nil)
	}
}

// syncSprint reconciles the sprint-status ledger. The guard keeps a sync
// from re-entering itself through event callbacks.
func (r *Runner) syncSprint(st *state.State) {
	if !r.syncing.CompareAndSwap(false, true) {
		return
	}
	defer r.syncing.Store(false)

	res, err := r.recon.Reconcile(st)
	if err != nil {
		slog.Warn("sprint-status sync failed", "error", err)
		return
	}
	if res.Applied && res.Changed+res.Added > 0 {
		r.publish(events.EventStatus, fmt.Sprintf("sprint-status synced: %d changed, %d added", res.Changed, res.Added))
	}
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	return r.shutdown.Load() || ctx.Err() != nil
}

// step consults the debug stepper, feeding any free-form prompt to the
// master provider before re-asking.
func (r *Runner) step(ctx context.Context, next phase.Phase) StepAction {
	for {
		action, prompt := r.stepper.Step(ctx, next)
		if action != StepPrompt {
			return action
		}
		output, err := r.rt.InvokeMaster(ctx, prompt)
		if err != nil {
			slog.Warn("interactive prompt failed", "error", err)
			continue
		}
		fmt.Fprintln(os.Stdout, output)
	}
}

func (r *Runner) finish(st *state.State, reason string) error {
	r.saveState(st)
	r.syncSprint(st)
	if r.rt.Bench != nil {
		r.rt.Bench.WriteReport()
	}
	summary := fmt.Sprintf("run %s: %d stories and %d epics completed",
		reason, len(st.CompletedStories), len(st.CompletedEpics))
	slog.Info("loop finished", "reason", reason, "summary", summary)
	r.notify.Dispatch(context.Background(), notify.Notification{
		Kind:    notify.KindRunSummary,
		Message: summary,
	})
	return nil
}

func (r *Runner) saveState(st *state.State) {
	if err := st.Save(r.project); err != nil {
		slog.Error("state save failed", "error", err)
	}
}

func (r *Runner) publish(t events.EventType, data any) {
	if r.pub == nil || r.run == nil {
		return
	}
	r.pub.Publish(r.run.Event(t, data))
}

func (r *Runner) publishWorkflowStatus(p phase.Phase, status string, st *state.State, duration int64, errMsg string) {
	epicID := ""
	if st.CurrentEpic != nil {
		epicID = st.CurrentEpic.String()
	}
	r.publish(events.EventWorkflowStatus, events.WorkflowStatus{
		Phase:      string(p),
		Status:     status,
		Story:      st.CurrentStory,
		Epic:       epicID,
		DurationMS: duration,
		Error:      errMsg,
	})
}
