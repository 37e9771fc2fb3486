package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/phase"
	"github.com/bmad-assist/bmad-assist/internal/state"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// fakeHandler records executions and returns scripted results.
type fakeHandler struct {
	p    phase.Phase
	exec func(p phase.Phase, st *state.State) phase.Result
}

func (h *fakeHandler) Phase() phase.Phase { return h.p }
func (h *fakeHandler) Execute(ctx context.Context, st *state.State) phase.Result {
	return h.exec(h.p, st)
}

type phaseLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *phaseLog) add(p phase.Phase, story string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s@%s", p, story))
}

func (l *phaseLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func writeEpic(t *testing.T, project *paths.Project, id string, stories ...string) {
	t.Helper()
	content := fmt.Sprintf("---\nepic_num: %s\ntitle: Epic %s\nstatus: in-progress\n---\n\n", id, id)
	for i, title := range stories {
		content += fmt.Sprintf("### Story %s.%d: %s\n\nBody.\n\n", id, i+1, title)
	}
	path := filepath.Join(project.EpicsDir(), fmt.Sprintf("epic-%s-test.md", id))
	require.NoError(t, util.AtomicWriteFileString(path, content, 0o644))
}

func newTestRunner(t *testing.T, project *paths.Project, cfg *config.Config, exec func(p phase.Phase, st *state.State) phase.Result) *Runner {
	t.Helper()
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)
	rt := phase.NewRuntime(project, cfg, nil, pub, events.NewRun())
	r := New(project, cfg, rt, Options{Owner: "test@runner"})
	r.handlerFor = func(p phase.Phase) (phase.Handler, error) {
		return &fakeHandler{p: p, exec: exec}, nil
	}
	return r
}

func TestRunDrivesProjectToCompletion(t *testing.T) {
	project := paths.New(t.TempDir())
	writeEpic(t, project, "1", "First", "Second")
	writeEpic(t, project, "2", "Third")
	cfg := config.Default()

	log := &phaseLog{}
	r := newTestRunner(t, project, cfg, func(p phase.Phase, st *state.State) phase.Result {
		log.add(p, st.CurrentStory)
		return phase.Result{Success: true, Outputs: map[string]string{}}
	})

	require.NoError(t, r.Run(context.Background()))

	perStory := []phase.Phase{
		phase.CreateStory, phase.ValidateStory, phase.ValidateStorySynthesis,
		phase.DevStory, phase.CodeReview, phase.CodeReviewSynthesis,
	}
	var want []string
	for _, story := range []string{"1.1", "1.2"} {
		for _, p := range perStory {
			want = append(want, fmt.Sprintf("%s@%s", p, story))
		}
	}
	want = append(want, "RETROSPECTIVE@")
	for _, p := range perStory {
		want = append(want, fmt.Sprintf("%s@%s", p, "2.1"))
	}
	want = append(want, "RETROSPECTIVE@")
	assert.Equal(t, want, log.all())

	st, err := state.Load(project)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.ElementsMatch(t, []string{"1.1", "1.2", "2.1"}, st.CompletedStories)
	assert.Len(t, st.CompletedEpics, 2)
	assert.Empty(t, st.CurrentStory)

	// The reconciler ran and marked the stories done.
	data, err := os.ReadFile(project.SprintStatusFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "done")
}

func TestRunHaltsOnPhaseFailureAndResumesThere(t *testing.T) {
	project := paths.New(t.TempDir())
	writeEpic(t, project, "1", "Only")
	cfg := config.Default()

	log := &phaseLog{}
	r := newTestRunner(t, project, cfg, func(p phase.Phase, st *state.State) phase.Result {
		log.add(p, st.CurrentStory)
		if p == phase.DevStory {
			return phase.Result{Err: errors.New("provider timeout")}
		}
		return phase.Result{Success: true}
	})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEV_STORY")

	st, err := state.Load(project)
	require.NoError(t, err)
	assert.Equal(t, "DEV_STORY", st.CurrentPhase)

	// A new run re-executes the failing phase, not its successor.
	log2 := &phaseLog{}
	r2 := newTestRunner(t, project, cfg, func(p phase.Phase, st *state.State) phase.Result {
		log2.add(p, st.CurrentStory)
		return phase.Result{Success: true}
	})
	require.NoError(t, r2.Run(context.Background()))
	assert.Equal(t, "DEV_STORY@1.1", log2.all()[0])
}

func TestRunResumesHaltedEpicTeardown(t *testing.T) {
	project := paths.New(t.TempDir())
	writeEpic(t, project, "1", "Only")
	cfg := config.Default()

	// The story cursor is already cleared by the time the teardown runs, so
	// a halt here must still leave a resumable state.
	r := newTestRunner(t, project, cfg, func(p phase.Phase, st *state.State) phase.Result {
		if p == phase.Retrospective {
			return phase.Result{Err: errors.New("provider timeout")}
		}
		return phase.Result{Success: true}
	})
	err := r.Run(context.Background())
	require.Error(t, err)

	st, err := state.Load(project)
	require.NoError(t, err)
	assert.Equal(t, string(phase.Retrospective), st.CurrentPhase)
	assert.Empty(t, st.CurrentStory)

	log := &phaseLog{}
	r2 := newTestRunner(t, project, cfg, func(p phase.Phase, st *state.State) phase.Result {
		log.add(p, st.CurrentStory)
		return phase.Result{Success: true}
	})
	require.NoError(t, r2.Run(context.Background()))

	// The second run picks the teardown back up and closes out the epic.
	require.NotEmpty(t, log.all())
	assert.Equal(t, "RETROSPECTIVE@", log.all()[0])

	st, err = state.Load(project)
	require.NoError(t, err)
	assert.Len(t, st.CompletedEpics, 1)
	assert.Empty(t, st.CurrentPhase)
}

func TestInitStateHonorsSprintLedger(t *testing.T) {
	project := paths.New(t.TempDir())
	writeEpic(t, project, "1", "Done already", "Next up")
	require.NoError(t, util.AtomicWriteFileString(project.SprintStatusFile(),
		"development_status:\n  1-1-done-already: done\n  1-2-next-up: backlog\n", 0o644))

	cfg := config.Default()
	r := newTestRunner(t, project, cfg, nil)
	st, err := r.initState()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1"}, st.CompletedStories)
	assert.Equal(t, "1.2", st.CurrentStory)
	require.NotNil(t, st.CurrentEpic)
	assert.Equal(t, "1", st.CurrentEpic.String())
}

func TestRunWithoutEpicsFails(t *testing.T) {
	project := paths.New(t.TempDir())
	r := newTestRunner(t, project, config.Default(), nil)
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docs/epics")
}

func TestPauseFlagPausesAndResumes(t *testing.T) {
	project := paths.New(t.TempDir())
	writeEpic(t, project, "1", "Only")
	cfg := config.Default()

	release := make(chan struct{})
	var once sync.Once
	r := newTestRunner(t, project, cfg, func(p phase.Phase, st *state.State) phase.Result {
		once.Do(func() {
			require.NoError(t, util.AtomicWriteFileString(project.PauseFlag(), "", 0o644))
			go func() {
				<-release
				os.Remove(project.PauseFlag())
			}()
		})
		return phase.Result{Success: true}
	})

	pub := r.pub
	ch := pub.Subscribe()
	defer pub.Unsubscribe(ch)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	waitFor(t, ch, events.EventLoopPaused)
	close(release)
	waitFor(t, ch, events.EventLoopResumed)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish after resume")
	}
}

func waitFor(t *testing.T, ch <-chan events.Event, want events.EventType) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return
			}
		case <-deadline:
			t.Fatalf("event %s never arrived", want)
		}
	}
}

func TestRunInterruptedByContext(t *testing.T) {
	project := paths.New(t.TempDir())
	writeEpic(t, project, "1", "Only")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(t, project, config.Default(), func(p phase.Phase, st *state.State) phase.Result {
		return phase.Result{Success: true}
	})
	require.NoError(t, r.Run(ctx))

	st, err := state.Load(project)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Empty(t, st.CompletedStories)
}
