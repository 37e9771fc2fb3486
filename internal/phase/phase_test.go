package phase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bmad-assist/bmad-assist/internal/bench"
	"github.com/bmad-assist/bmad-assist/internal/compiler"
	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/epic"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/provider"
	"github.com/bmad-assist/bmad-assist/internal/state"
)

// fakeCompiler returns a canned prompt for every workflow.
type fakeCompiler struct {
	err      error
	compiled []string
}

func (f *fakeCompiler) Compile(ctx context.Context, name string, params map[string]string) (*compiler.CompiledWorkflow, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	f.compiled = append(f.compiled, name)
	return &compiler.CompiledWorkflow{WorkflowName: name}, "<prompt for " + name + ">", nil
}

// fakeProvider returns a scripted result per invocation.
type fakeProvider struct {
	name   string
	stdout string
	err    error

	mu      sync.Mutex
	invokes int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Invoke(ctx context.Context, req provider.Request) (*provider.Result, error) {
	f.mu.Lock()
	f.invokes++
	f.mu.Unlock()
	if req.Sink != nil {
		req.Sink.Line(f.stdout)
	}
	if f.err != nil {
		return &provider.Result{Stdout: f.stdout, Status: provider.ExitNonRetriable}, f.err
	}
	return &provider.Result{
		Stdout:     f.stdout,
		SessionID:  "sess-" + f.name,
		DurationMS: 42,
		Status:     provider.ExitSuccess,
	}, nil
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invokes
}

// testRuntime wires a runtime whose providers come from the given table.
func testRuntime(t *testing.T, cfg *config.Config, providers map[string]*fakeProvider) *Runtime {
	t.Helper()
	project := paths.New(t.TempDir())
	return &Runtime{
		Project:  project,
		Config:   cfg,
		Compiler: &fakeCompiler{},
		Bench:    bench.NewStore(project),
		NewProvider: func(name string, opts provider.Options) (provider.Provider, error) {
			p, ok := providers[name]
			if !ok {
				return nil, fmt.Errorf("no fake provider %q", name)
			}
			return p, nil
		},
	}
}

func storyState(t *testing.T, epicID, story string) *state.State {
	t.Helper()
	st := state.New()
	id, err := epic.ParseID(epicID)
	if err != nil {
		t.Fatalf("parse epic id: %v", err)
	}
	st.StartEpic(id)
	st.StartStory(story)
	return st
}
