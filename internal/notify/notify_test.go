package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/config"
)

type recordingSink struct {
	name string
	got  []Notification
	err  error
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Notify(_ context.Context, n Notification) error {
	s.got = append(s.got, n)
	return s.err
}

func TestDispatchFansOutAndSwallowsFailures(t *testing.T) {
	d := &Dispatcher{}
	ok := &recordingSink{name: "ok"}
	broken := &recordingSink{name: "broken", err: errors.New("smtp down")}
	d.Register(broken)
	d.Register(ok)

	d.Dispatch(context.Background(), Notification{Kind: KindPhaseFinished, Phase: "DEV_STORY"})

	require.Len(t, ok.got, 1)
	assert.Equal(t, KindPhaseFinished, ok.got[0].Kind)
	assert.False(t, ok.got[0].Time.IsZero())
	require.Len(t, broken.got, 1)
}

func TestCommandSinkReceivesJSONOnStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "hook.json")
	sink := &CommandSink{Command: "cat > " + out}

	err := sink.Notify(context.Background(), Notification{
		Kind:    KindRunSummary,
		Message: "3 stories completed",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"run_summary"`)
	assert.Contains(t, string(data), "3 stories completed")
}

func TestCommandSinkReportsFailure(t *testing.T) {
	sink := &CommandSink{Command: "exit 7"}
	err := sink.Notify(context.Background(), Notification{Kind: KindError})
	require.Error(t, err)
}

func TestNewDispatcherWiresCommandSink(t *testing.T) {
	cfg := config.Default()
	assert.Len(t, NewDispatcher(cfg).sinks, 1)

	cfg.Notify.Command = "true"
	assert.Len(t, NewDispatcher(cfg).sinks, 2)
}
