package provider

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
)

type collectSink struct {
	lines    []string
	sessions []string
}

func (s *collectSink) Line(line string)             { s.lines = append(s.lines, line) }
func (s *collectSink) SessionStarted(id string)     { s.sessions = append(s.sessions, id) }

func TestRegistry(t *testing.T) {
	for _, name := range []string{"claude", "codex", "gemini"} {
		p, err := New(name, Options{})
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}
	_, err := New("gpt-cli", Options{})
	assert.Error(t, err)
	assert.Equal(t, []string{"claude", "codex", "gemini"}, Names())
}

func TestClassifyExit(t *testing.T) {
	assert.Equal(t, ExitSuccess, classifyExit(0))
	assert.Equal(t, ExitNonRetriable, classifyExit(1))
	assert.Equal(t, ExitNonRetriable, classifyExit(2))
	assert.Equal(t, ExitRetriable, classifyExit(137))
	assert.Equal(t, ExitRetriable, classifyExit(-1))
}

func TestRunStreamingCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	sink := &collectSink{}
	res, err := runStreaming(context.Background(), "claude", command{
		path: "sh",
		args: []string{"-c", `printf '{"type":"system","subtype":"init","session_id":"s-1"}\n{"type":"assistant"}\n'`},
	}, Request{Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, ExitSuccess, res.Status)
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, []string{"s-1"}, sink.sessions)
	assert.Len(t, sink.lines, 2)
	assert.Contains(t, res.Stdout, `"assistant"`)
}

func TestRunStreamingNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	res, err := runStreaming(context.Background(), "codex", command{
		path: "sh",
		args: []string{"-c", `echo partial; echo oops >&2; exit 3`},
	}, Request{})
	require.Error(t, err)
	var perr *bmaderrors.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, bmaderrors.CodeProviderExitCode, perr.Code)

	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, ExitNonRetriable, res.Status)
	assert.Contains(t, res.Stdout, "partial")
	assert.Contains(t, res.Stderr, "oops")
}

func TestRunStreamingTimeoutReturnsPartialOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	start := time.Now()
	res, err := runStreaming(context.Background(), "gemini", command{
		path: "sh",
		args: []string{"-c", `echo early; sleep 30`},
	}, Request{Timeout: 300 * time.Millisecond})
	require.Error(t, err)
	var perr *bmaderrors.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, bmaderrors.CodeProviderTimeout, perr.Code)

	require.NotNil(t, res)
	assert.Equal(t, ExitTimeout, res.Status)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "early")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunStreamingMissingBinary(t *testing.T) {
	_, err := runStreaming(context.Background(), "claude", command{
		path: "/nonexistent/definitely-not-a-cli",
	}, Request{})
	assert.Error(t, err)
}

func TestStderrPreviewTruncated(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	res, err := runStreaming(context.Background(), "codex", command{
		path: "sh",
		args: []string{"-c", `head -c 10000 /dev/zero | tr '\0' 'e' >&2; exit 1`},
	}, Request{})
	require.Error(t, err)
	require.NotNil(t, res)
	var perr *bmaderrors.Error
	require.ErrorAs(t, err, &perr)
	// The full stderr is kept on the result; only the error preview is capped.
	assert.GreaterOrEqual(t, len(res.Stderr), 10000)
	assert.LessOrEqual(t, len(perr.Why), stderrPreviewBytes+200)
	_ = strings.TrimSpace(perr.Why)
}
