package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// stderrPreviewBytes caps the stderr excerpt embedded in exit-code errors.
const stderrPreviewBytes = 2048

// command is the per-CLI part of an invocation: binary, args and prompt
// delivery. stdin is nil when the prompt travels on argv.
type command struct {
	path  string
	args  []string
	stdin io.Reader
}

// runStreaming launches the CLI, pumps stdout through the line stream and
// stderr into a buffer, and waits for exit. The returned Result is non-nil
// even on timeout or non-zero exit so partial output survives.
func runStreaming(ctx context.Context, name string, spec command, req Request) (*Result, error) {
	start := time.Now()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.path, spec.args...)
	setProcGroup(cmd)
	if spec.stdin != nil {
		cmd.Stdin = spec.stdin
	}
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	slog.Debug("invoking provider",
		"provider", name,
		"command", spec.path,
		"args", cmd.Args,
		"timeout", req.Timeout,
	)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, bmaderrors.ErrProviderExitCode(name, -1, "").WithCause(err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, bmaderrors.ErrProviderExitCode(name, -1, "").WithCause(err)
	}

	res := &Result{Status: ExitSuccess}
	var (
		stdoutBuf strings.Builder
		stderrBuf bytes.Buffer
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = lineStream(stdoutPipe, func(line string) {
			stdoutBuf.WriteString(line)
			stdoutBuf.WriteByte('\n')
			if res.SessionID == "" {
				if id := ExtractSessionID(line); id != "" {
					res.SessionID = id
					if s, ok := req.Sink.(SessionSink); ok {
						s.SessionStarted(id)
					}
				}
			}
			if req.Sink != nil {
				req.Sink.Line(line)
			}
		})
	}()
	go func() {
		defer wg.Done()
		_, _ = stderrBuf.ReadFrom(stderrPipe)
	}()

	if err := cmd.Start(); err != nil {
		wg.Wait()
		return nil, bmaderrors.ErrProviderExitCode(name, -1, "").WithCause(err)
	}

	// Drain both pipes before Wait closes them.
	wg.Wait()
	waitErr := cmd.Wait()

	res.Stdout = stdoutBuf.String()
	res.Stderr = stderrBuf.String()
	res.DurationMS = time.Since(start).Milliseconds()

	if ctx.Err() == context.DeadlineExceeded {
		res.Status = ExitTimeout
		res.ExitCode = -1
		if ws := exitCode(waitErr); ws != 0 {
			res.ExitCode = ws
		}
		return res, bmaderrors.ErrProviderTimeout(name, int(req.Timeout/time.Second))
	}

	if waitErr != nil {
		code := exitCode(waitErr)
		if code == 0 {
			// Wait failed without an exit status (signal, I/O error).
			code = -1
		}
		res.ExitCode = code
		res.Status = classifyExit(code)
		preview := util.TruncateString(res.Stderr, stderrPreviewBytes)
		return res, bmaderrors.ErrProviderExitCode(name, code, preview).WithCause(waitErr)
	}
	return res, nil
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return 0
}

// classifyExit maps an exit code onto the retriability buckets. A SIGKILL
// termination (137 or a negative synthetic code) is worth retrying; anything
// the CLI chose to exit with is not.
func classifyExit(code int) ExitStatus {
	switch {
	case code == 0:
		return ExitSuccess
	case code < 0 || code == 137:
		return ExitRetriable
	default:
		return ExitNonRetriable
	}
}

// lookPath resolves the CLI binary, preferring an explicit configured path.
func lookPath(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
