package phase

import (
	"context"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/debuglog"
	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/provider"
)

const defaultProviderTimeout = 30 * time.Minute

// providerFor builds the provider named by ref, applying any binary path
// override from config.
func (rt *Runtime) providerFor(ref config.ProviderRef) (provider.Provider, error) {
	opts := provider.Options{}
	switch ref.Provider {
	case "claude":
		opts.BinaryPath = rt.Config.Providers.ClaudePath
	case "codex":
		opts.BinaryPath = rt.Config.Providers.CodexPath
	case "gemini":
		opts.BinaryPath = rt.Config.Providers.GeminiPath
	}
	return rt.NewProvider(ref.Provider, opts)
}

func (rt *Runtime) providerTimeout() time.Duration {
	if rt.Config.Providers.TimeoutSec > 0 {
		return time.Duration(rt.Config.Providers.TimeoutSec) * time.Second
	}
	return defaultProviderTimeout
}

// invoke runs one provider against a compiled prompt. Every stdout line is
// mirrored to the per-session debug log and to the event bus. The partial
// result is returned alongside any error so callers can persist what they got.
func (rt *Runtime) invoke(ctx context.Context, ref config.ProviderRef, prompt string, p Phase) (*provider.Result, error) {
	prov, err := rt.providerFor(ref)
	if err != nil {
		return nil, err
	}

	dbg := debuglog.New("")
	defer dbg.Close()

	req := provider.Request{
		Prompt:  prompt,
		Model:   ref.Model,
		Timeout: rt.providerTimeout(),
		WorkDir: rt.Project.Root,
		Sink: &teeSink{
			rt:       rt,
			phase:    p,
			provider: ref.DisplayModel(),
			debug:    dbg,
		},
	}
	return prov.Invoke(ctx, req)
}

// InvokeMaster runs the master provider on a raw prompt, outside any
// workflow. Used for the interactive debug prompt and the QA engine.
func (rt *Runtime) InvokeMaster(ctx context.Context, prompt string) (string, error) {
	res, err := rt.invoke(ctx, rt.Config.Providers.Master, prompt, "")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// teeSink fans each provider stdout line into the debug log and, when an
// event bus is attached, the dashboard output stream.
type teeSink struct {
	rt       *Runtime
	phase    Phase
	provider string
	debug    *debuglog.Logger
}

func (t *teeSink) Line(line string) {
	t.debug.Line(line)
	if t.rt.Events != nil && t.rt.Run != nil {
		t.rt.Events.Publish(t.rt.Run.Event(events.EventOutput, events.OutputLine{
			Provider: t.provider,
			Phase:    string(t.phase),
			Line:     line,
		}))
	}
}

func (t *teeSink) SessionStarted(sessionID string) {
	t.debug.SessionStarted(sessionID)
}
