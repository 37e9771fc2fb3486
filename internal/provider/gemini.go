package provider

import (
	"context"
)

var _ Provider = (*geminiProvider)(nil)

// geminiProvider wraps the Gemini CLI. Unlike claude and codex the prompt is
// delivered on argv; the CLI rejects piped stdin in stream-json mode.
type geminiProvider struct {
	binary string
}

func newGemini(opts Options) *geminiProvider {
	return &geminiProvider{binary: lookPath(opts.BinaryPath, "gemini")}
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Invoke(ctx context.Context, req Request) (*Result, error) {
	args := []string{
		"--output-format", "stream-json",
		"--yolo",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, "--prompt", req.Prompt)
	return runStreaming(ctx, p.Name(), command{
		path: p.binary,
		args: args,
	}, req)
}
