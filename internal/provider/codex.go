package provider

import (
	"context"
	"strings"
)

var _ Provider = (*codexProvider)(nil)

// codexProvider wraps the Codex CLI. The prompt is the "-" argument read from
// stdin; output is the experimental JSON event stream.
type codexProvider struct {
	binary string
}

func newCodex(opts Options) *codexProvider {
	return &codexProvider{binary: lookPath(opts.BinaryPath, "codex")}
}

func (p *codexProvider) Name() string { return "codex" }

func (p *codexProvider) Invoke(ctx context.Context, req Request) (*Result, error) {
	args := []string{
		"exec",
		"--json",
		"--skip-git-repo-check",
		"--dangerously-bypass-approvals-and-sandbox",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, "-")
	return runStreaming(ctx, p.Name(), command{
		path:  p.binary,
		args:  args,
		stdin: strings.NewReader(req.Prompt),
	}, req)
}
