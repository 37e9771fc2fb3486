package provider

import (
	"context"
	"strings"
)

var _ Provider = (*claudeProvider)(nil)

// claudeProvider wraps the Claude Code CLI. The prompt travels on stdin so
// large compiled prompts never hit argv length limits.
type claudeProvider struct {
	binary string
}

func newClaude(opts Options) *claudeProvider {
	return &claudeProvider{binary: lookPath(opts.BinaryPath, "claude")}
}

func (p *claudeProvider) Name() string { return "claude" }

func (p *claudeProvider) Invoke(ctx context.Context, req Request) (*Result, error) {
	args := []string{
		"-p",
		"--verbose",
		"--output-format", "stream-json",
		"--dangerously-skip-permissions",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return runStreaming(ctx, p.Name(), command{
		path:  p.binary,
		args:  args,
		stdin: strings.NewReader(req.Prompt),
	}, req)
}
