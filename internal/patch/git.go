package patch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/util"
)

const (
	gitCommandTimeout = 10 * time.Second
	gitOutputCap      = 2048
)

// GitIntelligence runs the configured git commands against the project and
// formats their output inside the marker tag. Providers are told not to
// re-run git themselves; the results here are authoritative for the compile.
// A project that is not a git repository yields a stub instead.
func GitIntelligence(ctx context.Context, projectRoot string, commands []string, markerTag string, vars map[string]string) string {
	if markerTag == "" {
		markerTag = "git-intelligence"
	}
	if len(commands) == 0 {
		return ""
	}
	if _, err := os.Stat(filepath.Join(projectRoot, ".git")); err != nil {
		return fmt.Sprintf("<%s>\nno-git: project is not a git repository root\n</%s>", markerTag, markerTag)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<%s>\n", markerTag)
	b.WriteString("WARNING: git state below was captured at compile time. Do NOT re-run git commands.\n")
	for _, raw := range commands {
		cmdline := raw
		for k, v := range vars {
			cmdline = strings.ReplaceAll(cmdline, "{"+k+"}", v)
		}
		fmt.Fprintf(&b, "\n$ %s\n%s\n", cmdline, runGitCommand(ctx, projectRoot, cmdline))
	}
	fmt.Fprintf(&b, "</%s>", markerTag)
	return b.String()
}

func runGitCommand(ctx context.Context, dir, cmdline string) string {
	cctx, cancel := context.WithTimeout(ctx, gitCommandTimeout)
	defer cancel()

	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return "(empty command)"
	}
	cmd := exec.CommandContext(cctx, fields[0], fields[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	text := util.TruncateString(strings.TrimSpace(string(out)), gitOutputCap)
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return text + "\n(command timed out)"
		}
		return text + fmt.Sprintf("\n(command failed: %v)", err)
	}
	return text
}
