//go:build !windows

package provider

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcGroup runs the CLI in its own process group and makes context
// cancellation SIGKILL the whole group, so spawned children (test runners,
// shells) die with the provider instead of being orphaned.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// Let children drain briefly after the group kill before the pipes are
	// forcibly closed.
	cmd.WaitDelay = 3 * time.Second
}
