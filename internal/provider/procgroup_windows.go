//go:build windows

package provider

import (
	"os/exec"
	"time"
)

// setProcGroup on Windows relies on exec's default kill behavior; job-object
// group termination is not wired up.
func setProcGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = 3 * time.Second
}
