//go:build !windows

package build

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the script in its own process group so that
// cancellation also stops whatever the script spawned (npm, node, ...).
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
