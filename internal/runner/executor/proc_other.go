//go:build !linux

package executor

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

// killProcessGroup only reaches the direct child on this platform.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
