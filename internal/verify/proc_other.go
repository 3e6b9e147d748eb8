//go:build !unix

package verify

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// interruptProcess has no graceful form here; the child is killed.
func interruptProcess(cmd *exec.Cmd) error {
	return killProcess(cmd)
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
