//go:build !linux

package processmgr

import (
	"os"
	"os/exec"
)

func configureCmd(*exec.Cmd) {}

func interruptCmd(cmd *exec.Cmd) error {
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

func killCmd(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
