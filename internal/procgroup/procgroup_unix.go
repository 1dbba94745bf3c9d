//go:build unix

// Package procgroup starts launched processes in a process group of their
// own, so cancelling one kills everything it started.
package procgroup

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Set makes cmd the leader of a new process group and, for commands made
// with exec.CommandContext, kills the whole group when the context is done.
// It must be called before cmd is started.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
