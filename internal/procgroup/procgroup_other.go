//go:build !unix

// Package procgroup starts launched processes in a process group of their
// own, so cancelling one kills everything it started.
package procgroup

import "os/exec"

// Set does nothing on this platform: cancelling cmd kills cmd only.
func Set(cmd *exec.Cmd) {}
