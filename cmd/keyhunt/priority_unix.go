//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import "syscall"

// raisePriority lowers the nice value of the process. It needs privileges on
// most systems.
func raisePriority() error {
	return syscall.Setpriority(syscall.PRIO_PROCESS, 0, -10)
}
