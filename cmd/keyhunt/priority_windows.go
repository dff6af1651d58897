//go:build windows

package main

import "syscall"

const highPriorityClass = 0x00000080

var (
	kernel32              = syscall.NewLazyDLL("kernel32.dll")
	procGetCurrentProcess = kernel32.NewProc("GetCurrentProcess")
	procSetPriorityClass  = kernel32.NewProc("SetPriorityClass")
)

// raisePriority moves the process to the high priority class. REALTIME is
// avoided since it can starve the system.
func raisePriority() error {
	handle, _, _ := procGetCurrentProcess.Call()
	ret, _, err := procSetPriorityClass.Call(handle, highPriorityClass)
	if ret == 0 {
		return err
	}
	return nil
}
