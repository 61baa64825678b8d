//go:build windows

package procutil

import "syscall"

// detachedProcess is DETACHED_PROCESS from winbase.h.
const detachedProcess = 0x00000008

func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
	}
}
