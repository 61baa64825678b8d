//go:build !windows

package procutil

import "syscall"

// detachedAttr puts the child in its own session so it survives the parent
// and does not receive the parent's terminal signals.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
