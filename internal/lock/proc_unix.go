//go:build unix

package lock

import (
	"errors"
	"syscall"
)

// processAlive probes whether a process with the given pid exists on this
// host using a zero signal. EPERM means the process exists but belongs to
// another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
