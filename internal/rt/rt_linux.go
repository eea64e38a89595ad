//go:build linux

// Package rt applies real-time scheduling attributes to the calling OS
// thread. The cycle goroutine locks itself to a thread and requests
// SCHED_FIFO at a capped priority; failure (typically missing privileges)
// is reported but is never fatal.
package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetCurrentThreadPriority puts the calling OS thread under SCHED_FIFO at
// the given priority. The caller must have locked the goroutine to its
// thread with runtime.LockOSThread first.
func SetCurrentThreadPriority(prio int) error {
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(prio),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("sched_setattr(SCHED_FIFO, %d): %w", prio, err)
	}
	return nil
}
