//go:build !linux

package rt

// SetCurrentThreadPriority is a no-op on platforms without SCHED_FIFO.
func SetCurrentThreadPriority(prio int) error {
	return nil
}
