package probe

import "time"

// runWithTimeout executes work in its own goroutine and waits up to timeout
// for it to finish. If work does not finish in time, ok is false and the
// goroutine is abandoned — it may keep running in the background, but its
// result is discarded. This normalizes libraries (like net/http's transport)
// that don't expose uniform cancellation for every blocking call on the
// probe path. Probes that do support context cancellation should prefer it
// directly; this harness exists for the ones that don't.
func runWithTimeout[R any](work func() R, timeout time.Duration) (result R, ok bool) {
	done := make(chan R, 1)
	go func() {
		done <- work()
	}()
	select {
	case r := <-done:
		return r, true
	case <-time.After(timeout):
		var zero R
		return zero, false
	}
}
