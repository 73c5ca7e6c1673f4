package clock

import "time"

// Timer is a cancellable, resettable one-shot timer.
type Timer interface {
	// Stop cancels the timer. It reports whether the call stopped a pending fire.
	Stop() bool
	// Reset re-arms the timer to fire after d.
	Reset(d time.Duration) bool
}

// Clock schedules callbacks. Session and detection timing is injected through it
// so tests can advance time deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
