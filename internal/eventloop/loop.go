// Package eventloop serializes voice-engine state transitions onto a single
// logical thread. Work posted while another callback is running is queued and
// executed by the goroutine already draining the queue, so callbacks never
// interleave and never re-enter each other.
package eventloop

import (
	"log/slog"
	"sync"
)

// Loop is a run-to-completion executor.
type Loop struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{logger: logger.With(slog.String("component", "eventloop"))}
}

// Post enqueues fn. If no goroutine is draining the queue, the caller drains
// it before returning; otherwise Post returns immediately.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true
	l.mu.Unlock()

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(next)
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop callback panicked", slog.Any("panic", r))
		}
	}()
	fn()
}
