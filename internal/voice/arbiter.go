package voice

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrMicBusy is returned when the other consumer owns the microphone.
var ErrMicBusy = errors.New("voice: microphone busy")

// Consumer names a party that records from the microphone.
type Consumer string

const (
	ConsumerCommands  Consumer = "commands"
	ConsumerDetection Consumer = "detection"
)

// Holder is told when the arbiter takes the microphone away or gives it back.
type Holder interface {
	Suspend()
	Resume()
}

// Arbiter grants the microphone to one consumer at a time. Detection preempts
// command listening; a consumer refused or preempted is remembered as pending
// and resumed once the owner releases.
type Arbiter struct {
	mu       sync.Mutex
	owner    Consumer
	pending  map[Consumer]bool
	holders  map[Consumer]Holder
	onChange func(owner Consumer)
	logger   *slog.Logger
}

func NewArbiter(logger *slog.Logger) *Arbiter {
	return &Arbiter{
		pending: make(map[Consumer]bool),
		holders: make(map[Consumer]Holder),
		logger:  logger.With(slog.String("component", "mic-arbiter")),
	}
}

// Register sets the holder notified on preemption and hand-back for c.
func (a *Arbiter) Register(c Consumer, h Holder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.holders[c] = h
}

// OnOwnerChange registers fn to observe every ownership transition. "" means free.
func (a *Arbiter) OnOwnerChange(fn func(owner Consumer)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Owner returns the current owner, or "" when the microphone is free.
func (a *Arbiter) Owner() Consumer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// Pending reports whether c is waiting for the microphone.
func (a *Arbiter) Pending(c Consumer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending[c]
}

// Acquire grants the microphone to c. Acquiring what c already owns is a no-op.
func (a *Arbiter) Acquire(c Consumer) error {
	a.mu.Lock()
	if a.owner == c {
		a.mu.Unlock()
		return nil
	}
	if a.owner == "" {
		a.owner = c
		delete(a.pending, c)
		notify := a.onChange
		a.mu.Unlock()
		a.logger.Debug("microphone acquired", slog.String("consumer", string(c)))
		if notify != nil {
			notify(c)
		}
		return nil
	}
	if c != ConsumerDetection {
		a.pending[c] = true
		a.mu.Unlock()
		return ErrMicBusy
	}

	previous := a.owner
	a.owner = c
	delete(a.pending, c)
	a.pending[previous] = true
	holder := a.holders[previous]
	notify := a.onChange
	a.mu.Unlock()

	a.logger.Info("microphone preempted", slog.String("from", string(previous)), slog.String("to", string(c)))
	if holder != nil {
		holder.Suspend()
	}
	if notify != nil {
		notify(c)
	}
	return nil
}

// Release gives up c's claim, owned or pending. If c owned the microphone
// and another consumer is pending, that consumer becomes owner and resumes.
func (a *Arbiter) Release(c Consumer) {
	a.mu.Lock()
	delete(a.pending, c)
	if a.owner != c {
		a.mu.Unlock()
		return
	}
	a.owner = ""
	var next Consumer
	for _, candidate := range []Consumer{ConsumerDetection, ConsumerCommands} {
		if a.pending[candidate] {
			next = candidate
			break
		}
	}
	var holder Holder
	if next != "" {
		a.owner = next
		delete(a.pending, next)
		holder = a.holders[next]
	}
	notify := a.onChange
	a.mu.Unlock()

	a.logger.Debug("microphone released", slog.String("consumer", string(c)), slog.String("next", string(next)))
	if notify != nil {
		notify(next)
	}
	if holder != nil {
		holder.Resume()
	}
}

// Claim binds the arbiter to one consumer.
func (a *Arbiter) Claim(c Consumer) *Claim {
	return &Claim{arbiter: a, consumer: c}
}

// Claim is an Arbiter seen from a single consumer.
type Claim struct {
	arbiter  *Arbiter
	consumer Consumer
}

func (c *Claim) Acquire() error { return c.arbiter.Acquire(c.consumer) }
func (c *Claim) Release()       { c.arbiter.Release(c.consumer) }
func (c *Claim) Held() bool     { return c.arbiter.Owner() == c.consumer }
