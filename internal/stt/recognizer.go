package stt

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrSubscribed is returned when a recognizer already has a live subscription.
	ErrSubscribed = errors.New("stt: recognizer already has a subscriber")
	// ErrAlreadyStarted is returned by Start while the recognizer is listening.
	ErrAlreadyStarted = errors.New("stt: recognizer already started")
)

// Error codes reported through Listener.OnError.
const (
	CodeNoSpeech       = "no_speech"
	CodeNoMatch        = "no_match"
	CodeAlreadyStarted = "already_started"
	CodeTranscription  = "transcription_failed"
	CodeTransport      = "transport"
)

// Listener receives recognizer callbacks. Nil fields are ignored.
type Listener struct {
	OnFinalResults   func(results []string)
	OnPartialResults func(results []string)
	OnError          func(code, message string)
}

// Subscription is an owned claim on a recognizer's callbacks.
type Subscription interface {
	Unsubscribe()
}

// Recognizer is a continuous speech recognizer with a single callback owner.
type Recognizer interface {
	Subscribe(l Listener) (Subscription, error)
	Start(locale string) error
	Stop() error
	Destroy() error
}

// Benign reports whether a recognizer error is a routine condition that should
// be retried without telling the user.
func Benign(code, message string) bool {
	switch code {
	case CodeNoSpeech, CodeNoMatch, CodeAlreadyStarted:
		return true
	}
	msg := strings.ToLower(message)
	return strings.Contains(msg, "no speech") ||
		strings.Contains(msg, "no match") ||
		strings.Contains(msg, "already started")
}

// listenerSlot holds at most one subscriber and hands out generation-tagged
// subscriptions so a stale Unsubscribe cannot evict a newer owner.
type listenerSlot struct {
	mu       sync.Mutex
	listener *Listener
	gen      uint64
}

func (s *listenerSlot) subscribe(l Listener) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil, ErrSubscribed
	}
	s.gen++
	s.listener = &l
	return &slotSubscription{slot: s, gen: s.gen}, nil
}

func (s *listenerSlot) current() (Listener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return Listener{}, false
	}
	return *s.listener, true
}

func (s *listenerSlot) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.listener = nil
	}
}

func (s *listenerSlot) final(results []string) {
	if l, ok := s.current(); ok && l.OnFinalResults != nil {
		l.OnFinalResults(results)
	}
}

func (s *listenerSlot) partial(results []string) {
	if l, ok := s.current(); ok && l.OnPartialResults != nil {
		l.OnPartialResults(results)
	}
}

func (s *listenerSlot) fail(code, message string) {
	if l, ok := s.current(); ok && l.OnError != nil {
		l.OnError(code, message)
	}
}

type slotSubscription struct {
	slot *listenerSlot
	once sync.Once
	gen  uint64
}

func (s *slotSubscription) Unsubscribe() {
	s.once.Do(func() { s.slot.release(s.gen) })
}
