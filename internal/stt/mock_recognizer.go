package stt

import "sync"

// MockRecognizer is an in-process Recognizer driven by Emit calls.
type MockRecognizer struct {
	slot listenerSlot

	mu        sync.Mutex
	listening bool
	locale    string
	starts    int
	stops     int
	destroys  int

	// StartErr and StopErr, when set, are returned by the next Start or Stop.
	StartErr error
	StopErr  error
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

func (m *MockRecognizer) Subscribe(l Listener) (Subscription, error) {
	return m.slot.subscribe(l)
}

func (m *MockRecognizer) Start(locale string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if err := m.StartErr; err != nil {
		m.StartErr = nil
		return err
	}
	if m.listening {
		return ErrAlreadyStarted
	}
	m.listening = true
	m.locale = locale
	return nil
}

func (m *MockRecognizer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.listening = false
	if err := m.StopErr; err != nil {
		m.StopErr = nil
		return err
	}
	return nil
}

func (m *MockRecognizer) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroys++
	m.listening = false
	return nil
}

// Listening reports whether Start has been called without a matching Stop.
func (m *MockRecognizer) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// Locale is the locale passed to the last successful Start.
func (m *MockRecognizer) Locale() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locale
}

// Calls returns how often Start, Stop and Destroy were invoked.
func (m *MockRecognizer) Calls() (starts, stops, destroys int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops, m.destroys
}

// Subscribed reports whether a listener currently owns the recognizer.
func (m *MockRecognizer) Subscribed() bool {
	_, ok := m.slot.current()
	return ok
}

func (m *MockRecognizer) EmitFinal(results ...string) { m.slot.final(results) }

func (m *MockRecognizer) EmitPartial(results ...string) { m.slot.partial(results) }

func (m *MockRecognizer) EmitError(code, message string) { m.slot.fail(code, message) }
