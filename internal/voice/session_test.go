package voice

import (
	"errors"
	"testing"
	"time"

	"github.com/loqalabs/loqa-robin/internal/clock"
	"github.com/loqalabs/loqa-robin/internal/eventloop"
	"github.com/loqalabs/loqa-robin/internal/intent"
	"github.com/loqalabs/loqa-robin/internal/stt"
)

type recordingHandler struct {
	commands  []string
	questions []string
	dropped   []string
	errors    []string
}

func (h *recordingHandler) HandleCommand(cmd intent.Command) { h.commands = append(h.commands, cmd.Name) }
func (h *recordingHandler) HandleQuestion(q string)          { h.questions = append(h.questions, q) }
func (h *recordingHandler) HandleDropped(text string)        { h.dropped = append(h.dropped, text) }
func (h *recordingHandler) HandleRecognizerError(code, _ string) {
	h.errors = append(h.errors, code)
}

type sessionFixture struct {
	session    *Session
	recognizer *stt.MockRecognizer
	clock      *clock.Fake
	loop       *eventloop.Loop
	handler    *recordingHandler
	states     []State
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	logger := discardLogger()
	f := &sessionFixture{
		recognizer: stt.NewMockRecognizer(),
		clock:      clock.NewFake(time.Unix(0, 0)),
		loop:       eventloop.New(logger),
		handler:    &recordingHandler{},
	}
	f.session = NewSession(DefaultSessionConfig(), f.recognizer, testMatcher(t), f.handler, f.clock, f.loop, logger)
	f.session.OnStateChange(func(s State) { f.states = append(f.states, s) })
	f.loop.Post(f.session.Start)
	return f
}

func TestSessionStartListens(t *testing.T) {
	f := newSessionFixture(t)
	if !f.recognizer.Subscribed() || !f.recognizer.Listening() {
		t.Fatal("expected subscribed and listening recognizer")
	}
	if f.recognizer.Locale() != "en-US" {
		t.Fatalf("unexpected locale %q", f.recognizer.Locale())
	}
	if f.session.State() != StateListening {
		t.Fatalf("expected listening, got %s", f.session.State())
	}

	f.loop.Post(f.session.Start)
	if starts, _, _ := f.recognizer.Calls(); starts != 1 {
		t.Fatalf("second start should be a no-op, starts=%d", starts)
	}
}

func TestSessionDebounceUsesLastTranscript(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("robin forecast")
	f.clock.Advance(300 * time.Millisecond)
	f.recognizer.EmitFinal("robin history")
	f.clock.Advance(300 * time.Millisecond)
	f.recognizer.EmitFinal("robin", "robin settings")
	if f.session.State() != StateProcessing {
		t.Fatalf("expected processing, got %s", f.session.State())
	}
	f.clock.Advance(599 * time.Millisecond)
	if len(f.handler.commands) != 0 {
		t.Fatal("dispatched before the debounce window closed")
	}
	f.clock.Advance(time.Millisecond)

	if len(f.handler.commands) != 1 || f.handler.commands[0] != "Settings" {
		t.Fatalf("expected one Settings dispatch, got %v", f.handler.commands)
	}
	if f.session.LastTranscript() != "robin settings" {
		t.Fatalf("unexpected last transcript %q", f.session.LastTranscript())
	}
}

func TestSessionCooldownDropsCommands(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("robin forecast")
	f.clock.Advance(600 * time.Millisecond)
	if f.session.State() != StateCooldown {
		t.Fatalf("expected cooldown, got %s", f.session.State())
	}
	if f.recognizer.Listening() {
		t.Fatal("recognizer should stop while cooling down")
	}

	f.recognizer.EmitFinal("robin history")
	f.clock.Advance(600 * time.Millisecond)
	if len(f.handler.commands) != 1 {
		t.Fatalf("expected no dispatch during cooldown, got %v", f.handler.commands)
	}
	if len(f.handler.dropped) != 1 || f.handler.dropped[0] != "robin history" {
		t.Fatalf("expected drop recorded, got %v", f.handler.dropped)
	}

	f.clock.Advance(1400 * time.Millisecond)
	if !f.recognizer.Listening() || f.session.State() != StateListening {
		t.Fatal("expected listening after cooldown")
	}
	f.recognizer.EmitFinal("robin history")
	f.clock.Advance(600 * time.Millisecond)
	if len(f.handler.commands) != 2 || f.handler.commands[1] != "History" {
		t.Fatalf("expected History after cooldown, got %v", f.handler.commands)
	}
}

func TestSessionQuestion(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("robin ask what does a robin eat")
	f.clock.Advance(600 * time.Millisecond)

	if len(f.handler.commands) != 0 {
		t.Fatalf("unexpected commands %v", f.handler.commands)
	}
	if len(f.handler.questions) != 1 || f.handler.questions[0] != "what does a robin eat" {
		t.Fatalf("unexpected questions %q", f.handler.questions)
	}
	if f.session.State() != StateCooldown {
		t.Fatalf("questions should start a cooldown, got %s", f.session.State())
	}
}

func TestSessionIgnoresTranscriptWithoutWakeWord(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("bird near the window")
	f.clock.Advance(time.Second)

	if len(f.handler.commands)+len(f.handler.questions)+len(f.handler.dropped)+len(f.handler.errors) != 0 {
		t.Fatalf("expected no handler calls, got %+v", f.handler)
	}
	if f.session.State() != StateListening {
		t.Fatalf("expected to keep listening, got %s", f.session.State())
	}
}

func TestSessionPartialResultsIgnored(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitPartial("robin forecast")
	f.clock.Advance(time.Second)
	if len(f.handler.commands) != 0 {
		t.Fatalf("partials must not dispatch, got %v", f.handler.commands)
	}
}

func TestSessionEmptyResultRestarts(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("   ")
	if f.recognizer.Listening() {
		t.Fatal("expected stop on empty result")
	}
	f.clock.Advance(time.Second)
	if !f.recognizer.Listening() {
		t.Fatal("expected restart after delay")
	}
}

func TestSessionBenignErrorRestartsSilently(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitError(stt.CodeNoSpeech, "No speech detected")
	if f.recognizer.Listening() {
		t.Fatal("expected stop on error")
	}
	f.clock.Advance(999 * time.Millisecond)
	if f.recognizer.Listening() {
		t.Fatal("restarted before the delay")
	}
	f.clock.Advance(time.Millisecond)
	if !f.recognizer.Listening() {
		t.Fatal("expected restart after delay")
	}

	f.recognizer.EmitError("7", "recognizer already started")
	f.clock.Advance(time.Second)
	if len(f.handler.errors) != 0 {
		t.Fatalf("benign errors must not surface, got %v", f.handler.errors)
	}
}

func TestSessionHardErrorSurfacedOnce(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitError("network", "network unreachable")
	f.clock.Advance(time.Second)
	f.recognizer.EmitError("network", "network unreachable")
	f.clock.Advance(time.Second)

	if len(f.handler.errors) != 1 {
		t.Fatalf("expected one surfaced error, got %v", f.handler.errors)
	}
	if !f.recognizer.Listening() {
		t.Fatal("expected restart after hard error")
	}

	f.recognizer.EmitFinal("bird song")
	f.recognizer.EmitError("network", "network unreachable")
	if len(f.handler.errors) != 2 {
		t.Fatalf("expected error surfaced again after a result, got %v", f.handler.errors)
	}
}

func TestSessionDifferentHardErrorsSurfaced(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitError("network", "network unreachable")
	f.clock.Advance(time.Second)
	if !f.recognizer.Listening() {
		t.Fatal("expected restart after hard error")
	}
	f.recognizer.EmitError("permission", "microphone permission revoked")
	f.clock.Advance(time.Second)

	want := []string{"network", "permission"}
	if len(f.handler.errors) != len(want) || f.handler.errors[0] != want[0] || f.handler.errors[1] != want[1] {
		t.Fatalf("surfaced errors = %v, want %v", f.handler.errors, want)
	}

	f.recognizer.EmitError("permission", "microphone permission revoked")
	if len(f.handler.errors) != 2 {
		t.Fatalf("repeated error surfaced again: %v", f.handler.errors)
	}
}

func TestSessionErrorDuringCooldownDoesNotRestartEarly(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("robin forecast")
	f.clock.Advance(600 * time.Millisecond)
	f.recognizer.EmitError(stt.CodeNoMatch, "no match")
	f.clock.Advance(time.Second)
	if f.recognizer.Listening() {
		t.Fatal("restart must wait for the cooldown")
	}
	f.clock.Advance(time.Second)
	if !f.recognizer.Listening() {
		t.Fatal("expected listening after cooldown")
	}
}

func TestSessionStartFailureRetries(t *testing.T) {
	logger := discardLogger()
	rec := stt.NewMockRecognizer()
	rec.StartErr = errors.New("microphone unavailable")
	clk := clock.NewFake(time.Unix(0, 0))
	loop := eventloop.New(logger)
	h := &recordingHandler{}
	s := NewSession(DefaultSessionConfig(), rec, testMatcher(t), h, clk, loop, logger)

	loop.Post(s.Start)
	if rec.Listening() {
		t.Fatal("start should have failed")
	}
	if len(h.errors) != 1 || h.errors[0] != stt.CodeTransport {
		t.Fatalf("expected transport error, got %v", h.errors)
	}
	clk.Advance(time.Second)
	if !rec.Listening() {
		t.Fatal("expected retry to succeed")
	}
}

func TestSessionSuspendResume(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("robin forecast")
	f.loop.Post(f.session.Suspend)

	if f.recognizer.Listening() {
		t.Fatal("expected recognizer stopped on suspend")
	}
	f.clock.Advance(time.Second)
	if len(f.handler.commands) != 0 {
		t.Fatal("suspended session must discard the pending transcript")
	}
	f.recognizer.EmitFinal("robin history")
	f.clock.Advance(time.Second)
	if len(f.handler.commands) != 0 {
		t.Fatal("suspended session must ignore results")
	}
	if !f.recognizer.Subscribed() {
		t.Fatal("suspend must keep the subscription")
	}

	f.loop.Post(f.session.Resume)
	if !f.recognizer.Listening() || f.session.Suspended() {
		t.Fatal("expected listening after resume")
	}
}

func TestSessionTeardownIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("robin forecast")
	f.loop.Post(f.session.Teardown)
	f.loop.Post(f.session.Teardown)

	if f.clock.Pending() != 0 {
		t.Fatalf("expected timers cleared, got %d", f.clock.Pending())
	}
	if f.session.State() != StateIdle {
		t.Fatalf("expected idle, got %s", f.session.State())
	}
	if f.recognizer.Subscribed() || f.session.Attached() {
		t.Fatal("expected subscription released")
	}
	if _, _, destroys := f.recognizer.Calls(); destroys != 1 {
		t.Fatalf("expected one destroy, got %d", destroys)
	}
	f.clock.Advance(5 * time.Second)
	if len(f.handler.commands) != 0 {
		t.Fatal("torn down session dispatched")
	}
}

func TestSessionTeardownOnFreshSession(t *testing.T) {
	logger := discardLogger()
	rec := stt.NewMockRecognizer()
	rec.StopErr = errors.New("boom")
	s := NewSession(DefaultSessionConfig(), rec, testMatcher(t), &recordingHandler{}, clock.NewFake(time.Unix(0, 0)), eventloop.New(logger), logger)
	s.Teardown()
	s.Teardown()
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestSessionReattachAfterTeardown(t *testing.T) {
	f := newSessionFixture(t)
	f.loop.Post(f.session.Teardown)
	f.loop.Post(f.session.Start)
	f.recognizer.EmitFinal("robin history")
	f.clock.Advance(600 * time.Millisecond)
	if len(f.handler.commands) != 1 || f.handler.commands[0] != "History" {
		t.Fatalf("expected History after reattach, got %v", f.handler.commands)
	}
}

func TestSessionStateTransitions(t *testing.T) {
	f := newSessionFixture(t)
	f.recognizer.EmitFinal("robin forecast")
	f.clock.Advance(2600 * time.Millisecond)

	want := []State{StateListening, StateProcessing, StateCooldown, StateListening}
	if len(f.states) != len(want) {
		t.Fatalf("states = %v, want %v", f.states, want)
	}
	for i := range want {
		if f.states[i] != want[i] {
			t.Fatalf("states = %v, want %v", f.states, want)
		}
	}
}
