package voice

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-robin/internal/clock"
	"github.com/loqalabs/loqa-robin/internal/eventloop"
	"github.com/loqalabs/loqa-robin/internal/intent"
	"github.com/loqalabs/loqa-robin/internal/prefs"
	"github.com/loqalabs/loqa-robin/internal/sections"
	"github.com/loqalabs/loqa-robin/internal/stt"
	"github.com/loqalabs/loqa-robin/internal/tts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMatcher(t *testing.T) *intent.Matcher {
	t.Helper()
	m, err := intent.NewMatcher(intent.DefaultWakeWord, nil)
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	return m
}

func command(t *testing.T, name string) intent.Command {
	t.Helper()
	def, ok := intent.DefaultTable().Lookup(name)
	if !ok {
		t.Fatalf("no command %q", name)
	}
	return intent.Command{Definition: def, Synonym: def.Synonyms[0], Pass: intent.PassBoundary}
}

type fakeNavigator struct {
	route       string
	navigations []string
}

func (n *fakeNavigator) CurrentRoute() string { return n.route }

func (n *fakeNavigator) Navigate(route string) {
	n.navigations = append(n.navigations, route)
	n.route = route
}

type fakeModal struct {
	open        bool
	unavailable bool
	opens       int
	closes      int
}

func (m *fakeModal) Open()           { m.open = true; m.opens++ }
func (m *fakeModal) Close()          { m.open = false; m.closes++ }
func (m *fakeModal) IsOpen() bool    { return m.open }
func (m *fakeModal) Available() bool { return !m.unavailable }

type note struct {
	title   string
	message string
}

type fakeNotifier struct {
	notes []note
	stops int
}

func (n *fakeNotifier) Notify(title, message string) {
	n.notes = append(n.notes, note{title: title, message: message})
}

func (n *fakeNotifier) StopSpeaking() { n.stops++ }

func (n *fakeNotifier) last() note {
	if len(n.notes) == 0 {
		return note{}
	}
	return n.notes[len(n.notes)-1]
}

type fakeChat struct {
	questions []string
}

func (c *fakeChat) AskQuestion(q string) { c.questions = append(c.questions, q) }

type fakeSpeaker struct {
	spoken []string
	opts   []tts.SpeakOptions
	stops  int
}

func (s *fakeSpeaker) Speak(text string, opts tts.SpeakOptions) error {
	s.spoken = append(s.spoken, text)
	s.opts = append(s.opts, opts)
	return nil
}

func (s *fakeSpeaker) Stop() error {
	s.stops++
	return nil
}

type fakeToaster struct {
	shown []note
}

func (t *fakeToaster) Show(title, message string) {
	t.shown = append(t.shown, note{title: title, message: message})
}

type fakeTimeline struct {
	types []string
}

func (t *fakeTimeline) Record(eventType string, _ any) { t.types = append(t.types, eventType) }

func (t *fakeTimeline) count(eventType string) int {
	n := 0
	for _, e := range t.types {
		if e == eventType {
			n++
		}
	}
	return n
}

// fakeDetection holds the detection claim while active. Window simulates the
// listen window between ticks.
type fakeDetection struct {
	claim  *Claim
	active bool
	starts int
	stops  int
}

func (d *fakeDetection) Start() {
	if d.active {
		return
	}
	d.active = true
	d.starts++
	_ = d.claim.Acquire()
}

func (d *fakeDetection) Stop() {
	if !d.active {
		return
	}
	d.active = false
	d.stops++
	d.claim.Release()
}

func (d *fakeDetection) Active() bool { return d.active }

func (d *fakeDetection) openWindow()  { d.claim.Release() }
func (d *fakeDetection) closeWindow() { _ = d.claim.Acquire() }

type engineFixture struct {
	engine     *Engine
	recognizer *stt.MockRecognizer
	clock      *clock.Fake
	loop       *eventloop.Loop
	prefs      *prefs.Store
	nav        *fakeNavigator
	modal      *fakeModal
	notifier   *fakeNotifier
	chat       *fakeChat
	sections   *sections.Registry
	arbiter    *Arbiter
	detection  *fakeDetection
	timeline   *fakeTimeline
}

func newEngineFixture(t *testing.T, flags prefs.Flags, settingsAnywhere bool) *engineFixture {
	t.Helper()
	logger := discardLogger()
	f := &engineFixture{
		recognizer: stt.NewMockRecognizer(),
		clock:      clock.NewFake(time.Unix(0, 0)),
		loop:       eventloop.New(logger),
		prefs:      prefs.NewStore(flags, nil, logger),
		nav:        &fakeNavigator{route: "Home"},
		modal:      &fakeModal{},
		notifier:   &fakeNotifier{},
		chat:       &fakeChat{},
		sections:   sections.NewRegistry(),
		arbiter:    NewArbiter(logger),
		timeline:   &fakeTimeline{},
	}
	f.detection = &fakeDetection{claim: f.arbiter.Claim(ConsumerDetection)}
	engine, err := NewEngine(EngineConfig{
		Session:          DefaultSessionConfig(),
		SettingsAnywhere: settingsAnywhere,
	}, EngineDeps{
		Recognizer: f.recognizer,
		Matcher:    testMatcher(t),
		Prefs:      f.prefs,
		Dispatch: DispatcherDeps{
			Navigator: f.nav,
			Modal:     f.modal,
			Chat:      f.chat,
			Sections:  f.sections,
			Notifier:  f.notifier,
		},
		Arbiter:   f.arbiter,
		Detection: f.detection,
		Timeline:  f.timeline,
		Clock:     f.clock,
		Loop:      f.loop,
	}, logger)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	f.engine = engine
	return f
}

// say delivers a final transcript and lets the debounce elapse.
func (f *engineFixture) say(text string) {
	f.recognizer.EmitFinal(text)
	f.clock.Advance(DefaultSessionConfig().Debounce)
}

// coolDown lets the post-dispatch cooldown elapse.
func (f *engineFixture) coolDown() {
	f.clock.Advance(DefaultSessionConfig().Cooldown)
}

func (f *engineFixture) do(fn func()) { f.loop.Post(fn) }
