package voice

import (
	"testing"

	"github.com/loqalabs/loqa-robin/internal/eventstore"
	"github.com/loqalabs/loqa-robin/internal/prefs"
)

func defaultFlags() prefs.Flags {
	return prefs.Flags{VoiceCommands: true, ShowCommandPopups: true}
}

func TestEngineNavigateScenario(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()
	if !f.recognizer.Listening() || f.arbiter.Owner() != ConsumerCommands {
		t.Fatal("expected mounted engine to listen with the mic")
	}

	f.say("robin start identify")
	if len(f.nav.navigations) != 1 || f.nav.navigations[0] != "Identify" {
		t.Fatalf("unexpected navigations %v", f.nav.navigations)
	}
	if got := f.notifier.last(); got.message != "Navigating to Identify" {
		t.Fatalf("unexpected feedback %+v", got)
	}
	if f.timeline.count(eventstore.TypeCommand) != 1 {
		t.Fatalf("expected command recorded, got %v", f.timeline.types)
	}
}

func TestEngineSettingsScenario(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()

	f.say("robin settings")
	if f.nav.route != "Settings" {
		t.Fatalf("expected Settings route, got %q", f.nav.route)
	}
	f.coolDown()

	f.say("robin enable audio feedback")
	if !f.prefs.AudioFeedbackEnabled() {
		t.Fatal("expected audio feedback enabled")
	}
	if got := f.notifier.last(); got.message != "Audio feedback enabled" || got.title != TitleSettings {
		t.Fatalf("unexpected feedback %+v", got)
	}
}

func TestEngineClosesChatBeforeNavigating(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.modal.open = true
	f.engine.Mount()

	f.say("robin forecast")
	if f.modal.open || f.modal.closes != 1 {
		t.Fatal("expected modal closed")
	}
	if len(f.nav.navigations) != 1 || f.nav.navigations[0] != "Forecast" {
		t.Fatalf("unexpected navigations %v", f.nav.navigations)
	}
}

func TestEngineQuestionScenario(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()

	f.say("robin ask what does a robin eat")
	if len(f.chat.questions) != 1 || f.chat.questions[0] != "what does a robin eat" {
		t.Fatalf("unexpected questions %q", f.chat.questions)
	}
	if got := f.notifier.last(); got.message != "Sending your question now" {
		t.Fatalf("unexpected feedback %+v", got)
	}
	if len(f.nav.navigations) != 0 {
		t.Fatalf("question must not navigate, got %v", f.nav.navigations)
	}
}

func TestEngineIgnoresTranscriptWithoutWakeWord(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()

	f.say("bird near the window")
	if len(f.notifier.notes) != 0 || len(f.nav.navigations) != 0 {
		t.Fatalf("expected no effect, notes=%v navigations=%v", f.notifier.notes, f.nav.navigations)
	}
	if f.engine.State() != StateListening {
		t.Fatalf("expected listening, got %s", f.engine.State())
	}
}

func TestEngineCooldownDropIsRecorded(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()

	f.say("robin forecast")
	f.say("robin history")
	if len(f.nav.navigations) != 1 {
		t.Fatalf("expected one dispatch per cooldown, got %v", f.nav.navigations)
	}
	if f.timeline.count(eventstore.TypeDropped) != 1 {
		t.Fatalf("expected drop recorded, got %v", f.timeline.types)
	}
}

func TestEngineVoiceCommandToggle(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.nav.route = "Settings"
	f.engine.Mount()

	f.say("robin disable voice commands")
	if got := f.notifier.last(); got.message != "Voice commands disabled" {
		t.Fatalf("unexpected feedback %+v", got)
	}
	if f.recognizer.Subscribed() || f.recognizer.Listening() {
		t.Fatal("expected recognizer released")
	}
	if f.clock.Pending() != 0 {
		t.Fatalf("expected no timers after disable, got %d", f.clock.Pending())
	}
	if f.arbiter.Owner() != "" {
		t.Fatalf("expected free mic, owner=%q", f.arbiter.Owner())
	}

	f.prefs.SetVoiceCommandsEnabled(true)
	if !f.recognizer.Listening() {
		t.Fatal("expected listening after re-enable")
	}
}

func TestEngineMountWithVoiceDisabled(t *testing.T) {
	f := newEngineFixture(t, prefs.Flags{}, false)
	f.engine.Mount()
	if f.recognizer.Subscribed() {
		t.Fatal("recognizer claimed while voice commands are off")
	}
	f.prefs.SetVoiceCommandsEnabled(true)
	if !f.recognizer.Listening() {
		t.Fatal("expected listening once enabled")
	}
}

func TestEngineDetectionPreemptsAndResumes(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()

	f.prefs.SetDetectionActive(true)
	if f.detection.starts != 1 || f.arbiter.Owner() != ConsumerDetection {
		t.Fatalf("expected detection to own the mic, owner=%q", f.arbiter.Owner())
	}
	if f.recognizer.Listening() || !f.engine.Session().Suspended() {
		t.Fatal("expected command listening suspended")
	}

	f.prefs.SetDetectionActive(false)
	if f.detection.stops != 1 {
		t.Fatal("expected detection stopped")
	}
	if !f.recognizer.Listening() || f.arbiter.Owner() != ConsumerCommands {
		t.Fatal("expected command listening resumed")
	}
}

func TestEngineCommandDuringListenWindow(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()
	f.prefs.SetDetectionActive(true)

	f.do(f.detection.openWindow)
	if !f.recognizer.Listening() {
		t.Fatal("expected listening in the window")
	}
	f.say("robin stop detection")
	if got := f.notifier.last(); got.message != "Stopping detection" {
		t.Fatalf("unexpected feedback %+v", got)
	}
	if f.prefs.DetectionActive() || f.detection.Active() {
		t.Fatal("expected detection stopped by voice")
	}
}

func TestEngineWindowClosesOnReclaim(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()
	f.prefs.SetDetectionActive(true)

	f.do(f.detection.openWindow)
	f.do(f.detection.closeWindow)
	if f.recognizer.Listening() || f.arbiter.Owner() != ConsumerDetection {
		t.Fatal("expected detection to reclaim the mic")
	}
}

func TestEngineMountStartsActiveDetection(t *testing.T) {
	flags := defaultFlags()
	flags.DetectionActive = true
	f := newEngineFixture(t, flags, false)
	f.engine.Mount()
	if f.arbiter.Owner() != ConsumerDetection || f.recognizer.Listening() {
		t.Fatal("expected detection running and commands suspended")
	}
}

func TestEngineRecognizerErrorFeedback(t *testing.T) {
	f := newEngineFixture(t, defaultFlags(), false)
	f.engine.Mount()

	f.recognizer.EmitError("network", "Network unreachable")
	f.recognizer.EmitError("network", "Network unreachable")
	if len(f.notifier.notes) != 1 {
		t.Fatalf("expected one error toast, got %v", f.notifier.notes)
	}
	if got := f.notifier.last(); got.title != TitleError || got.message != "Network unreachable" {
		t.Fatalf("unexpected feedback %+v", got)
	}
	if f.timeline.count(eventstore.TypeRecognizerError) != 1 {
		t.Fatalf("expected error recorded once, got %v", f.timeline.types)
	}
}

func TestEngineUnmount(t *testing.T) {
	flags := defaultFlags()
	f := newEngineFixture(t, flags, false)
	f.engine.Mount()
	f.engine.Mount()
	if !f.engine.Mounted() {
		t.Fatal("expected mounted")
	}
	f.recognizer.EmitFinal("robin forecast")

	f.engine.Unmount()
	f.engine.Unmount()
	if f.engine.Mounted() || f.recognizer.Subscribed() || f.clock.Pending() != 0 {
		t.Fatal("expected engine fully stopped")
	}

	f.prefs.SetDetectionActive(true)
	f.prefs.SetVoiceCommandsEnabled(false)
	f.prefs.SetVoiceCommandsEnabled(true)
	if f.detection.starts != 0 || f.recognizer.Subscribed() {
		t.Fatal("unmounted engine reacted to preference changes")
	}
}
