// Package voice turns finalized speech transcripts into application actions.
// A Session owns the recognizer and its debounce, cooldown and restart timers;
// an Arbiter hands the microphone between command listening and detection
// recording; a Dispatcher resolves classified commands against the current
// screen; an Engine binds all of them to the preference store.
//
// Session, Arbiter callbacks and Engine transitions run on a shared
// eventloop.Loop and must not be called concurrently from other goroutines.
package voice

import "github.com/loqalabs/loqa-robin/internal/sections"

// Navigator reports and changes the visible screen.
type Navigator interface {
	CurrentRoute() string
	Navigate(route string)
}

// Modal controls the chat overlay.
type Modal interface {
	Open()
	Close()
	IsOpen() bool
}

// Preferences are the flags the dispatcher reads and toggles.
type Preferences interface {
	VoiceCommandsEnabled() bool
	AudioFeedbackEnabled() bool
	LocationEnabled() bool
	DetectionActive() bool
	SetVoiceCommandsEnabled(bool)
	SetAudioFeedbackEnabled(bool)
	SetLocationEnabled(bool)
	SetDetectionActive(bool)
}

// ChatQuestioner opens the chat surface with a question pre-filled.
type ChatQuestioner interface {
	AskQuestion(question string)
}

// Toaster shows a transient on-screen message.
type Toaster interface {
	Show(title, message string)
}

// SectionSource yields the read-aloud callback of the loaded content, if any.
type SectionSource interface {
	Get() (sections.ReadFunc, bool)
}

// availability is implemented by collaborators that may be present but not
// yet usable, such as a chat modal the app has not registered.
type availability interface {
	Available() bool
}
