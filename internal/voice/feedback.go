package voice

import (
	"log/slog"

	"github.com/loqalabs/loqa-robin/internal/tts"
)

// FeedbackPrefs is read at every Notify so a toggle takes effect on the next
// message.
type FeedbackPrefs interface {
	AudioFeedbackEnabled() bool
}

type popupPrefs interface {
	ShowCommandPopups() bool
}

// Feedback acknowledges every dispatch with a toast and, when audio feedback is
// on, a spoken copy of the message.
type Feedback struct {
	toaster Toaster
	speaker tts.Speaker
	prefs   FeedbackPrefs
	opts    tts.SpeakOptions
	logger  *slog.Logger
}

func NewFeedback(toaster Toaster, speaker tts.Speaker, prefs FeedbackPrefs, opts tts.SpeakOptions, logger *slog.Logger) *Feedback {
	return &Feedback{
		toaster: toaster,
		speaker: speaker,
		prefs:   prefs,
		opts:    opts,
		logger:  logger.With(slog.String("component", "voice-feedback")),
	}
}

// Notify shows title and message, then speaks message if audio feedback is on.
// Users who turned command popups off still hear the message.
func (f *Feedback) Notify(title, message string) {
	f.logger.Debug("feedback", slog.String("title", title), slog.String("message", message))
	showPopup := true
	if p, ok := f.prefs.(popupPrefs); ok {
		showPopup = p.ShowCommandPopups()
	}
	if showPopup && f.toaster != nil {
		f.toaster.Show(title, message)
	}
	if f.speaker == nil || f.prefs == nil || !f.prefs.AudioFeedbackEnabled() {
		return
	}
	if err := f.speaker.Speak(message, f.opts); err != nil {
		f.logger.Warn("failed to speak feedback", slogError(err))
	}
}

// StopSpeaking silences any utterance in progress.
func (f *Feedback) StopSpeaking() {
	if f.speaker == nil {
		return
	}
	if err := f.speaker.Stop(); err != nil {
		f.logger.Warn("failed to stop speech", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
