package tts

import (
	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/protocol"
)

// BusSpeaker publishes feedback utterances to the synthesis service.
type BusSpeaker struct {
	bus       *bus.Client
	sessionID string
}

func NewBusSpeaker(busClient *bus.Client, sessionID string) *BusSpeaker {
	return &BusSpeaker{bus: busClient, sessionID: sessionID}
}

func (s *BusSpeaker) Speak(text string, opts SpeakOptions) error {
	return s.bus.PublishJSON(protocol.SubjectTTSRequest, protocol.TTSRequest{
		SessionID: s.sessionID,
		Text:      text,
		Voice:     opts.Voice,
		Language:  opts.Language,
		Rate:      opts.Rate,
		Pitch:     opts.Pitch,
	})
}

// Stop cancels every in-flight utterance, including read-aloud content that
// was not started by this speaker.
func (s *BusSpeaker) Stop() error {
	return s.bus.PublishJSON(protocol.SubjectTTSCancel, protocol.TTSCancel{})
}
