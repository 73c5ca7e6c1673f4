package tts

import "context"

// SynthRequest contains parameters to synthesize speech. Zero Rate and Pitch
// mean the backend default.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
	Language  string
	Rate      float64
	Pitch     float64
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// SpeakOptions shape how a feedback utterance sounds.
type SpeakOptions struct {
	Rate     float64
	Pitch    float64
	Language string
	Voice    string
}

// Speaker says short messages and can be silenced.
type Speaker interface {
	Speak(text string, opts SpeakOptions) error
	Stop() error
}
