package stt

import (
	"context"
)

// TranscriptResult captures transcriber output. Alternatives lists every
// hypothesis, best last; Text repeats the last one.
type TranscriptResult struct {
	Text         string
	Alternatives []string
	Confidence   float64
}

// Transcriber abstracts batch STT backends that turn buffered PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
}
