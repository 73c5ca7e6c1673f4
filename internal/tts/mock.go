package tts

import (
	"context"
	"strings"
	"time"
)

// wordDuration approximates conversational speech at 150 words per minute.
const wordDuration = 400 * time.Millisecond

type mockSynth struct {
	sampleRate int
	channels   int
	pace       time.Duration
}

// NewMockSynth returns silent 16-bit PCM sized to roughly how long the text
// takes to say, in quarter-second chunks with a short pause before each so
// cancellation can be observed mid-utterance.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, pace: 20 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	remaining := int(speakingTime(req.Text, req.Rate).Seconds() * float64(m.sampleRate))
	chunkFrames := max(m.sampleRate/4, 1)
	frameBytes := 2 * max(m.channels, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		for seq := 0; ; seq++ {
			timer := time.NewTimer(m.pace)
			select {
			case <-ctx.Done():
				timer.Stop()
				errs <- ctx.Err()
				return
			case <-timer.C:
			}
			n := min(remaining, chunkFrames)
			remaining -= n
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   seq,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        make([]byte, n*frameBytes),
				Final:      remaining <= 0,
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			if chunk.Final {
				return
			}
		}
	}()
	return chunks, errs
}

func speakingTime(text string, rate float64) time.Duration {
	words := max(len(strings.Fields(text)), 1)
	d := time.Duration(words) * wordDuration
	if rate > 0 {
		d = time.Duration(float64(d) / rate)
	}
	return d
}
