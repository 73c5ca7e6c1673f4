package stt

import (
	"context"
	"fmt"
	"sync"
)

type mockTranscriber struct {
	mu     sync.Mutex
	script []string
	next   int
}

// NewMockTranscriber returns a transcriber that replays script for final
// requests, one entry per utterance, then falls back to a length marker.
func NewMockTranscriber(script ...string) Transcriber {
	return &mockTranscriber{script: script}
}

func (m *mockTranscriber) Transcribe(_ context.Context, pcm []byte, _ int, _ int, final bool) (TranscriptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if final && m.next < len(m.script) {
		text := m.script[m.next]
		m.next++
		if text == "" {
			return TranscriptResult{}, nil
		}
		return TranscriptResult{Text: text, Alternatives: []string{text}, Confidence: 1}, nil
	}
	mode := "partial"
	if final {
		mode = "final"
	}
	text := fmt.Sprintf("[%s transcript length=%d]", mode, len(pcm))
	return TranscriptResult{Text: text, Alternatives: []string{text}}, nil
}
