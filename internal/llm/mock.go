package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct {
	pace time.Duration
}

// NewMockGenerator echoes the question back one word at a time.
func NewMockGenerator() Generator { return &mockGenerator{pace: 5 * time.Millisecond} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	started := time.Now()
	answer := "Let me think about " + strings.TrimSpace(req.Prompt) + ". [mock answer]"
	words := strings.Fields(answer)
	for i, w := range words {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.pace):
		}
		if i > 0 {
			w = " " + w
		}
		if err := consumer(Chunk{SessionID: req.SessionID, Content: w, Partial: true}); err != nil {
			return err
		}
	}
	return consumer(Chunk{
		SessionID:        req.SessionID,
		Content:          answer,
		CompletionTokens: len(words),
		Latency:          time.Since(started),
	})
}
