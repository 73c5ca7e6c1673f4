package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-robin/internal/execproc"
)

// execGenerator runs an external model command. The command reads one JSON
// request on stdin and writes JSON lines on stdout; a line with done set (or
// the end of output) completes the answer.
type execGenerator struct {
	cmd *execproc.Command
}

type execRequest struct {
	SessionID   string  `json:"session_id"`
	Tier        string  `json:"tier,omitempty"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type execLine struct {
	Content          string `json:"content"`
	Done             bool   `json:"done"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	cmd, err := execproc.Parse("llm", command)
	if err != nil {
		return nil, err
	}
	return &execGenerator{cmd: cmd}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	started := time.Now()
	var (
		answer strings.Builder
		last   execLine
		done   bool
	)
	in := execRequest{
		SessionID:   req.SessionID,
		Tier:        req.Tier,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	err := g.cmd.Stream(ctx, in, func(line []byte) error {
		if done {
			return nil
		}
		last = execLine{}
		if err := json.Unmarshal(line, &last); err != nil {
			return fmt.Errorf("decode llm line: %w", err)
		}
		answer.WriteString(last.Content)
		if last.Done {
			done = true
			return nil
		}
		return consumer(Chunk{SessionID: req.SessionID, Content: last.Content, Partial: true})
	})
	if err != nil {
		return err
	}
	return consumer(Chunk{
		SessionID:        req.SessionID,
		Content:          strings.TrimSpace(answer.String()),
		PromptTokens:     last.PromptTokens,
		CompletionTokens: last.CompletionTokens,
		Latency:          time.Since(started),
	})
}
