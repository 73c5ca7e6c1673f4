package llm

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaModel = "llama3.2:latest"

// ollamaGenerator talks to an Ollama server's chat API, one streamed
// exchange per question with no history carried between questions.
type ollamaGenerator struct {
	client   *http.Client
	endpoint string
	models   map[string]string
}

// NewOllamaGenerator maps the "fast" and "balanced" tiers to the given
// models; an empty model falls back to the other tier's.
func NewOllamaGenerator(endpoint, fastModel, balancedModel string) Generator {
	fallback := cmp.Or(balancedModel, fastModel, defaultOllamaModel)
	return &ollamaGenerator{
		client:   &http.Client{Timeout: 2 * time.Minute},
		endpoint: strings.TrimRight(endpoint, "/"),
		models: map[string]string{
			"fast":     cmp.Or(fastModel, fallback),
			"balanced": fallback,
		},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaReply struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
}

func (g *ollamaGenerator) request(req Request) ollamaRequest {
	model, ok := g.models[req.Tier]
	if !ok {
		model = g.models["balanced"]
	}
	out := ollamaRequest{Model: model, Stream: true, Options: map[string]any{}}
	if req.System != "" {
		out.Messages = append(out.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	out.Messages = append(out.Messages, ollamaMessage{Role: "user", Content: req.Prompt})
	if req.Temperature > 0 {
		out.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		out.Options["num_predict"] = req.MaxTokens
	}
	return out
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	body, err := json.Marshal(g.request(req))
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var answer strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var reply ollamaReply
		if err := dec.Decode(&reply); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("ollama stream ended without a final response")
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("decode ollama stream: %w", err)
		}
		if reply.Error != "" {
			return fmt.Errorf("ollama: %s", reply.Error)
		}
		answer.WriteString(reply.Message.Content)
		if !reply.Done {
			if err := consumer(Chunk{SessionID: req.SessionID, Content: reply.Message.Content, Partial: true}); err != nil {
				return err
			}
			continue
		}
		return consumer(Chunk{
			SessionID:        req.SessionID,
			Content:          strings.TrimSpace(answer.String()),
			PromptTokens:     reply.PromptEvalCount,
			CompletionTokens: reply.EvalCount,
			Latency:          time.Since(started),
		})
	}
}
