package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-robin/internal/execproc"
)

type execSynth struct {
	cmd        *execproc.Command
	sampleRate int
	channels   int
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Language   string  `json:"language,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	Pitch      float64 `json:"pitch,omitempty"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

// execLine is one line of synthesizer output.
type execLine struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth runs command per utterance. The command reads an execRequest
// on stdin and prints base64 PCM chunks, one JSON object per line.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	cmd, err := execproc.Parse("tts", command)
	if err != nil {
		return nil, err
	}
	return &execSynth{cmd: cmd, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		in := execRequest{
			Text:       req.Text,
			Voice:      req.Voice,
			Language:   req.Language,
			Rate:       req.Rate,
			Pitch:      req.Pitch,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
		}
		sequence := 0
		sawFinal := false
		err := e.cmd.Stream(ctx, in, func(line []byte) error {
			var out execLine
			if err := json.Unmarshal(line, &out); err != nil {
				return fmt.Errorf("decode tts chunk: %w", err)
			}
			pcm, err := base64.StdEncoding.DecodeString(out.PCMBase64)
			if err != nil {
				return fmt.Errorf("decode tts pcm: %w", err)
			}
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: e.sampleRate,
				Channels:   e.channels,
				PCM:        pcm,
				Final:      out.Final,
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
			sequence++
			sawFinal = sawFinal || out.Final
			return nil
		})
		if err != nil {
			errs <- err
			return
		}
		if !sawFinal {
			// Synthesizers that never flag the last chunk still end the utterance.
			select {
			case chunks <- SynthChunk{SessionID: req.SessionID, Sequence: sequence, SampleRate: e.sampleRate, Channels: e.channels, Final: true}:
			case <-ctx.Done():
				errs <- ctx.Err()
			}
		}
	}()
	return chunks, errs
}
