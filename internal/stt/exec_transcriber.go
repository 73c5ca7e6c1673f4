package stt

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-robin/internal/config"
	"github.com/loqalabs/loqa-robin/internal/execproc"
)

type execTranscriber struct {
	cmd     *execproc.Command
	flags   []string
	interim bool
}

type execResult struct {
	Text         string   `json:"text"`
	Alternatives []string `json:"alternatives"`
	Confidence   float64  `json:"confidence"`
}

// NewExecTranscriber runs cfg.Command once per utterance with the audio written
// to a temporary WAV file passed as --audio. The command prints one JSON object.
func NewExecTranscriber(cfg config.STTConfig) (Transcriber, error) {
	cmd, err := execproc.Parse("stt", cfg.Command)
	if err != nil {
		return nil, err
	}
	var flags []string
	if cfg.ModelPath != "" {
		flags = append(flags, "--model", cfg.ModelPath)
	}
	if cfg.Language != "" {
		flags = append(flags, "--language", cfg.Language)
	}
	return &execTranscriber{cmd: cmd, flags: flags, interim: cfg.PublishInterim}, nil
}

func (r *execTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	path, err := tempWav(pcm, sampleRate, channels)
	if err != nil {
		return TranscriptResult{}, err
	}
	defer os.Remove(path)

	args := append([]string{"--audio", path}, r.flags...)
	if r.interim && !final {
		args = append(args, "--partial")
	}
	var resp execResult
	if err := r.cmd.Call(ctx, nil, &resp, args...); err != nil {
		return TranscriptResult{}, err
	}
	return resp.result(), nil
}

// result fills whichever of text and alternatives the command left out.
func (e execResult) result() TranscriptResult {
	out := TranscriptResult{Text: e.Text, Alternatives: e.Alternatives, Confidence: e.Confidence}
	if len(out.Alternatives) == 0 && out.Text != "" {
		out.Alternatives = []string{out.Text}
	}
	if out.Text == "" && len(out.Alternatives) > 0 {
		out.Text = out.Alternatives[len(out.Alternatives)-1]
	}
	return out
}

func tempWav(pcm []byte, sampleRate, channels int) (string, error) {
	file, err := os.CreateTemp("", "robin_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	werr := writePCMToWav(file, pcm, sampleRate, channels)
	cerr := file.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(file.Name())
		return "", werr
	}
	return file.Name(), nil
}

// writePCMToWav encodes little-endian 16-bit PCM as a WAV stream.
func writePCMToWav(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
