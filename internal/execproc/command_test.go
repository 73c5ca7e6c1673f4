package execproc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	if _, err := Parse("stt", "   "); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	t.Setenv("ROBIN_TEST_MODEL", "small.bin")
	cmd, err := Parse("stt", `whisper --model $ROBIN_TEST_MODEL --prompt "robin history"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.name != "whisper" || len(cmd.args) != 4 || cmd.args[1] != "small.bin" || cmd.args[3] != "robin history" {
		t.Fatalf("unexpected parse %q %q", cmd.name, cmd.args)
	}
}

func TestCallRoundTrip(t *testing.T) {
	cmd, err := Parse("llm", "cat")
	if err != nil {
		t.Fatal(err)
	}
	in := map[string]string{"prompt": "what do robins eat"}
	var out map[string]string
	if err := cmd.Call(context.Background(), in, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out["prompt"] != "what do robins eat" {
		t.Fatalf("unexpected echo %v", out)
	}
}

func TestCallIncludesStderr(t *testing.T) {
	cmd, err := Parse("tts", "sh "+writeScript(t, "echo 'voice not found' >&2\nexit 2\n"))
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	err = cmd.Call(context.Background(), nil, &out)
	if err == nil || !strings.Contains(err.Error(), "voice not found") || !strings.HasPrefix(err.Error(), "tts command failed") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestStreamLines(t *testing.T) {
	cmd, err := Parse("tts", "sh "+writeScript(t, "echo one\necho\necho '  two  '\n"))
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	err = cmd.Stream(context.Background(), nil, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	}, "--ignored")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	cmd, err := Parse("llm", "sh "+writeScript(t, "while true; do echo tick; sleep 0.01; done\n"))
	if err != nil {
		t.Fatal(err)
	}
	stop := errors.New("enough")
	n := 0
	done := make(chan error, 1)
	go func() {
		done <- cmd.Stream(context.Background(), nil, func([]byte) error {
			n++
			if n == 3 {
				return stop
			}
			return nil
		})
	}()
	select {
	case err := <-done:
		if !errors.Is(err, stop) {
			t.Fatalf("expected callback error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestStreamCancelled(t *testing.T) {
	cmd, err := Parse("llm", "sh "+writeScript(t, "exec sleep 5\n"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = cmd.Stream(ctx, nil, func([]byte) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
