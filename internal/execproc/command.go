// Package execproc runs the external speech and language backends that are
// configured as command lines. Requests are written to stdin as JSON and
// replies are read from stdout, either as one JSON document or as one JSON
// object per line.
package execproc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ErrEmptyCommand is returned by Parse for a blank command line.
var ErrEmptyCommand = errors.New("execproc: empty command")

const maxStderr = 512

// Command is a parsed command line. Invocations are serialized because the
// backends are typically single-model processes.
type Command struct {
	kind string
	name string
	args []string
	mu   sync.Mutex
}

// Parse splits line using shell quoting rules and expands $VARS from the
// environment. kind names the backend in errors ("stt", "tts", "llm").
func Parse(kind, line string) (*Command, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	words, err := parser.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", kind, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%s: %w", kind, ErrEmptyCommand)
	}
	return &Command{kind: kind, name: words[0], args: words[1:]}, nil
}

func (c *Command) String() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}

func (c *Command) build(ctx context.Context, in any, extra []string) (*exec.Cmd, *bytes.Buffer, error) {
	args := append(append([]string(nil), c.args...), extra...)
	cmd := exec.CommandContext(ctx, c.name, args...)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s request: %w", c.kind, err)
		}
		cmd.Stdin = bytes.NewReader(data)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return cmd, stderr, nil
}

// Call runs the command once with extra appended to its arguments, sends in
// (when non-nil) on stdin and decodes stdout into out.
func (c *Command) Call(ctx context.Context, in, out any, extra ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, stderr, err := c.build(ctx, in, extra)
	if err != nil {
		return err
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return c.failed(err, stderr)
	}
	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.kind, err)
	}
	return nil
}

// Stream runs the command and calls fn for every non-empty stdout line. An
// error from fn stops the process and is returned as is.
func (c *Command) Stream(ctx context.Context, in any, fn func(line []byte) error, extra ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd, stderr, err := c.build(ctx, in, extra)
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s command: %w", c.kind, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			cancel()
			_, _ = io.Copy(io.Discard, stdout)
			_ = cmd.Wait()
			return err
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return c.failed(err, stderr)
	}
	return scanErr
}

func (c *Command) failed(err error, stderr *bytes.Buffer) error {
	msg := strings.TrimSpace(stderr.String())
	if len(msg) > maxStderr {
		msg = msg[:maxStderr]
	}
	if msg == "" {
		return fmt.Errorf("%s command failed: %w", c.kind, err)
	}
	return fmt.Errorf("%s command failed: %w: %s", c.kind, err, msg)
}
