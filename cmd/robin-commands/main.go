package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loqalabs/loqa-robin/internal/intent"
	"gopkg.in/yaml.v3"
)

var version = "0.1.0-dev"

func main() {
	var tablePath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&tablePath, "file", "commands.yaml", "Path to command table")

	var classifyPath, wakeWord string
	classifyCmd := flag.NewFlagSet("classify", flag.ExitOnError)
	classifyCmd.StringVar(&classifyPath, "file", "", "Path to command table (built-in table when empty)")
	classifyCmd.StringVar(&wakeWord, "wake-word", "", "Wake word override")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'classify', 'defaults' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(tablePath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("command table valid")
	case "classify":
		classifyCmd.Parse(os.Args[2:])
		m, err := loadMatcher(classifyPath, wakeWord)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if args := classifyCmd.Args(); len(args) > 0 {
			fmt.Println(describe(m, strings.Join(args, " ")))
			return
		}
		if err := classifyLines(m, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "defaults":
		if err := yaml.NewEncoder(os.Stdout).Encode(intent.DefaultFile()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path string) error {
	f, err := intent.LoadFile(path)
	if err != nil {
		return err
	}
	_, err = f.Compile()
	return err
}

func loadMatcher(path, wakeWord string) (*intent.Matcher, error) {
	table, fileWakeWord, err := intent.LoadTable(path)
	if err != nil {
		return nil, err
	}
	if wakeWord == "" {
		wakeWord = fileWakeWord
	}
	if wakeWord == "" {
		wakeWord = intent.DefaultWakeWord
	}
	return intent.NewMatcher(wakeWord, table)
}

// classifyLines reads one transcript per line and prints its classification.
func classifyLines(m *intent.Matcher, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fmt.Fprintln(w, describe(m, line))
	}
	return scanner.Err()
}

func describe(m *intent.Matcher, transcript string) string {
	if cmd, ok := m.Classify(transcript); ok {
		return fmt.Sprintf("%q -> command %q (%s, %s pass, synonym %q)", transcript, cmd.Name, cmd.Action, cmd.Pass, cmd.Synonym)
	}
	if q, ok := m.ExtractQuestion(transcript); ok {
		return fmt.Sprintf("%q -> question %q", transcript, q)
	}
	if !m.HasWakeWord(transcript) {
		return fmt.Sprintf("%q -> ignored (no wake word)", transcript)
	}
	return fmt.Sprintf("%q -> no match", transcript)
}
