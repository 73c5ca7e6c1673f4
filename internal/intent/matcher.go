package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// Pass records which matching pass produced a command.
type Pass int

const (
	PassBoundary Pass = iota + 1
	PassSubstring
)

func (p Pass) String() string {
	switch p {
	case PassBoundary:
		return "boundary"
	case PassSubstring:
		return "substring"
	default:
		return "none"
	}
}

// Command is a classified transcript.
type Command struct {
	Definition
	Synonym string
	Pass    Pass
}

// Matcher gates transcripts on the wake word and resolves them against a table.
type Matcher struct {
	wakeWord string
	wake     *regexp.Regexp
	table    *Table
}

var (
	askInflections = regexp.MustCompile(`\b(asked|asking|asks)\b`)
	questionForm   = regexp.MustCompile(`\b(?:ask|question|query|inquire)\s+(.*)`)
)

// NewMatcher builds a matcher for the given wake word. A nil table selects the
// built-in command table.
func NewMatcher(wakeWord string, table *Table) (*Matcher, error) {
	wakeWord = collapse(strings.ToLower(wakeWord))
	if wakeWord == "" || stripNonLetters(wakeWord) != wakeWord {
		return nil, fmt.Errorf("intent: wake word %q must be letters only", wakeWord)
	}
	if table == nil {
		table = DefaultTable()
	}
	return &Matcher{wakeWord: wakeWord, wake: wholeWord(wakeWord), table: table}, nil
}

// WakeWord returns the normalized wake word.
func (m *Matcher) WakeWord() string { return m.wakeWord }

// Table returns the command table the matcher resolves against.
func (m *Matcher) Table() *Table { return m.table }

// HasWakeWord reports whether transcript mentions the wake word as a whole word.
func (m *Matcher) HasWakeWord(transcript string) bool {
	return m.wake.MatchString(strings.ToLower(transcript))
}

// Classify resolves a transcript to a command. Transcripts without the wake word
// never match. Commands are tried by descending priority and synonyms in declared
// order; the first whole-word hit wins, and only when none exists is plain
// substring containment tried in the same order.
func (m *Matcher) Classify(transcript string) (Command, bool) {
	lower := strings.ToLower(transcript)
	if !m.wake.MatchString(lower) {
		return Command{}, false
	}
	cleaned := m.table.clean(m.wake.ReplaceAllString(lower, " "))
	if cleaned == "" {
		return Command{}, false
	}

	for _, e := range m.table.entries {
		for _, syn := range e.synonyms {
			if syn.re.MatchString(cleaned) {
				return Command{Definition: *e.def, Synonym: syn.raw, Pass: PassBoundary}, true
			}
		}
	}
	// Substring fallback recovers clipped phrases ("robin forecasting") but will
	// also fire on a short synonym buried in a longer word.
	for _, e := range m.table.entries {
		for _, syn := range e.synonyms {
			if strings.Contains(cleaned, syn.cleaned) {
				return Command{Definition: *e.def, Synonym: syn.raw, Pass: PassSubstring}, true
			}
		}
	}
	return Command{}, false
}

// ExtractQuestion returns the free-form payload of "<wake> ask <question>".
// Only the first wake-word mention is removed so the payload may name it again.
func (m *Matcher) ExtractQuestion(transcript string) (string, bool) {
	lower := strings.ToLower(transcript)
	loc := m.wake.FindStringIndex(lower)
	if loc == nil {
		return "", false
	}
	text := collapse(lower[:loc[0]] + " " + lower[loc[1]:])
	text = m.table.correct(text)
	text = askInflections.ReplaceAllString(text, "ask")

	match := questionForm.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	question := strings.TrimSpace(match[1])
	if question == "" {
		return "", false
	}
	return question, true
}
