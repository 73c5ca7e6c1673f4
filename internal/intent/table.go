// Package intent classifies wake-word transcripts against a closed command table
// and extracts free-form questions.
package intent

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidTable is returned when a command table fails validation.
var ErrInvalidTable = errors.New("intent: invalid command table")

// Category groups commands for help surfaces and dispatch rules.
type Category string

const (
	CategoryNavigation Category = "navigation"
	CategoryDetection  Category = "detection"
	CategoryChat       Category = "chat"
	CategorySettings   Category = "settings"
	CategoryRead       Category = "read"
	CategoryMeta       Category = "meta"
)

// Action tells the dispatcher which effect a command resolves to.
type Action string

const (
	ActionNavigate       Action = "navigate"
	ActionOpenChat       Action = "open_chat"
	ActionCloseChat      Action = "close_chat"
	ActionStartDetection Action = "start_detection"
	ActionStopDetection  Action = "stop_detection"
	ActionLogout         Action = "logout"
	ActionLogin          Action = "login"
	ActionSetPreference  Action = "set_preference"
	ActionReadSection    Action = "read_section"
	ActionStopReading    Action = "stop_reading"
)

// Preference names used by set_preference commands.
const (
	PreferenceVoiceCommands = "voice_commands"
	PreferenceAudioFeedback = "audio_feedback"
	PreferenceLocation      = "location"
)

// Definition is one canonical command and the phrases that trigger it.
type Definition struct {
	Name       string   `yaml:"name"`
	Category   Category `yaml:"category"`
	Priority   int      `yaml:"priority"`
	Action     Action   `yaml:"action"`
	Target     string   `yaml:"target,omitempty"`
	Preference string   `yaml:"preference,omitempty"`
	Value      bool     `yaml:"value,omitempty"`
	Section    string   `yaml:"section,omitempty"`
	Synonyms   []string `yaml:"synonyms"`
}

// NavigationTarget is the route a navigate command moves to.
func (d Definition) NavigationTarget() string {
	if d.Target != "" {
		return d.Target
	}
	return d.Name
}

// Correction rewrites a commonly mis-transcribed phrase. Matching is whole-word.
type Correction struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Table is an immutable, validated command table ordered by priority.
type Table struct {
	defs        []Definition
	entries     []entry
	corrections []compiledCorrection
}

type entry struct {
	def      *Definition
	synonyms []compiledSynonym
}

type compiledSynonym struct {
	raw     string
	cleaned string
	re      *regexp.Regexp
}

type compiledCorrection struct {
	re *regexp.Regexp
	to string
}

// NewTable validates defs and compiles them. Commands are tried in descending
// priority; equal priorities keep declaration order.
func NewTable(defs []Definition, corrections []Correction) (*Table, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no commands", ErrInvalidTable)
	}
	t := &Table{defs: append([]Definition(nil), defs...)}

	for _, c := range corrections {
		from := collapse(stripNonLetters(strings.ToLower(c.From)))
		if from == "" {
			return nil, fmt.Errorf("%w: empty correction source", ErrInvalidTable)
		}
		t.corrections = append(t.corrections, compiledCorrection{
			re: wholeWord(from),
			to: strings.ToLower(strings.TrimSpace(c.To)),
		})
	}

	seen := make(map[string]bool, len(t.defs))
	for i := range t.defs {
		def := &t.defs[i]
		if err := validateDefinition(*def); err != nil {
			return nil, err
		}
		key := strings.ToLower(def.Name)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate command %q", ErrInvalidTable, def.Name)
		}
		seen[key] = true

		e := entry{def: def}
		for _, syn := range def.Synonyms {
			cleaned := t.clean(syn)
			if cleaned == "" {
				return nil, fmt.Errorf("%w: command %q has a synonym %q that normalizes to nothing", ErrInvalidTable, def.Name, syn)
			}
			e.synonyms = append(e.synonyms, compiledSynonym{raw: syn, cleaned: cleaned, re: wholeWord(cleaned)})
		}
		t.entries = append(t.entries, e)
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].def.Priority > t.entries[j].def.Priority
	})
	return t, nil
}

// Definitions returns the commands in resolution order.
func (t *Table) Definitions() []Definition {
	out := make([]Definition, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e.def)
	}
	return out
}

// Lookup returns the definition with the given canonical name.
func (t *Table) Lookup(name string) (Definition, bool) {
	for _, e := range t.entries {
		if strings.EqualFold(e.def.Name, name) {
			return *e.def, true
		}
	}
	return Definition{}, false
}

func (t *Table) clean(text string) string {
	text = collapse(stripNonLetters(strings.ToLower(text)))
	return collapse(t.correct(text))
}

func (t *Table) correct(text string) string {
	for _, c := range t.corrections {
		text = c.re.ReplaceAllString(text, c.to)
	}
	return text
}

func validateDefinition(d Definition) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: command name is required", ErrInvalidTable)
	}
	if len(d.Synonyms) == 0 {
		return fmt.Errorf("%w: command %q declares no synonyms", ErrInvalidTable, d.Name)
	}
	switch d.Category {
	case CategoryNavigation, CategoryDetection, CategoryChat, CategorySettings, CategoryRead, CategoryMeta:
	default:
		return fmt.Errorf("%w: command %q has unknown category %q", ErrInvalidTable, d.Name, d.Category)
	}
	switch d.Action {
	case ActionNavigate, ActionOpenChat, ActionCloseChat, ActionStartDetection, ActionStopDetection,
		ActionLogout, ActionLogin, ActionStopReading:
	case ActionSetPreference:
		switch d.Preference {
		case PreferenceVoiceCommands, PreferenceAudioFeedback, PreferenceLocation:
		default:
			return fmt.Errorf("%w: command %q has unknown preference %q", ErrInvalidTable, d.Name, d.Preference)
		}
	case ActionReadSection:
		if strings.TrimSpace(d.Section) == "" {
			return fmt.Errorf("%w: command %q must name a section", ErrInvalidTable, d.Name)
		}
	default:
		return fmt.Errorf("%w: command %q has unknown action %q", ErrInvalidTable, d.Name, d.Action)
	}
	return nil
}

var nonLetters = regexp.MustCompile(`[^a-z\s]`)

func stripNonLetters(s string) string {
	return nonLetters.ReplaceAllString(s, "")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func wholeWord(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
}
