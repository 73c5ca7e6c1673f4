package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a command table.
type File struct {
	Version     int          `yaml:"version"`
	WakeWord    string       `yaml:"wake_word,omitempty"`
	Commands    []Definition `yaml:"commands"`
	Corrections []Correction `yaml:"corrections,omitempty"`
	// KeepDefaultCorrections appends the built-in corrections after the file's own.
	KeepDefaultCorrections bool `yaml:"keep_default_corrections,omitempty"`
}

// LoadFile reads a command table file from disk.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Validate checks the file header; command rules are enforced by Compile.
func (f File) Validate() error {
	if f.Version != 1 {
		return fmt.Errorf("%w: version %d not supported", ErrInvalidTable, f.Version)
	}
	if len(f.Commands) == 0 {
		return fmt.Errorf("%w: commands must declare at least one entry", ErrInvalidTable)
	}
	return nil
}

// Compile validates the file and builds its table.
func (f File) Compile() (*Table, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	corrections := f.Corrections
	if f.KeepDefaultCorrections {
		corrections = append(append([]Correction(nil), corrections...), DefaultCorrections()...)
	}
	return NewTable(f.Commands, corrections)
}

// LoadTable returns the built-in table when path is empty, otherwise the
// compiled table from the file. The returned wake word is empty unless the
// file sets one.
func LoadTable(path string) (*Table, string, error) {
	if path == "" {
		return DefaultTable(), "", nil
	}
	f, err := LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	t, err := f.Compile()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return t, f.WakeWord, nil
}

// DefaultFile renders the built-in table in file form.
func DefaultFile() File {
	return File{
		Version:     1,
		WakeWord:    DefaultWakeWord,
		Commands:    DefaultDefinitions(),
		Corrections: DefaultCorrections(),
	}
}
