// Package prefs holds the user-facing preference flags the voice runtime
// reads at dispatch time and toggles from settings commands.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnknownPreference is returned for names outside the known flag set.
var ErrUnknownPreference = errors.New("prefs: unknown preference")

// Preference names. The first three match the command table's set_preference
// targets.
const (
	VoiceCommands     = "voice_commands"
	AudioFeedback     = "audio_feedback"
	Location          = "location"
	DetectionActive   = "detection_active"
	ShowCommandPopups = "show_command_popups"
)

// Names lists every preference in a stable order.
var Names = []string{VoiceCommands, AudioFeedback, Location, DetectionActive, ShowCommandPopups}

// Flags is a snapshot of every preference.
type Flags struct {
	VoiceCommands     bool `json:"voice_commands"`
	AudioFeedback     bool `json:"audio_feedback"`
	Location          bool `json:"location"`
	DetectionActive   bool `json:"detection_active"`
	ShowCommandPopups bool `json:"show_command_popups"`
}

func (f *Flags) field(name string) (*bool, error) {
	switch name {
	case VoiceCommands:
		return &f.VoiceCommands, nil
	case AudioFeedback:
		return &f.AudioFeedback, nil
	case Location:
		return &f.Location, nil
	case DetectionActive:
		return &f.DetectionActive, nil
	case ShowCommandPopups:
		return &f.ShowCommandPopups, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreference, name)
	}
}

// Change describes one flag transition.
type Change struct {
	Name     string
	Value    bool
	Previous bool
}

// Persister stores flags across restarts.
type Persister interface {
	LoadPreferences(ctx context.Context) (map[string]bool, error)
	SavePreference(ctx context.Context, name string, value bool) error
}

// Store is the live preference set. Reads never block on listeners; listeners
// run on the goroutine that made the change, after the lock is released.
type Store struct {
	mu        sync.RWMutex
	flags     Flags
	listeners []listener
	nextID    int
	persist   Persister
	logger    *slog.Logger
}

type listener struct {
	id int
	fn func(Change)
}

// NewStore returns a store seeded with defaults. persist may be nil.
func NewStore(defaults Flags, persist Persister, logger *slog.Logger) *Store {
	return &Store{
		flags:   defaults,
		persist: persist,
		logger:  logger.With(slog.String("component", "prefs")),
	}
}

// Load overlays persisted values on the defaults without notifying listeners.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	saved, err := s.persist.LoadPreferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range saved {
		ptr, err := s.flags.field(name)
		if err != nil {
			s.logger.Warn("ignoring stored preference", slog.String("name", name))
			continue
		}
		*ptr = value
	}
	return nil
}

// Snapshot returns a copy of every flag.
func (s *Store) Snapshot() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// Get returns a flag by name.
func (s *Store) Get(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ptr, err := s.flags.field(name)
	if err != nil {
		return false, err
	}
	return *ptr, nil
}

// Set changes a flag by name. Setting a flag to its current value is a no-op
// and notifies nobody.
func (s *Store) Set(name string, value bool) error {
	s.mu.Lock()
	ptr, err := s.flags.field(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	previous := *ptr
	if previous == value {
		s.mu.Unlock()
		return nil
	}
	*ptr = value
	fns := make([]func(Change), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	s.mu.Unlock()

	if s.persist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.persist.SavePreference(ctx, name, value); err != nil {
			s.logger.Warn("failed to persist preference", slog.String("name", name), slog.String("error", err.Error()))
		}
		cancel()
	}

	change := Change{Name: name, Value: value, Previous: previous}
	for _, fn := range fns {
		fn(change)
	}
	return nil
}

// OnChange registers fn for every future transition and returns a func that
// removes it.
func (s *Store) OnChange(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) get(name string) bool {
	v, _ := s.Get(name)
	return v
}

func (s *Store) set(name string, value bool) {
	_ = s.Set(name, value)
}

func (s *Store) VoiceCommandsEnabled() bool { return s.get(VoiceCommands) }
func (s *Store) AudioFeedbackEnabled() bool { return s.get(AudioFeedback) }
func (s *Store) LocationEnabled() bool      { return s.get(Location) }
func (s *Store) DetectionActive() bool      { return s.get(DetectionActive) }
func (s *Store) ShowCommandPopups() bool    { return s.get(ShowCommandPopups) }

func (s *Store) SetVoiceCommandsEnabled(v bool) { s.set(VoiceCommands, v) }
func (s *Store) SetAudioFeedbackEnabled(v bool) { s.set(AudioFeedback, v) }
func (s *Store) SetLocationEnabled(v bool)      { s.set(Location, v) }
func (s *Store) SetDetectionActive(v bool)      { s.set(DetectionActive, v) }
func (s *Store) SetShowCommandPopups(v bool)    { s.set(ShowCommandPopups, v) }
