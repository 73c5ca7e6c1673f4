package voice

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-robin/internal/clock"
	"github.com/loqalabs/loqa-robin/internal/eventloop"
	"github.com/loqalabs/loqa-robin/internal/intent"
	"github.com/loqalabs/loqa-robin/internal/stt"
)

// State is the recognition session's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateCooldown:
		return "cooldown"
	default:
		return "idle"
	}
}

// SessionConfig holds the session's fixed delays.
type SessionConfig struct {
	Locale       string
	Debounce     time.Duration
	Cooldown     time.Duration
	RestartDelay time.Duration
}

// DefaultSessionConfig returns the stock timings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Locale:       "en-US",
		Debounce:     600 * time.Millisecond,
		Cooldown:     2000 * time.Millisecond,
		RestartDelay: 1000 * time.Millisecond,
	}
}

// Handler receives the session's outcomes.
type Handler interface {
	HandleCommand(cmd intent.Command)
	HandleQuestion(question string)
	// HandleDropped is called for a command or question classified during cooldown.
	HandleDropped(transcript string)
	// HandleRecognizerError is called once per non-benign recognizer error.
	HandleRecognizerError(code, message string)
}

// Session owns the recognizer subscription and the listen, debounce, cooldown
// and restart cycle. All methods must run on the session's loop.
type Session struct {
	cfg        SessionConfig
	recognizer stt.Recognizer
	matcher    *intent.Matcher
	handler    Handler
	clock      clock.Clock
	loop       *eventloop.Loop
	logger     *slog.Logger

	sub            stt.Subscription
	gen            uint64
	listening      bool
	lastError      string
	suspended      bool
	cooling        bool
	lastTranscript string
	debounce       clock.Timer
	cooldown       clock.Timer
	restart        clock.Timer
	onState        func(State)
	lastState      State
}

func NewSession(cfg SessionConfig, recognizer stt.Recognizer, matcher *intent.Matcher, handler Handler, clk clock.Clock, loop *eventloop.Loop, logger *slog.Logger) *Session {
	return &Session{
		cfg:        cfg,
		recognizer: recognizer,
		matcher:    matcher,
		handler:    handler,
		clock:      clk,
		loop:       loop,
		logger:     logger.With(slog.String("component", "voice-session")),
	}
}

// OnStateChange registers fn to observe state transitions.
func (s *Session) OnStateChange(fn func(State)) { s.onState = fn }

// State derives the current state from the session's flags.
func (s *Session) State() State {
	switch {
	case s.debounce != nil:
		return StateProcessing
	case s.cooling:
		return StateCooldown
	case s.listening:
		return StateListening
	default:
		return StateIdle
	}
}

// Attached reports whether the session holds the recognizer subscription.
func (s *Session) Attached() bool { return s.sub != nil }

// Suspended reports whether the microphone was taken away from the session.
func (s *Session) Suspended() bool { return s.suspended }

// LastTranscript is the most recent finalized phrase.
func (s *Session) LastTranscript() string { return s.lastTranscript }

// Attach claims the recognizer's callbacks. It is a no-op when already attached.
func (s *Session) Attach() error {
	if s.sub != nil {
		return nil
	}
	gen := s.gen + 1
	sub, err := s.recognizer.Subscribe(stt.Listener{
		OnFinalResults: func(results []string) {
			s.loop.Post(func() {
				if gen == s.gen {
					s.onFinal(results)
				}
			})
		},
		OnPartialResults: func([]string) {},
		OnError: func(code, message string) {
			s.loop.Post(func() {
				if gen == s.gen {
					s.onError(code, message)
				}
			})
		},
	})
	if err != nil {
		return err
	}
	s.gen = gen
	s.sub = sub
	return nil
}

// Start begins listening. It is a no-op while already listening, suspended or
// cooling down; the latter two resume listening on their own.
func (s *Session) Start() {
	defer s.emitState()
	if s.sub == nil {
		if err := s.Attach(); err != nil {
			s.logger.Warn("cannot attach recognizer", slogError(err))
			return
		}
	}
	if s.listening || s.suspended || s.cooling {
		return
	}
	err := s.recognizer.Start(s.cfg.Locale)
	switch {
	case err == nil, errors.Is(err, stt.ErrAlreadyStarted):
		s.listening = true
		cancelTimer(&s.restart)
	default:
		s.logger.Warn("failed to start recognizer", slogError(err))
		s.reportError(stt.CodeTransport, err.Error())
		s.scheduleRestart()
	}
}

// Suspend releases the microphone without dropping the subscription. Pending
// transcripts are discarded; an active cooldown keeps running.
func (s *Session) Suspend() {
	defer s.emitState()
	if s.suspended {
		return
	}
	s.suspended = true
	cancelTimer(&s.debounce)
	cancelTimer(&s.restart)
	s.lastTranscript = ""
	s.stopListening()
}

// Resume gives the microphone back and starts listening if possible.
func (s *Session) Resume() {
	if !s.suspended {
		return
	}
	s.suspended = false
	s.Start()
}

// Teardown destroys the recognizer, drops the subscription and clears every
// timer. It is idempotent and never fails; errors are logged.
func (s *Session) Teardown() {
	defer s.emitState()
	cancelTimer(&s.debounce)
	cancelTimer(&s.cooldown)
	cancelTimer(&s.restart)
	if s.listening {
		if err := s.recognizer.Stop(); err != nil {
			s.logger.Debug("recognizer stop during teardown failed", slogError(err))
		}
	}
	if s.sub != nil {
		if err := s.recognizer.Destroy(); err != nil {
			s.logger.Debug("recognizer destroy failed", slogError(err))
		}
		s.sub.Unsubscribe()
		s.sub = nil
		s.gen++
	}
	s.listening = false
	s.lastError = ""
	s.suspended = false
	s.cooling = false
	s.lastTranscript = ""
}

func (s *Session) onFinal(results []string) {
	if s.suspended {
		return
	}
	defer s.emitState()
	phrase := ""
	if len(results) > 0 {
		phrase = strings.TrimSpace(results[len(results)-1])
	}
	if phrase == "" {
		s.logger.Debug("empty recognition result, restarting")
		s.stopListening()
		s.scheduleRestart()
		return
	}
	s.lastError = ""
	s.lastTranscript = phrase
	s.arm(&s.debounce, s.cfg.Debounce, s.classify)
}

func (s *Session) onError(code, message string) {
	if s.suspended {
		return
	}
	defer s.emitState()
	s.stopListening()
	if stt.Benign(code, message) {
		s.logger.Debug("benign recognizer error", slog.String("code", code), slog.String("message", message))
	} else {
		s.logger.Warn("recognizer error", slog.String("code", code), slog.String("message", message))
		s.reportError(code, message)
	}
	s.scheduleRestart()
}

// reportError surfaces a hard error unless it repeats the last one surfaced.
// A result from the recognizer clears the repeat guard.
func (s *Session) reportError(code, message string) {
	key := code + "\x00" + message
	if key == s.lastError {
		return
	}
	s.lastError = key
	s.handler.HandleRecognizerError(code, message)
}

func (s *Session) classify() {
	defer s.emitState()
	text := s.lastTranscript
	if cmd, ok := s.matcher.Classify(text); ok {
		if s.cooling {
			s.logger.Info("command dropped during cooldown", slog.String("command", cmd.Name))
			s.handler.HandleDropped(text)
			return
		}
		s.stopListening()
		s.handler.HandleCommand(cmd)
		s.beginCooldown()
		return
	}
	if question, ok := s.matcher.ExtractQuestion(text); ok {
		if s.cooling {
			s.logger.Info("question dropped during cooldown")
			s.handler.HandleDropped(text)
			return
		}
		s.stopListening()
		s.handler.HandleQuestion(question)
		s.beginCooldown()
		return
	}
	s.logger.Debug("transcript did not match", slog.String("transcript", text))
}

func (s *Session) beginCooldown() {
	if s.sub == nil {
		// The handler tore the session down.
		return
	}
	s.cooling = true
	cancelTimer(&s.restart)
	s.arm(&s.cooldown, s.cfg.Cooldown, func() {
		s.cooling = false
		s.Start()
	})
}

func (s *Session) scheduleRestart() {
	if s.cooling || s.restart != nil {
		return
	}
	s.arm(&s.restart, s.cfg.RestartDelay, s.Start)
}

func (s *Session) stopListening() {
	if !s.listening {
		return
	}
	s.listening = false
	if err := s.recognizer.Stop(); err != nil {
		s.logger.Debug("recognizer stop failed", slogError(err))
	}
}

// arm (re)starts the timer in slot. A fire that was already queued when the
// slot was re-armed or cleared is ignored.
func (s *Session) arm(slot *clock.Timer, d time.Duration, fn func()) {
	if *slot != nil {
		if (*slot).Reset(d) {
			return
		}
		(*slot).Stop()
	}
	var t clock.Timer
	t = s.clock.AfterFunc(d, func() {
		s.loop.Post(func() {
			if *slot != t {
				return
			}
			*slot = nil
			fn()
		})
	})
	*slot = t
}

func cancelTimer(slot *clock.Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

func (s *Session) emitState() {
	state := s.State()
	if state == s.lastState {
		return
	}
	s.lastState = state
	if s.onState != nil {
		s.onState(state)
	}
}
