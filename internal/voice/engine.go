package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/loqalabs/loqa-robin/internal/clock"
	"github.com/loqalabs/loqa-robin/internal/eventloop"
	"github.com/loqalabs/loqa-robin/internal/eventstore"
	"github.com/loqalabs/loqa-robin/internal/intent"
	"github.com/loqalabs/loqa-robin/internal/prefs"
	"github.com/loqalabs/loqa-robin/internal/stt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// PreferenceStore is the live preference set the engine follows.
type PreferenceStore interface {
	Preferences
	OnChange(fn func(prefs.Change)) (cancel func())
}

// DetectionController runs the periodic detection recording.
type DetectionController interface {
	Start()
	Stop()
	Active() bool
}

// Timeline records notable engine events. Implementations must not block.
type Timeline interface {
	Record(eventType string, payload any)
}

// EngineConfig tunes an Engine.
type EngineConfig struct {
	Session          SessionConfig
	SettingsAnywhere bool
}

// EngineDeps wires an Engine. Detection and Timeline may be nil.
type EngineDeps struct {
	Recognizer stt.Recognizer
	Matcher    *intent.Matcher
	Prefs      PreferenceStore
	Dispatch   DispatcherDeps
	Arbiter    *Arbiter
	Detection  DetectionController
	Timeline   Timeline
	Clock      clock.Clock
	Loop       *eventloop.Loop
}

// Engine binds the recognition session, microphone arbiter, detection cycle
// and dispatcher to the preference store. Mount and Unmount are its only
// lifecycle hooks.
type Engine struct {
	session    *Session
	dispatcher *Dispatcher
	notifier   Notifier
	prefs      PreferenceStore
	arbiter    *Arbiter
	detection  DetectionController
	timeline   Timeline
	loop       *eventloop.Loop
	inst       *instruments
	logger     *slog.Logger

	mounted     bool
	cancelPrefs func()

	mountedFlag atomic.Bool
	state       atomic.Int32
}

func NewEngine(cfg EngineConfig, deps EngineDeps, logger *slog.Logger) (*Engine, error) {
	if deps.Recognizer == nil || deps.Matcher == nil || deps.Prefs == nil || deps.Loop == nil {
		return nil, errors.New("voice: engine requires recognizer, matcher, preferences and loop")
	}
	if deps.Dispatch.Notifier == nil {
		return nil, errors.New("voice: engine requires a notifier")
	}
	if deps.Dispatch.Prefs == nil {
		deps.Dispatch.Prefs = deps.Prefs
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Arbiter == nil {
		deps.Arbiter = NewArbiter(logger)
	}

	e := &Engine{
		dispatcher: NewDispatcher(deps.Dispatch, cfg.SettingsAnywhere, logger),
		notifier:   deps.Dispatch.Notifier,
		prefs:      deps.Prefs,
		arbiter:    deps.Arbiter,
		detection:  deps.Detection,
		timeline:   deps.Timeline,
		loop:       deps.Loop,
		logger:     logger.With(slog.String("component", "voice-engine")),
	}
	e.session = NewSession(cfg.Session, deps.Recognizer, deps.Matcher, e, deps.Clock, deps.Loop, logger)
	e.session.OnStateChange(e.onSessionState)
	e.arbiter.Register(ConsumerCommands, e.session)
	e.arbiter.OnOwnerChange(func(owner Consumer) {
		e.record(eventstore.TypeMicrophone, map[string]any{"owner": string(owner)})
	})

	inst, err := newInstruments(e.arbiter, e.State)
	if err != nil {
		return nil, fmt.Errorf("voice instruments: %w", err)
	}
	e.inst = inst
	return e, nil
}

// Mount starts whatever the preferences ask for and follows them until
// Unmount.
func (e *Engine) Mount() {
	e.loop.Post(e.mount)
}

// Unmount stops listening and detection and releases the microphone.
func (e *Engine) Unmount() {
	e.loop.Post(e.unmount)
}

// Mounted reports whether the engine is mounted. Safe from any goroutine.
func (e *Engine) Mounted() bool { return e.mountedFlag.Load() }

// State is the session state last observed. Safe from any goroutine.
func (e *Engine) State() State { return State(e.state.Load()) }

// Dispatcher exposes the engine's dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Session exposes the engine's recognition session. Use it only on the loop.
func (e *Engine) Session() *Session { return e.session }

func (e *Engine) mount() {
	if e.mounted {
		return
	}
	e.mounted = true
	e.mountedFlag.Store(true)
	e.cancelPrefs = e.prefs.OnChange(func(c prefs.Change) {
		e.loop.Post(func() { e.onPreference(c) })
	})
	if e.prefs.VoiceCommandsEnabled() {
		e.enableVoice()
	}
	if e.detection != nil && e.prefs.DetectionActive() {
		e.detection.Start()
	}
	e.logger.Info("voice engine mounted",
		slog.Bool("voice_commands", e.prefs.VoiceCommandsEnabled()),
		slog.Bool("detection", e.prefs.DetectionActive()),
	)
}

func (e *Engine) unmount() {
	if !e.mounted {
		return
	}
	e.mounted = false
	e.mountedFlag.Store(false)
	if e.cancelPrefs != nil {
		e.cancelPrefs()
		e.cancelPrefs = nil
	}
	e.disableVoice()
	if e.detection != nil {
		e.detection.Stop()
	}
	e.logger.Info("voice engine unmounted")
}

func (e *Engine) onPreference(c prefs.Change) {
	if !e.mounted {
		return
	}
	switch c.Name {
	case prefs.VoiceCommands:
		// Re-read; a later change may already be queued behind this one.
		if e.prefs.VoiceCommandsEnabled() {
			e.enableVoice()
		} else {
			e.disableVoice()
		}
	case prefs.DetectionActive:
		if e.detection == nil {
			return
		}
		if e.prefs.DetectionActive() {
			e.detection.Start()
		} else {
			e.detection.Stop()
		}
	}
}

func (e *Engine) enableVoice() {
	if err := e.session.Attach(); err != nil {
		e.logger.Warn("cannot attach recognizer", slogError(err))
		return
	}
	if err := e.arbiter.Acquire(ConsumerCommands); err != nil {
		if errors.Is(err, ErrMicBusy) {
			e.logger.Info("microphone busy, command listening deferred")
			e.session.Suspend()
			return
		}
		e.logger.Warn("cannot acquire microphone", slogError(err))
		return
	}
	e.session.Start()
}

func (e *Engine) disableVoice() {
	e.session.Teardown()
	e.arbiter.Release(ConsumerCommands)
}

// HandleCommand dispatches a classified command.
func (e *Engine) HandleCommand(cmd intent.Command) {
	ctx, span := e.inst.tracer.Start(context.Background(), "voice.dispatch",
		trace.WithAttributes(
			attribute.String("command", cmd.Name),
			attribute.String("pass", cmd.Pass.String()),
		))
	defer span.End()

	out := e.dispatcher.Dispatch(cmd, e.dispatcher.Context())
	span.SetAttributes(attribute.String("rule", out.Rule))
	e.inst.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", cmd.Name),
		attribute.String("rule", out.Rule),
	))
	e.record(eventstore.TypeCommand, map[string]any{
		"command":    cmd.Name,
		"synonym":    cmd.Synonym,
		"pass":       cmd.Pass.String(),
		"rule":       out.Rule,
		"message":    out.Message,
		"transcript": e.session.LastTranscript(),
	})
}

// HandleQuestion routes a free-form question to chat.
func (e *Engine) HandleQuestion(question string) {
	ctx, span := e.inst.tracer.Start(context.Background(), "voice.question")
	defer span.End()

	out := e.dispatcher.DispatchQuestion(question)
	e.inst.questions.Add(ctx, 1)
	e.record(eventstore.TypeQuestion, map[string]any{"question": question, "message": out.Message})
}

// HandleDropped records a command or question that arrived during cooldown.
func (e *Engine) HandleDropped(transcript string) {
	e.inst.dropped.Add(context.Background(), 1)
	e.record(eventstore.TypeDropped, map[string]any{"transcript": transcript})
}

// HandleRecognizerError surfaces a hard recognizer error to the user.
func (e *Engine) HandleRecognizerError(code, message string) {
	e.inst.recognizerErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", code)))
	text := message
	if text == "" {
		text = "Speech recognition failed (" + code + ")"
	}
	e.notifier.Notify(TitleError, text)
	e.record(eventstore.TypeRecognizerError, map[string]any{"code": code, "message": message})
}

func (e *Engine) onSessionState(s State) {
	e.state.Store(int32(s))
	e.record(eventstore.TypeSessionState, map[string]any{"state": s.String()})
}

func (e *Engine) record(eventType string, payload any) {
	if e.timeline == nil {
		return
	}
	e.timeline.Record(eventType, payload)
}
