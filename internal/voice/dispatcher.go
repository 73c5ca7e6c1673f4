package voice

import (
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-robin/internal/intent"
)

// Feedback titles.
const (
	TitleCommand  = "Voice Command"
	TitleSettings = "Settings"
	TitleError    = "Voice Error"
)

// SettingsRoute is the only screen settings toggles apply on, unless the
// dispatcher was built with settings allowed anywhere.
const SettingsRoute = "Settings"

// DispatchContext is the screen state a command is resolved against.
type DispatchContext struct {
	CurrentRoute  string
	ChatModalOpen bool
}

// Outcome is the single acknowledgement produced by a dispatch.
type Outcome struct {
	Rule    string
	Title   string
	Message string
}

// Notifier delivers acknowledgements. Feedback implements it.
type Notifier interface {
	Notify(title, message string)
	StopSpeaking()
}

// DispatcherDeps are the collaborators a Dispatcher drives. Modal, Chat and
// Sections may be nil.
type DispatcherDeps struct {
	Navigator Navigator
	Modal     Modal
	Prefs     Preferences
	Chat      ChatQuestioner
	Sections  SectionSource
	Notifier  Notifier
}

// Dispatcher turns classified commands into side effects. Each dispatch
// produces exactly one notification.
type Dispatcher struct {
	deps             DispatcherDeps
	settingsAnywhere bool
	logger           *slog.Logger
}

func NewDispatcher(deps DispatcherDeps, settingsAnywhere bool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		deps:             deps,
		settingsAnywhere: settingsAnywhere,
		logger:           logger.With(slog.String("component", "voice-dispatcher")),
	}
}

// Context snapshots the current screen state.
func (d *Dispatcher) Context() DispatchContext {
	ctx := DispatchContext{}
	if d.deps.Navigator != nil {
		ctx.CurrentRoute = d.deps.Navigator.CurrentRoute()
	}
	if d.modalAvailable() {
		ctx.ChatModalOpen = d.deps.Modal.IsOpen()
	}
	return ctx
}

// Dispatch resolves cmd against dctx and performs its effect. Rules are tried
// in a fixed order and the first one that applies wins.
func (d *Dispatcher) Dispatch(cmd intent.Command, dctx DispatchContext) Outcome {
	if dctx.ChatModalOpen && cmd.Category != intent.CategoryChat && d.modalAvailable() {
		d.deps.Modal.Close()
		dctx = d.Context()
		// The overlay may still report open until the app catches up.
		dctx.ChatModalOpen = false
	}

	var out Outcome
	switch {
	case cmd.Action == intent.ActionReadSection:
		out = d.readSection(cmd)
	case cmd.Action == intent.ActionStopReading:
		d.deps.Notifier.StopSpeaking()
		out = Outcome{Rule: "stop_reading", Title: TitleCommand, Message: "Stopped reading"}
	case cmd.Action == intent.ActionSetPreference && (d.settingsAnywhere || strings.EqualFold(dctx.CurrentRoute, SettingsRoute)):
		out = d.setPreference(cmd)
	case cmd.Action == intent.ActionLogout:
		d.navigate(cmd.NavigationTarget())
		out = Outcome{Rule: "auth", Title: TitleCommand, Message: "Logging out"}
	case cmd.Action == intent.ActionLogin:
		target := cmd.NavigationTarget()
		d.navigate(target)
		out = Outcome{Rule: "auth", Title: TitleCommand, Message: "Navigating to " + target}
	case cmd.Action == intent.ActionStartDetection || cmd.Action == intent.ActionStopDetection:
		out = d.toggleDetection(cmd.Action == intent.ActionStartDetection)
	case cmd.Action == intent.ActionOpenChat || cmd.Action == intent.ActionCloseChat:
		out = d.chatModal(cmd.Action == intent.ActionOpenChat)
	default:
		out = d.navigateTo(cmd.NavigationTarget(), dctx)
	}

	d.logger.Info("command dispatched",
		slog.String("command", cmd.Name),
		slog.String("rule", out.Rule),
		slog.String("route", dctx.CurrentRoute),
	)
	d.deps.Notifier.Notify(out.Title, out.Message)
	return out
}

// DispatchQuestion hands a free-form question to the chat surface.
func (d *Dispatcher) DispatchQuestion(question string) Outcome {
	out := Outcome{Rule: "question", Title: TitleCommand, Message: "Sending your question now"}
	if d.deps.Chat == nil {
		out.Message = "Chat is not available"
	} else {
		d.deps.Chat.AskQuestion(question)
	}
	d.logger.Info("question dispatched", slog.Int("length", len(question)))
	d.deps.Notifier.Notify(out.Title, out.Message)
	return out
}

func (d *Dispatcher) readSection(cmd intent.Command) Outcome {
	out := Outcome{Rule: "read_section", Title: TitleCommand}
	var read func(string)
	if d.deps.Sections != nil {
		if fn, ok := d.deps.Sections.Get(); ok {
			read = fn
		}
	}
	if read == nil {
		out.Message = "No section available"
		return out
	}
	read(cmd.Section)
	out.Message = "Reading " + cmd.Section
	return out
}

func (d *Dispatcher) setPreference(cmd intent.Command) Outcome {
	out := Outcome{Rule: "settings", Title: TitleSettings}
	state := "disabled"
	if cmd.Value {
		state = "enabled"
	}
	p := d.deps.Prefs
	switch cmd.Preference {
	case intent.PreferenceVoiceCommands:
		p.SetVoiceCommandsEnabled(cmd.Value)
		out.Message = "Voice commands " + state
	case intent.PreferenceAudioFeedback:
		p.SetAudioFeedbackEnabled(cmd.Value)
		out.Message = "Audio feedback " + state
	case intent.PreferenceLocation:
		p.SetLocationEnabled(cmd.Value)
		out.Message = "Location " + state + " for predictions"
	default:
		d.logger.Warn("unknown preference in command", slog.String("command", cmd.Name), slog.String("preference", cmd.Preference))
		out.Message = "Unknown setting " + cmd.Preference
	}
	return out
}

func (d *Dispatcher) toggleDetection(start bool) Outcome {
	out := Outcome{Rule: "detection", Title: TitleCommand}
	active := d.deps.Prefs.DetectionActive()
	switch {
	case start && active:
		out.Message = "Detection already running"
	case start:
		d.deps.Prefs.SetDetectionActive(true)
		out.Message = "Starting detection"
	case !active:
		out.Message = "Detection is not running"
	default:
		d.deps.Prefs.SetDetectionActive(false)
		out.Message = "Stopping detection"
	}
	return out
}

func (d *Dispatcher) chatModal(open bool) Outcome {
	out := Outcome{Rule: "chat", Title: TitleCommand}
	if !d.modalAvailable() {
		out.Message = "Chat is not available"
		return out
	}
	if open {
		d.deps.Modal.Open()
		out.Message = "Opening Chat"
		return out
	}
	d.deps.Modal.Close()
	out.Message = "Closing Chat"
	return out
}

func (d *Dispatcher) navigateTo(target string, dctx DispatchContext) Outcome {
	out := Outcome{Rule: "navigate", Title: TitleCommand}
	if strings.EqualFold(dctx.CurrentRoute, target) {
		out.Message = "Already on " + target
		return out
	}
	d.navigate(target)
	out.Message = "Navigating to " + target
	return out
}

func (d *Dispatcher) navigate(route string) {
	if d.deps.Navigator == nil {
		d.logger.Warn("no navigator, dropping navigation", slog.String("route", route))
		return
	}
	d.deps.Navigator.Navigate(route)
}

func (d *Dispatcher) modalAvailable() bool {
	if d.deps.Modal == nil {
		return false
	}
	if a, ok := d.deps.Modal.(availability); ok {
		return a.Available()
	}
	return true
}
