// Package app bridges the voice engine's collaborators to the mobile app over
// the bus: the app reports its screen, modal and content state, and the
// runtime asks it to navigate, toast, open chat and read sections.
package app

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/prefs"
	"github.com/loqalabs/loqa-robin/internal/protocol"
	"github.com/loqalabs/loqa-robin/internal/sections"
	"github.com/nats-io/nats.go"
)

type publisher interface {
	PublishJSON(subject string, v any) error
}

// Bridge implements voice.Navigator, voice.Toaster and voice.ChatQuestioner on
// top of bus subjects and exposes the chat modal through Modal. It also keeps
// the section registry and preference store in sync with the app.
type Bridge struct {
	bus      *bus.Client
	pub      publisher
	prefs    *prefs.Store
	sections *sections.Registry
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.RWMutex
	route         string
	chatOpen      bool
	chatAvailable bool

	subs        []*nats.Subscription
	cancelPrefs func()
}

// NewBridge creates a bridge. chatAvailable is the modal availability assumed
// until the app reports its chat state.
func NewBridge(busClient *bus.Client, store *prefs.Store, registry *sections.Registry, chatAvailable bool, logger *slog.Logger) *Bridge {
	b := newBridge(busClient, store, registry, chatAvailable, logger)
	b.bus = busClient
	return b
}

func newBridge(pub publisher, store *prefs.Store, registry *sections.Registry, chatAvailable bool, logger *slog.Logger) *Bridge {
	return &Bridge{
		pub:           pub,
		prefs:         store,
		sections:      registry,
		chatAvailable: chatAvailable,
		logger:        logger.With(slog.String("component", "app-bridge")),
		now:           time.Now,
	}
}

func (b *Bridge) Start() error {
	handlers := []struct {
		subject string
		handle  nats.MsgHandler
	}{
		{protocol.SubjectRouteChanged, decode(b, b.onRouteChanged)},
		{protocol.SubjectChatState, decode(b, b.onChatState)},
		{protocol.SubjectSectionAvailable, decode(b, b.onSectionAvailable)},
		{protocol.SubjectPreferenceSet, decode(b, b.onPreferenceSet)},
	}
	for _, h := range handlers {
		sub, err := b.bus.Conn().Subscribe(h.subject, h.handle)
		if err != nil {
			b.drain()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	b.cancelPrefs = b.prefs.OnChange(b.publishPreference)
	for name, value := range flagMap(b.prefs.Snapshot()) {
		b.publishPreference(prefs.Change{Name: name, Value: value, Previous: value})
	}
	return nil
}

func (b *Bridge) Close() {
	if b.cancelPrefs != nil {
		b.cancelPrefs()
	}
	b.drain()
}

func (b *Bridge) Healthy() bool {
	return len(b.subs) == 4
}

func (b *Bridge) drain() {
	for _, sub := range b.subs {
		_ = sub.Drain()
	}
	b.subs = nil
}

func (b *Bridge) CurrentRoute() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.route
}

// Navigate asks the app to show route and assumes it did until told otherwise.
func (b *Bridge) Navigate(route string) {
	b.mu.Lock()
	b.route = route
	b.mu.Unlock()
	b.publish(protocol.SubjectNavigate, protocol.Navigate{Route: route})
}

// Modal returns the chat modal view of the bridge.
func (b *Bridge) Modal() *ChatModal { return &ChatModal{b: b} }

// ChatModal implements voice.Modal over the bus.
type ChatModal struct {
	b *Bridge
}

func (m *ChatModal) Open() {
	m.b.setChatOpen(true)
	m.b.publish(protocol.SubjectChatOpen, struct{}{})
}

func (m *ChatModal) Close() {
	m.b.setChatOpen(false)
	m.b.publish(protocol.SubjectChatClose, struct{}{})
}

func (m *ChatModal) IsOpen() bool {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()
	return m.b.chatOpen
}

// Available reports whether the app has a chat modal to open.
func (m *ChatModal) Available() bool {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()
	return m.b.chatAvailable
}

func (b *Bridge) Show(title, message string) {
	b.publish(protocol.SubjectToast, protocol.Toast{Title: title, Message: message})
}

// AskQuestion opens the chat modal with question pre-filled and sent.
func (b *Bridge) AskQuestion(question string) {
	if m := b.Modal(); !m.IsOpen() {
		m.Open()
	}
	b.publish(protocol.SubjectChatQuestion, protocol.ChatQuestion{
		ID:       uuid.NewString(),
		Question: question,
		Asked:    b.now().UTC(),
	})
}

func (b *Bridge) setChatOpen(open bool) {
	b.mu.Lock()
	b.chatOpen = open
	b.mu.Unlock()
}

func (b *Bridge) onRouteChanged(msg protocol.RouteChanged) {
	b.mu.Lock()
	b.route = msg.Route
	b.mu.Unlock()
	b.logger.Debug("route changed", slog.String("route", msg.Route))
}

func (b *Bridge) onChatState(msg protocol.ChatState) {
	b.mu.Lock()
	b.chatOpen = msg.Open
	b.chatAvailable = msg.Available
	b.mu.Unlock()
}

func (b *Bridge) onSectionAvailable(msg protocol.SectionAvailable) {
	if !msg.Available {
		b.sections.Clear()
		return
	}
	b.sections.Set(func(section string) {
		b.publish(protocol.SubjectSectionRead, protocol.SectionRead{Section: section})
	})
}

func (b *Bridge) onPreferenceSet(msg protocol.PreferenceChange) {
	if err := b.prefs.Set(msg.Name, msg.Value); err != nil {
		b.logger.Warn("rejected preference from app", slog.String("name", msg.Name), slogError(err))
	}
}

func (b *Bridge) publishPreference(c prefs.Change) {
	b.publish(protocol.SubjectPreferenceChanged, protocol.PreferenceChange{Name: c.Name, Value: c.Value})
}

func (b *Bridge) publish(subject string, v any) {
	if err := b.pub.PublishJSON(subject, v); err != nil {
		b.logger.Warn("failed to publish to app", slog.String("subject", subject), slogError(err))
	}
}

func decode[T any](b *Bridge, handle func(T)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			b.logger.Warn("failed to decode app message", slog.String("subject", msg.Subject), slogError(err))
			return
		}
		handle(v)
	}
}

func flagMap(f prefs.Flags) map[string]bool {
	return map[string]bool{
		prefs.VoiceCommands:     f.VoiceCommands,
		prefs.AudioFeedback:     f.AudioFeedback,
		prefs.Location:          f.Location,
		prefs.DetectionActive:   f.DetectionActive,
		prefs.ShowCommandPopups: f.ShowCommandPopups,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
