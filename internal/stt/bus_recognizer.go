package stt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusRecognizer drives the transcription service over the bus: Start and Stop
// publish listen controls and transcripts for the session come back as
// callbacks. Results arriving while stopped are dropped.
type BusRecognizer struct {
	bus       *bus.Client
	sessionID string
	logger    *slog.Logger
	slot      listenerSlot

	mu        sync.Mutex
	subs      []*nats.Subscription
	listening bool
}

func NewBusRecognizer(busClient *bus.Client, sessionID string, logger *slog.Logger) *BusRecognizer {
	return &BusRecognizer{
		bus:       busClient,
		sessionID: sessionID,
		logger:    logger.With(slog.String("component", "stt-recognizer")),
	}
}

func (r *BusRecognizer) Subscribe(l Listener) (Subscription, error) {
	return r.slot.subscribe(l)
}

func (r *BusRecognizer) Start(locale string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listening {
		return ErrAlreadyStarted
	}
	if err := r.ensureSubscribedLocked(); err != nil {
		return err
	}
	if err := r.bus.PublishJSON(protocol.SubjectListenStart, protocol.ListenControl{SessionID: r.sessionID, Locale: locale}); err != nil {
		return err
	}
	r.listening = true
	return nil
}

func (r *BusRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = false
	return r.bus.PublishJSON(protocol.SubjectListenStop, protocol.ListenControl{SessionID: r.sessionID})
}

func (r *BusRecognizer) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = false
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
	return r.bus.PublishJSON(protocol.SubjectListenStop, protocol.ListenControl{SessionID: r.sessionID, Destroy: true})
}

func (r *BusRecognizer) ensureSubscribedLocked() error {
	if len(r.subs) > 0 {
		return nil
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectTranscriptFinal:   r.handleTranscript,
		protocol.SubjectTranscriptPartial: r.handleTranscript,
		protocol.SubjectRecognizerError:   r.handleError,
	}
	for subject, handler := range handlers {
		sub, err := r.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			for _, s := range r.subs {
				_ = s.Unsubscribe()
			}
			r.subs = nil
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *BusRecognizer) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

func (r *BusRecognizer) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		r.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	if transcript.SessionID != r.sessionID || !r.active() {
		return
	}
	results := transcript.Alternatives
	if len(results) == 0 && transcript.Text != "" {
		results = []string{transcript.Text}
	}
	if transcript.Partial {
		r.slot.partial(results)
		return
	}
	r.slot.final(results)
}

func (r *BusRecognizer) handleError(msg *nats.Msg) {
	var payload protocol.RecognizerError
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		r.logger.Warn("failed to decode recognizer error", slogError(err))
		return
	}
	if payload.SessionID != r.sessionID || !r.active() {
		return
	}
	r.slot.fail(payload.Code, payload.Message)
}
