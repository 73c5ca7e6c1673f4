package tts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/config"
	"github.com/loqalabs/loqa-robin/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const synthesizeTimeout = 45 * time.Second

// errSuperseded cancels an utterance replaced by a newer one for the same session.
var errSuperseded = errors.New("superseded by a newer utterance")

type publisher interface {
	PublishJSON(subject string, v any) error
}

// Service turns tts.request messages into tts.audio chunks followed by one
// tts.done. Each session speaks one utterance at a time: a new request for a
// session replaces the one in flight, which finishes as cancelled.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	pub    publisher
	synth  Synthesizer
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	speaking map[string]utterance

	utterances metric.Int64Counter
}

type utterance struct {
	id     uint64
	cancel context.CancelCauseFunc
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, log *slog.Logger) *Service {
	s := newService(parent, cfg, busClient, synth, log)
	s.bus = busClient
	return s
}

func newService(parent context.Context, cfg config.TTSConfig, pub publisher, synth Synthesizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		pub:      pub,
		synth:    synth,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
		speaking: make(map[string]utterance),
	}
	var err error
	s.utterances, err = otel.Meter("github.com/loqalabs/loqa-robin/internal/tts").Int64Counter("robin.tts.utterances",
		metric.WithDescription("Synthesis requests by outcome"))
	if err != nil {
		s.logger.Warn("failed to create utterance counter", slogError(err))
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := bus.SubscribeJSON(s.bus, protocol.SubjectTTSRequest, func(req protocol.TTSRequest, _ *nats.Msg) {
		s.speak(req)
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	// Cancel bodies may be empty, so they are decoded by hand.
	sub, err = s.bus.Conn().Subscribe(protocol.SubjectTTSCancel, s.handleCancel)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

// Active returns the number of sessions currently speaking.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speaking)
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.TTSCancel
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.logger.Warn("failed to decode tts cancel", slogError(err))
			return
		}
	}
	s.cancelSession(req.SessionID)
}

// cancelSession silences sessionID, or every session when empty.
func (s *Service) cancelSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for session, u := range s.speaking {
		if sessionID == "" || session == sessionID {
			u.cancel(context.Canceled)
			n++
		}
	}
	return n
}

func (s *Service) speak(req protocol.TTSRequest) {
	if req.Voice == "" {
		req.Voice = s.cfg.Voice
	}
	ctx, cancel := context.WithCancelCause(s.ctx)
	ctx, stop := context.WithTimeout(ctx, synthesizeTimeout)

	s.mu.Lock()
	if prev, ok := s.speaking[req.SessionID]; ok {
		prev.cancel(errSuperseded)
	}
	s.nextID++
	id := s.nextID
	s.speaking[req.SessionID] = utterance{id: id, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.synthesize(ctx, req)
		stop()
		cancel(nil)

		s.mu.Lock()
		if cur, ok := s.speaking[req.SessionID]; ok && cur.id == id {
			delete(s.speaking, req.SessionID)
		}
		s.mu.Unlock()
		s.finish(req.SessionID, err)
	}()
}

// synthesize relays audio until the final chunk and returns why it stopped
// early, if it did.
func (s *Service) synthesize(ctx context.Context, req protocol.TTSRequest) error {
	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
		Voice:     req.Voice,
		Language:  req.Language,
		Rate:      req.Rate,
		Pitch:     req.Pitch,
	})
	seq := 0
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			s.publish(protocol.SubjectTTSAudio, protocol.TTSAudioChunk{
				SessionID:  req.SessionID,
				SampleRate: chunk.SampleRate,
				Channels:   chunk.Channels,
				Sequence:   seq,
				PCM:        chunk.PCM,
				Final:      chunk.Final,
			})
			seq++
			if chunk.Final {
				return nil
			}
		case err, ok := <-errs:
			errs = nil
			if ok && err != nil {
				return cause(ctx, err)
			}
		case <-ctx.Done():
			return cause(ctx, ctx.Err())
		}
	}
	return nil
}

// cause prefers the reason the utterance was cancelled over the bare context error.
func cause(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		if c := context.Cause(ctx); c != nil {
			return c
		}
	}
	return err
}

func (s *Service) finish(sessionID string, err error) {
	done := protocol.TTSDone{SessionID: sessionID}
	outcome := "done"
	switch {
	case errors.Is(err, errSuperseded):
		done.Cancelled = true
		outcome = "superseded"
	case errors.Is(err, context.Canceled):
		done.Cancelled = true
		outcome = "cancelled"
	case err != nil:
		done.Error = err.Error()
		outcome = "error"
		s.logger.Warn("tts synthesis failed", slog.String("session_id", sessionID), slogError(err))
	}
	s.publish(protocol.SubjectTTSDone, done)
	if s.utterances != nil {
		s.utterances.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (s *Service) publish(subject string, v any) {
	if err := s.pub.PublishJSON(subject, v); err != nil {
		s.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
