package stt

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/clock"
	"github.com/loqalabs/loqa-robin/internal/config"
	"github.com/loqalabs/loqa-robin/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	transcribeTimeout = 45 * time.Second
	// maxUtterance caps how much audio one utterance may buffer before it is
	// transcribed as final regardless of the client.
	maxUtterance = 15 * time.Second
)

type publisher interface {
	PublishJSON(subject string, v any) error
}

// Service buffers audio frames per session and publishes transcripts. Frames
// are only accepted for sessions that asked to listen. At most one
// transcription runs per session; a final requested meanwhile runs next.
type Service struct {
	cfg         config.STTConfig
	bus         *bus.Client
	pub         publisher
	transcriber Transcriber
	clock       clock.Clock
	logger      *slog.Logger
	maxBytes    int

	mu       sync.Mutex
	sessions map[string]*utterance

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	ready  bool
}

type utterance struct {
	listening   bool
	pcm         []byte
	lastPartial time.Time
	busy        bool
	finalQueued bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, transcriber Transcriber, logger *slog.Logger) *Service {
	s := newService(parent, cfg, busClient, transcriber, clock.Real(), logger)
	s.bus = busClient
	return s
}

func newService(parent context.Context, cfg config.STTConfig, pub publisher, transcriber Transcriber, clk clock.Clock, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:         cfg,
		pub:         pub,
		transcriber: transcriber,
		clock:       clk,
		logger:      logger.With(slog.String("component", "stt")),
		maxBytes:    int(maxUtterance.Seconds()) * cfg.SampleRate * cfg.Channels * 2,
		sessions:    make(map[string]*utterance),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	frames, err := bus.SubscribeJSON(s.bus, protocol.SubjectAudioFramePrefix+".>", func(f protocol.AudioFrame, _ *nats.Msg) {
		s.frame(f)
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, frames)
	for subject, listening := range map[string]bool{
		protocol.SubjectListenStart: true,
		protocol.SubjectListenStop:  false,
	} {
		sub, err := bus.SubscribeJSON(s.bus, subject, func(ctl protocol.ListenControl, _ *nats.Msg) {
			s.listen(ctl, listening)
		})
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) listen(ctl protocol.ListenControl, on bool) {
	if ctl.SessionID == "" {
		s.logger.Warn("listen control without session")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.sessions[ctl.SessionID]
	if on {
		if u == nil {
			u = &utterance{}
			s.sessions[ctl.SessionID] = u
		}
		u.listening = true
		s.logger.Debug("listening", slog.String("session_id", ctl.SessionID), slog.String("locale", ctl.Locale))
		return
	}
	if u == nil {
		return
	}
	u.listening = false
	if !u.busy {
		delete(s.sessions, ctl.SessionID)
	}
}

func (s *Service) frame(f protocol.AudioFrame) {
	s.mu.Lock()
	u := s.sessions[f.SessionID]
	if u == nil || !u.listening {
		s.mu.Unlock()
		return
	}
	u.pcm = append(u.pcm, f.PCM...)
	final := f.Final || (s.maxBytes > 0 && len(u.pcm) >= s.maxBytes)
	partial := !final && s.cfg.PublishInterim && s.partialDue(u)
	s.mu.Unlock()

	if final || partial {
		s.transcribe(f.SessionID, final)
	}
}

// partialDue reports whether enough time passed since the last interim
// transcript. The first frame of an utterance is always due.
func (s *Service) partialDue(u *utterance) bool {
	if u.busy {
		return false
	}
	if u.lastPartial.IsZero() {
		return true
	}
	every := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	return every > 0 && s.clock.Now().Sub(u.lastPartial) >= every
}

func (s *Service) transcribe(sessionID string, final bool) {
	s.mu.Lock()
	u := s.sessions[sessionID]
	if u == nil {
		s.mu.Unlock()
		return
	}
	if u.busy {
		u.finalQueued = u.finalQueued || final
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), u.pcm...)
	u.busy = true
	if final {
		u.pcm = nil
	} else {
		u.lastPartial = s.clock.Now()
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(sessionID, pcm, final)
	}()
}

func (s *Service) run(sessionID string, pcm []byte, final bool) {
	ctx, cancel := context.WithTimeout(s.ctx, transcribeTimeout)
	result, err := s.transcriber.Transcribe(ctx, pcm, s.cfg.SampleRate, s.cfg.Channels, final)
	cancel()
	switch {
	case err != nil && final:
		s.logger.Warn("stt transcription failed", slog.String("session_id", sessionID), slogError(err))
		s.publish(protocol.SubjectRecognizerError, protocol.RecognizerError{
			SessionID: sessionID,
			Code:      CodeTranscription,
			Message:   err.Error(),
			Timestamp: s.clock.Now().UTC(),
		})
	case err != nil:
		s.logger.Debug("interim transcription failed", slog.String("session_id", sessionID), slogError(err))
	default:
		s.publishTranscript(sessionID, result, final)
	}

	s.mu.Lock()
	u := s.sessions[sessionID]
	queued := false
	if u != nil {
		u.busy = false
		queued, u.finalQueued = u.finalQueued, false
		if final {
			u.lastPartial = time.Time{}
		}
		if !u.listening && !queued {
			delete(s.sessions, sessionID)
		}
	}
	s.mu.Unlock()

	if queued {
		s.transcribe(sessionID, true)
	}
}

// publishTranscript drops empty partials but always publishes finals so the
// listener can tell an empty utterance from silence on the wire.
func (s *Service) publishTranscript(sessionID string, result TranscriptResult, final bool) {
	text := strings.TrimSpace(result.Text)
	if text == "" && !final {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if final {
		subject = protocol.SubjectTranscriptFinal
	}
	s.publish(subject, protocol.Transcript{
		SessionID:    sessionID,
		Text:         text,
		Alternatives: result.Alternatives,
		Partial:      !final,
		Timestamp:    s.clock.Now().UTC(),
		Confidence:   result.Confidence,
	})
}

func (s *Service) publish(subject string, v any) {
	if err := s.pub.PublishJSON(subject, v); err != nil {
		s.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
