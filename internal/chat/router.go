// Package chat routes questions asked through the chat modal, by voice or by
// typing, to the language model and streams the answers back to the app.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/config"
	"github.com/loqalabs/loqa-robin/internal/protocol"
	"github.com/nats-io/nats.go"
)

// pendingTTL bounds how long an unanswered question is remembered.
const pendingTTL = 2 * time.Minute

type publisher interface {
	PublishJSON(subject string, v any) error
}

// AudioPrefs is read each time an answer could be spoken.
type AudioPrefs interface {
	AudioFeedbackEnabled() bool
}

type Service struct {
	cfg         config.ChatConfig
	voice       config.VoiceConfig
	bus         *bus.Client
	pub         publisher
	prefs       AudioPrefs
	logger      *slog.Logger
	subQuestion *nats.Subscription
	subPartial  *nats.Subscription
	subFinal    *nats.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	pending     map[string]*pendingQuestion
	now         func() time.Time
}

type pendingQuestion struct {
	Question string
	Asked    time.Time
	Answer   strings.Builder
}

func NewService(parent context.Context, cfg config.ChatConfig, voice config.VoiceConfig, busClient *bus.Client, prefs AudioPrefs, logger *slog.Logger) *Service {
	s := newService(parent, cfg, voice, busClient, prefs, logger)
	s.bus = busClient
	return s
}

func newService(parent context.Context, cfg config.ChatConfig, voice config.VoiceConfig, pub publisher, prefs AudioPrefs, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		voice:   voice,
		pub:     pub,
		prefs:   prefs,
		logger:  logger.With(slog.String("component", "chat-router")),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*pendingQuestion),
		now:     time.Now,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()
	sub, err := conn.Subscribe(protocol.SubjectChatQuestion, s.handleQuestion)
	if err != nil {
		return err
	}
	s.subQuestion = sub

	partial, err := conn.Subscribe(protocol.SubjectLLMResponsePartial, s.handleLLMResponse)
	if err != nil {
		_ = s.subQuestion.Drain()
		return err
	}
	s.subPartial = partial

	final, err := conn.Subscribe(protocol.SubjectLLMResponseFinal, s.handleLLMResponse)
	if err != nil {
		_ = s.subQuestion.Drain()
		_ = s.subPartial.Drain()
		return err
	}
	s.subFinal = final
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range []*nats.Subscription{s.subQuestion, s.subPartial, s.subFinal} {
		if sub != nil {
			_ = sub.Drain()
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subQuestion != nil && s.subFinal != nil)
}

// Pending returns the number of questions awaiting an answer.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Service) handleQuestion(msg *nats.Msg) {
	var q protocol.ChatQuestion
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		s.logger.Warn("chat router failed to decode question", slogError(err))
		return
	}
	s.ask(q)
}

func (s *Service) ask(q protocol.ChatQuestion) {
	question := strings.TrimSpace(q.Question)
	if question == "" || q.ID == "" {
		return
	}

	now := s.now()
	s.mu.Lock()
	for id, p := range s.pending {
		if now.Sub(p.Asked) > pendingTTL {
			delete(s.pending, id)
		}
	}
	s.pending[q.ID] = &pendingQuestion{Question: question, Asked: now}
	s.mu.Unlock()

	req := protocol.LLMRequest{
		SessionID: q.ID,
		Prompt:    question,
		System:    s.cfg.SystemPrompt,
		Tier:      s.cfg.DefaultTier,
	}
	if err := s.pub.PublishJSON(protocol.SubjectLLMRequest, req); err != nil {
		s.logger.Warn("chat router failed to publish llm request", slogError(err))
		s.mu.Lock()
		delete(s.pending, q.ID)
		s.mu.Unlock()
		s.publishAnswer(protocol.ChatAnswer{ID: q.ID, Final: true, Error: "chat is not available"})
		return
	}
	s.logger.Info("question routed", slog.String("id", q.ID))
}

func (s *Service) handleLLMResponse(msg *nats.Msg) {
	var resp protocol.LLMResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		s.logger.Warn("chat router failed to decode llm response", slogError(err))
		return
	}
	s.respond(resp)
}

func (s *Service) respond(resp protocol.LLMResponse) {
	s.mu.Lock()
	state := s.pending[resp.SessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if !resp.Final {
		state.Answer.WriteString(resp.Content)
		s.mu.Unlock()
		s.publishAnswer(protocol.ChatAnswer{ID: resp.SessionID, Answer: resp.Content})
		return
	}
	delete(s.pending, resp.SessionID)
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		answer = strings.TrimSpace(state.Answer.String())
	}
	s.mu.Unlock()

	s.publishAnswer(protocol.ChatAnswer{ID: resp.SessionID, Answer: answer, Final: true, Error: resp.Error})
	if resp.Error != "" || answer == "" || !s.speakAnswers() {
		return
	}

	req := protocol.TTSRequest{
		SessionID: s.voice.SessionID,
		Text:      answer,
		Voice:     s.cfg.DefaultVoice,
		Language:  s.voice.TTSLanguage,
		Rate:      s.voice.TTSRate,
		Pitch:     s.voice.TTSPitch,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pub.PublishJSON(protocol.SubjectTTSRequest, req); err != nil {
			s.logger.Warn("chat router failed to publish tts request", slogError(err))
		}
	}()
}

func (s *Service) speakAnswers() bool {
	if !s.cfg.SpeakAnswers {
		return false
	}
	return s.prefs == nil || s.prefs.AudioFeedbackEnabled()
}

func (s *Service) publishAnswer(answer protocol.ChatAnswer) {
	if err := s.pub.PublishJSON(protocol.SubjectChatAnswer, answer); err != nil {
		s.logger.Warn("chat router failed to publish answer", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
