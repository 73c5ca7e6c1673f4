package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/config"
	"github.com/loqalabs/loqa-robin/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	generateTimeout     = 60 * time.Second
	instrumentationName = "github.com/loqalabs/loqa-robin/internal/llm"
)

type publisher interface {
	PublishJSON(subject string, v any) error
}

// Service answers llm.request messages with streamed llm.response messages.
// Every request ends with exactly one final response, carrying Error on failure.
type Service struct {
	cfg       config.LLMConfig
	bus       *bus.Client
	pub       publisher
	generator Generator
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     bool
	logger    *slog.Logger

	tracer   trace.Tracer
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewService(parent context.Context, cfg config.LLMConfig, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	s := newService(parent, cfg, busClient, generator, logger)
	s.bus = busClient
	return s
}

func newService(parent context.Context, cfg config.LLMConfig, pub publisher, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		pub:       pub,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "llm-service")),
		tracer:    otel.Tracer(instrumentationName),
	}
	meter := otel.Meter(instrumentationName)
	var err error
	if s.requests, err = meter.Int64Counter("robin.llm.requests",
		metric.WithDescription("Questions answered, by tier and outcome")); err != nil {
		s.logger.Warn("failed to create request counter", slogError(err))
	}
	if s.latency, err = meter.Float64Histogram("robin.llm.latency",
		metric.WithUnit("s"), metric.WithDescription("Time to a final answer")); err != nil {
		s.logger.Warn("failed to create latency histogram", slogError(err))
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := bus.SubscribeJSON(s.bus, protocol.SubjectLLMRequest, func(req protocol.LLMRequest, _ *nats.Msg) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.answer(req)
		}()
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.ready = true
	return nil
}

// Close cancels in-flight answers, each of which still publishes its final
// error response, and waits for them.
func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) answer(req protocol.LLMRequest) {
	options := requestDefaults(s.cfg, Request{
		SessionID:   req.SessionID,
		Prompt:      req.Prompt,
		System:      req.System,
		Tier:        req.Tier,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	ctx, cancel := context.WithTimeout(s.ctx, generateTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "llm.answer", trace.WithAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("tier", options.Tier),
	))
	defer span.End()

	start := time.Now()
	finished := false
	err := s.generator.Generate(ctx, options, func(chunk Chunk) error {
		resp := protocol.LLMResponse{SessionID: req.SessionID, Content: chunk.Content}
		if !chunk.Partial {
			finished = true
			resp.Final = true
			resp.PromptTokens = chunk.PromptTokens
			resp.CompletionTokens = chunk.CompletionTokens
			resp.LatencyMS = time.Since(start).Milliseconds()
		}
		return s.publish(resp)
	})

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("llm generation failed", slog.String("session_id", req.SessionID), slogError(err))
		if !finished {
			_ = s.publish(protocol.LLMResponse{SessionID: req.SessionID, Final: true, Error: err.Error()})
		}
	case !finished:
		outcome = "empty"
		_ = s.publish(protocol.LLMResponse{SessionID: req.SessionID, Final: true})
	default:
		s.logger.Info("llm generation complete",
			slog.String("session_id", req.SessionID),
			slog.String("tier", options.Tier),
			slog.Duration("latency", time.Since(start)),
		)
	}
	s.record(options.Tier, outcome, time.Since(start))
}

func (s *Service) record(tier, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("tier", tier), attribute.String("outcome", outcome))
	if s.requests != nil {
		s.requests.Add(context.Background(), 1, attrs)
	}
	if s.latency != nil && outcome == "ok" {
		s.latency.Record(context.Background(), elapsed.Seconds(), metric.WithAttributes(attribute.String("tier", tier)))
	}
}

// publish drops empty partials; finals always go out.
func (s *Service) publish(resp protocol.LLMResponse) error {
	if resp.Content == "" && !resp.Final {
		return nil
	}
	resp.Timestamp = time.Now().UTC()
	subject := protocol.SubjectLLMResponsePartial
	if resp.Final {
		subject = protocol.SubjectLLMResponseFinal
	}
	if err := s.pub.PublishJSON(subject, resp); err != nil {
		s.logger.Warn("failed to publish llm chunk", slogError(err))
		return err
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
