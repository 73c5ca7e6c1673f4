package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-robin/internal/app"
	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/chat"
	"github.com/loqalabs/loqa-robin/internal/clock"
	"github.com/loqalabs/loqa-robin/internal/config"
	"github.com/loqalabs/loqa-robin/internal/detection"
	"github.com/loqalabs/loqa-robin/internal/eventloop"
	"github.com/loqalabs/loqa-robin/internal/eventstore"
	"github.com/loqalabs/loqa-robin/internal/intent"
	"github.com/loqalabs/loqa-robin/internal/llm"
	"github.com/loqalabs/loqa-robin/internal/natsserver"
	"github.com/loqalabs/loqa-robin/internal/prefs"
	"github.com/loqalabs/loqa-robin/internal/presence"
	"github.com/loqalabs/loqa-robin/internal/sections"
	"github.com/loqalabs/loqa-robin/internal/stt"
	"github.com/loqalabs/loqa-robin/internal/tts"
	"github.com/loqalabs/loqa-robin/internal/voice"
)

// service is the lifecycle shared by the bus-backed workers.
type service interface {
	Start() error
	Close()
	Healthy() bool
}

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	telemetry     *telemetry
	ready         atomic.Bool
	wg            sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	timeline *eventstore.Timeline
	prefs    *prefs.Store
	bridge   *app.Bridge
	services []service
	presence *presence.Registry
	matcher  *intent.Matcher
	engine   *voice.Engine
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if err := r.assemble(ctx); err != nil {
		r.teardown()
		r.closeTelemetry()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", r.telemetry.handler())
	r.metricsServer = &http.Server{
		Addr:              r.cfg.Telemetry.PrometheusBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.metricsServer, "metrics")

	if r.engine != nil {
		r.engine.Mount()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.teardown()
	r.closeTelemetry()
	return nil
}

// assemble builds the service graph bottom-up: bus, event store, preferences,
// app bridge, speech and language workers, then the voice engine.
func (r *Runtime) assemble(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded
	busCfg := r.cfg.Bus
	if url := embedded.ClientURL(); url != "" {
		busCfg.Servers = []string{url}
	}
	r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.timeline, err = eventstore.NewTimeline(ctx, r.store, uuid.NewString(), r.cfg.RuntimeName, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start timeline: %w", err)
	}

	var persister prefs.Persister
	if r.cfg.Preferences.Persist {
		persister = r.store
	}
	r.prefs = prefs.NewStore(defaultFlags(r.cfg.Preferences.Defaults), persister, r.logger)
	if err := r.prefs.Load(ctx); err != nil {
		r.logger.Warn("failed to load preferences, using defaults", slog.String("error", err.Error()))
	}
	r.prefs.OnChange(func(c prefs.Change) {
		r.timeline.Record(eventstore.TypePreferenceChange, map[string]any{"name": c.Name, "value": c.Value})
	})

	registry := sections.NewRegistry()
	r.bridge = app.NewBridge(r.bus, r.prefs, registry, r.cfg.Chat.Enabled, r.logger)
	if err := r.bridge.Start(); err != nil {
		return fmt.Errorf("failed to start app bridge: %w", err)
	}

	if err := r.startServices(ctx); err != nil {
		return err
	}

	table, tableWakeWord, err := intent.LoadTable(r.cfg.Commands.TablePath)
	if err != nil {
		return fmt.Errorf("failed to load command table: %w", err)
	}
	wakeWord := r.cfg.Voice.WakeWord
	if tableWakeWord != "" {
		wakeWord = tableWakeWord
	}
	r.matcher, err = intent.NewMatcher(wakeWord, table)
	if err != nil {
		return fmt.Errorf("failed to build command matcher: %w", err)
	}

	if !r.cfg.Voice.Enabled {
		r.logger.Info("voice commands disabled by configuration")
		return nil
	}
	return r.assembleVoice(registry)
}

func (r *Runtime) startServices(ctx context.Context) error {
	transcriber, err := newTranscriber(r.cfg.STT)
	if err != nil {
		return err
	}
	synth, err := newSynthesizer(r.cfg.TTS)
	if err != nil {
		return err
	}
	generator, err := llm.NewGenerator(r.cfg.LLM)
	if err != nil {
		return err
	}

	r.presence = presence.NewRegistry(r.cfg.Presence, presence.Features(r.cfg), r.bus, clock.Real(), r.logger)
	services := []service{
		r.presence,
		stt.NewService(ctx, r.cfg.STT, r.bus, transcriber, r.logger),
		tts.NewService(ctx, r.cfg.TTS, r.bus, synth, r.logger),
		llm.NewService(ctx, r.cfg.LLM, r.bus, generator, r.logger),
		chat.NewService(ctx, r.cfg.Chat, r.cfg.Voice, r.bus, r.prefs, r.logger),
	}
	for _, svc := range services {
		if err := svc.Start(); err != nil {
			return err
		}
		r.services = append(r.services, svc)
	}
	return nil
}

func (r *Runtime) assembleVoice(registry *sections.Registry) error {
	loop := eventloop.New(r.logger)
	clk := clock.Real()
	arbiter := voice.NewArbiter(r.logger)

	feedback := voice.NewFeedback(r.bridge, tts.NewBusSpeaker(r.bus, r.cfg.Voice.SessionID), r.prefs, tts.SpeakOptions{
		Rate:     r.cfg.Voice.TTSRate,
		Pitch:    r.cfg.Voice.TTSPitch,
		Language: r.cfg.Voice.TTSLanguage,
		Voice:    r.cfg.Voice.TTSVoice,
	}, r.logger)

	cycle := detection.NewCycle(detection.Config{
		Interval:      time.Duration(r.cfg.Detection.IntervalMS) * time.Millisecond,
		ListenWindow:  time.Duration(r.cfg.Detection.ListenWindowMS) * time.Millisecond,
		UploadTimeout: time.Duration(r.cfg.Detection.UploadTimeoutMS) * time.Millisecond,
	}, detection.NewBusRecorder(r.bus), arbiter.Claim(voice.ConsumerDetection), r.prefs, clk, loop, r.logger)
	cycle.OnTick(func(t detection.Tick) {
		r.timeline.Record(eventstore.TypeDetectionTick, t)
	})

	engine, err := voice.NewEngine(voice.EngineConfig{
		Session: voice.SessionConfig{
			Locale:       r.cfg.Voice.Locale,
			Debounce:     time.Duration(r.cfg.Voice.DebounceMS) * time.Millisecond,
			Cooldown:     time.Duration(r.cfg.Voice.CooldownMS) * time.Millisecond,
			RestartDelay: time.Duration(r.cfg.Voice.RestartDelayMS) * time.Millisecond,
		},
		SettingsAnywhere: r.cfg.Voice.SettingsAnywhere,
	}, voice.EngineDeps{
		Recognizer: stt.NewBusRecognizer(r.bus, r.cfg.Voice.SessionID, r.logger),
		Matcher:    r.matcher,
		Prefs:      r.prefs,
		Dispatch: voice.DispatcherDeps{
			Navigator: r.bridge,
			Modal:     r.bridge.Modal(),
			Prefs:     r.prefs,
			Chat:      r.bridge,
			Sections:  registry,
			Notifier:  feedback,
		},
		Arbiter:   arbiter,
		Detection: cycle,
		Timeline:  r.timeline,
		Clock:     clk,
		Loop:      loop,
	}, r.logger)
	if err != nil {
		return err
	}
	r.engine = engine
	return nil
}

// teardown stops whatever assemble managed to start, in reverse order.
func (r *Runtime) teardown() {
	if r.engine != nil {
		r.engine.Unmount()
	}
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
	r.services = nil
	if r.bridge != nil {
		r.bridge.Close()
	}
	if r.timeline != nil {
		r.timeline.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) closeTelemetry() {
	if r.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.telemetry.shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) healthy() bool {
	if !r.bus.Healthy() || !r.bridge.Healthy() {
		return false
	}
	for _, svc := range r.services {
		if !svc.Healthy() {
			return false
		}
	}
	return r.engine == nil || r.engine.Mounted()
}

func newTranscriber(cfg config.STTConfig) (stt.Transcriber, error) {
	if cfg.Mode == "exec" {
		return stt.NewExecTranscriber(cfg)
	}
	return stt.NewMockTranscriber(), nil
}

func newSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	if cfg.Mode == "exec" {
		return tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	}
	return tts.NewMockSynth(cfg.SampleRate, cfg.Channels), nil
}

func defaultFlags(d config.PreferenceDefaults) prefs.Flags {
	return prefs.Flags{
		VoiceCommands:     d.VoiceCommands,
		AudioFeedback:     d.AudioFeedback,
		Location:          d.Location,
		DetectionActive:   d.DetectionActive,
		ShowCommandPopups: d.ShowCommandPopups,
	}
}
