// Package detection runs the fixed-interval recording cycle that feeds passive
// bird detection. The cycle shares the microphone with command listening and
// can yield it for a short listen window after each upload.
package detection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-robin/internal/clock"
	"github.com/loqalabs/loqa-robin/internal/eventloop"
)

// State is the cycle's position.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateUploadPending
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateUploadPending:
		return "upload_pending"
	default:
		return "idle"
	}
}

// Recorder captures audio and ships it for analysis.
type Recorder interface {
	StartRecording(ctx context.Context) error
	StopAndUpload(ctx context.Context) error
}

// Microphone is the cycle's claim on the shared microphone.
type Microphone interface {
	Acquire() error
	Release()
}

// VoicePrefs tells the cycle whether to open a listen window.
type VoicePrefs interface {
	VoiceCommandsEnabled() bool
}

// Config holds the cycle timings.
type Config struct {
	Interval      time.Duration
	ListenWindow  time.Duration
	UploadTimeout time.Duration
}

// Tick summarises one completed interval.
type Tick struct {
	Uploaded bool
	Listened bool
	Error    string
}

// Cycle records for Interval, uploads, optionally lets commands listen for
// ListenWindow, then records again. Methods must run on the loop.
type Cycle struct {
	cfg      Config
	recorder Recorder
	mic      Microphone
	voice    VoicePrefs
	clock    clock.Clock
	loop     *eventloop.Loop
	logger   *slog.Logger

	active bool
	state  State
	gen    uint64
	ticker clock.Timer
	window clock.Timer
	onTick func(Tick)
	spawn  func(func())
}

func NewCycle(cfg Config, recorder Recorder, mic Microphone, voice VoicePrefs, clk clock.Clock, loop *eventloop.Loop, logger *slog.Logger) *Cycle {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 10 * time.Second
	}
	return &Cycle{
		cfg:      cfg,
		recorder: recorder,
		mic:      mic,
		voice:    voice,
		clock:    clk,
		loop:     loop,
		logger:   logger.With(slog.String("component", "detection")),
		spawn:    serial(),
	}
}

// OnTick registers fn to observe each completed interval.
func (c *Cycle) OnTick(fn func(Tick)) { c.onTick = fn }

// Active reports whether the cycle is running.
func (c *Cycle) Active() bool { return c.active }

// State returns the cycle's position.
func (c *Cycle) State() State { return c.state }

// Start takes the microphone and begins recording. It is a no-op when running.
func (c *Cycle) Start() {
	if c.active {
		return
	}
	c.active = true
	c.gen++
	c.logger.Info("detection started", slog.Duration("interval", c.cfg.Interval))
	c.record()
	c.scheduleTick()
}

// Stop uploads the recording in flight and releases the microphone once the
// upload finishes. It is a no-op when not running.
func (c *Cycle) Stop() {
	if !c.active {
		return
	}
	c.active = false
	c.gen++
	stopTimer(&c.ticker)
	stopTimer(&c.window)
	c.logger.Info("detection stopped")

	if c.state != StateRecording {
		c.state = StateIdle
		c.mic.Release()
		return
	}
	c.state = StateUploadPending
	c.run(c.recorder.StopAndUpload, func(err error) {
		if err != nil {
			c.logger.Warn("final upload failed", slogError(err))
		}
		if c.active {
			// Restarted while uploading; the new run owns the microphone.
			return
		}
		c.state = StateIdle
		c.mic.Release()
	})
}

func (c *Cycle) scheduleTick() {
	gen := c.gen
	var t clock.Timer
	t = c.clock.AfterFunc(c.cfg.Interval, func() {
		c.loop.Post(func() {
			if gen != c.gen || c.ticker != t {
				return
			}
			c.ticker = nil
			c.tick()
		})
	})
	c.ticker = t
}

func (c *Cycle) tick() {
	c.scheduleTick()
	if c.state != StateRecording {
		c.logger.Debug("detection tick skipped", slog.String("state", c.state.String()))
		if c.state == StateIdle && c.window == nil {
			c.record()
		}
		return
	}
	c.state = StateUploadPending
	gen := c.gen
	c.run(c.recorder.StopAndUpload, func(err error) {
		if gen != c.gen {
			return
		}
		tick := Tick{Uploaded: err == nil}
		if err != nil {
			tick.Error = err.Error()
			c.logger.Warn("detection upload failed", slogError(err))
		}
		c.state = StateIdle
		if c.cfg.ListenWindow > 0 && c.voice != nil && c.voice.VoiceCommandsEnabled() {
			tick.Listened = true
			c.openWindow()
		} else {
			c.record()
		}
		if c.onTick != nil {
			c.onTick(tick)
		}
	})
}

// openWindow hands the microphone to command listening for ListenWindow.
func (c *Cycle) openWindow() {
	c.mic.Release()
	gen := c.gen
	var t clock.Timer
	t = c.clock.AfterFunc(c.cfg.ListenWindow, func() {
		c.loop.Post(func() {
			if gen != c.gen || c.window != t {
				return
			}
			c.window = nil
			c.record()
		})
	})
	c.window = t
}

func (c *Cycle) record() {
	if err := c.mic.Acquire(); err != nil {
		c.logger.Warn("detection cannot take microphone", slogError(err))
		return
	}
	c.state = StateRecording
	gen := c.gen
	c.run(c.recorder.StartRecording, func(err error) {
		if err == nil || gen != c.gen {
			return
		}
		c.logger.Warn("failed to start recording", slogError(err))
		if c.state == StateRecording {
			c.state = StateIdle
		}
	})
}

// run calls fn off the loop with the upload timeout and posts done back.
// Recorder calls keep their submission order.
func (c *Cycle) run(fn func(context.Context) error, done func(error)) {
	c.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.UploadTimeout)
		err := fn(ctx)
		cancel()
		c.loop.Post(func() { done(err) })
	})
}

// serial runs submitted jobs one at a time, in order, off the caller's goroutine.
func serial() func(func()) {
	var (
		mu      sync.Mutex
		queue   []func()
		running bool
	)
	return func(fn func()) {
		mu.Lock()
		queue = append(queue, fn)
		if running {
			mu.Unlock()
			return
		}
		running = true
		mu.Unlock()
		go func() {
			for {
				mu.Lock()
				if len(queue) == 0 {
					running = false
					mu.Unlock()
					return
				}
				next := queue[0]
				queue = queue[1:]
				mu.Unlock()
				next()
			}
		}()
	}
}

func stopTimer(slot *clock.Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
