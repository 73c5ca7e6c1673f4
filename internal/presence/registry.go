// Package presence announces the runtime's features on the bus and keeps track
// of the app clients and other peers that announce or heartbeat back.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/clock"
	"github.com/loqalabs/loqa-robin/internal/config"
	"github.com/loqalabs/loqa-robin/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const RoleRuntime = "runtime"

// Peer is the last known state of an announced peer.
type Peer struct {
	ID       string             `json:"id"`
	Role     string             `json:"role"`
	Features []protocol.Feature `json:"features,omitempty"`
	LastSeen time.Time          `json:"last_seen"`
	Alive    bool               `json:"alive"`
}

type publisher interface {
	PublishJSON(subject string, v any) error
}

type Registry struct {
	cfg      config.PresenceConfig
	features []protocol.Feature
	bus      *bus.Client
	pub      publisher
	clock    clock.Clock
	log      *slog.Logger

	mu        sync.RWMutex
	peers     map[string]*Peer
	heartbeat clock.Timer
	closed    bool
	subs      []*nats.Subscription
}

func NewRegistry(cfg config.PresenceConfig, features []protocol.Feature, busClient *bus.Client, clk clock.Clock, log *slog.Logger) *Registry {
	r := newRegistry(cfg, features, busClient, clk, log)
	r.bus = busClient
	return r
}

func newRegistry(cfg config.PresenceConfig, features []protocol.Feature, pub publisher, clk clock.Clock, log *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		features: features,
		pub:      pub,
		clock:    clk,
		log:      log.With(slog.String("component", "presence")),
		peers:    make(map[string]*Peer),
	}
}

func (r *Registry) Start() error {
	announceSub, err := bus.SubscribeJSON(r.bus, protocol.SubjectPresenceAnnounce, func(a protocol.Announce, _ *nats.Msg) {
		r.observeAnnounce(a)
	})
	if err != nil {
		return err
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := bus.SubscribeJSON(r.bus, protocol.SubjectPresenceHeartbeatPrefix+".*", func(hb protocol.Heartbeat, _ *nats.Msg) {
		r.observeHeartbeat(hb)
	})
	if err != nil {
		r.drain()
		return err
	}
	r.subs = append(r.subs, heartbeatSub)

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce runtime", slog.String("error", err.Error()))
	}
	r.scheduleHeartbeat()
	return nil
}

func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	r.mu.Unlock()
	r.drain()
}

func (r *Registry) drain() {
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
}

// Healthy reports whether the runtime still sees its own announcement.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[r.cfg.PeerID]
	return ok && r.alive(p)
}

func (r *Registry) scheduleHeartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.heartbeat = r.clock.AfterFunc(time.Duration(r.cfg.HeartbeatMS)*time.Millisecond, r.beat)
}

func (r *Registry) beat() {
	if err := r.publishHeartbeat(); err != nil {
		r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
	}
	r.scheduleHeartbeat()
}

func (r *Registry) announce() error {
	msg := protocol.Announce{
		PeerID:    r.cfg.PeerID,
		Role:      RoleRuntime,
		Features:  r.features,
		Timestamp: r.clock.Now().UTC(),
	}
	if err := r.pub.PublishJSON(protocol.SubjectPresenceAnnounce, msg); err != nil {
		return err
	}
	r.update(msg.PeerID, msg.Role, msg.Features, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.Heartbeat{PeerID: r.cfg.PeerID, Timestamp: r.clock.Now().UTC()}
	if err := r.pub.PublishJSON(protocol.SubjectPresenceHeartbeatPrefix+"."+r.cfg.PeerID, msg); err != nil {
		return err
	}
	r.update(msg.PeerID, "", nil, msg.Timestamp)
	return nil
}

func (r *Registry) observeAnnounce(a protocol.Announce) {
	if a.PeerID == "" {
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.clock.Now().UTC()
	}
	r.update(a.PeerID, a.Role, a.Features, a.Timestamp)
}

// observeHeartbeat refreshes a known peer. Heartbeats from peers that never
// announced are ignored so their role is always known.
func (r *Registry) observeHeartbeat(hb protocol.Heartbeat) {
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock.Now().UTC()
	}
	r.mu.RLock()
	_, known := r.peers[hb.PeerID]
	r.mu.RUnlock()
	if !known {
		return
	}
	r.update(hb.PeerID, "", nil, hb.Timestamp)
}

func (r *Registry) update(peerID, role string, features []protocol.Feature, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		p = &Peer{ID: peerID}
		r.peers[peerID] = p
		r.log.Info("peer joined", slog.String("peer", peerID), slog.String("role", role))
	}
	if role != "" {
		p.Role = role
	}
	if len(features) > 0 {
		p.Features = features
	}
	if at.After(p.LastSeen) {
		p.LastSeen = at
	}
}

func (r *Registry) alive(p *Peer) bool {
	return r.clock.Now().Sub(p.LastSeen) <= time.Duration(r.cfg.TimeoutMS)*time.Millisecond
}

// Peers returns every known peer matching filter, ordered by id.
func (r *Registry) Peers(filter func(Peer) bool) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Peer
	for _, p := range r.peers {
		cp := *p
		cp.Alive = r.alive(p)
		if filter == nil || filter(cp) {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithRole matches peers announced under role.
func WithRole(role string) func(Peer) bool {
	return func(p Peer) bool { return p.Role == role }
}

// WithFeature matches peers offering the named feature.
func WithFeature(name string) func(Peer) bool {
	return func(p Peer) bool {
		for _, f := range p.Features {
			if f.Name == name {
				return true
			}
		}
		return false
	}
}

// Alive matches peers heard from within the timeout.
func Alive(p Peer) bool { return p.Alive }

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-robin/internal/presence")
	gauge, err := meter.Int64ObservableGauge("robin.presence.peers", metric.WithDescription("Peers heard from within the timeout, by role"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		counts := make(map[string]int64)
		for _, p := range r.Peers(Alive) {
			counts[p.Role]++
		}
		for role, n := range counts {
			obs.ObserveInt64(gauge, n, metric.WithAttributes(attribute.String("role", role)))
		}
		return nil
	}, gauge)
	return err
}

// Features lists what this runtime offers given its configuration.
func Features(cfg config.Config) []protocol.Feature {
	var out []protocol.Feature
	if cfg.Voice.Enabled {
		out = append(out, protocol.Feature{Name: "voice", Attributes: map[string]string{
			"wake_word": cfg.Voice.WakeWord,
			"locale":    cfg.Voice.Locale,
		}})
		out = append(out, protocol.Feature{Name: "detection"})
	}
	if cfg.Chat.Enabled {
		out = append(out, protocol.Feature{Name: "chat", Attributes: map[string]string{"tier": cfg.Chat.DefaultTier}})
	}
	if cfg.STT.Enabled {
		out = append(out, protocol.Feature{Name: "stt", Attributes: map[string]string{"mode": cfg.STT.Mode}})
	}
	if cfg.TTS.Enabled {
		out = append(out, protocol.Feature{Name: "tts", Attributes: map[string]string{"mode": cfg.TTS.Mode}})
	}
	if cfg.LLM.Enabled {
		out = append(out, protocol.Feature{Name: "llm", Attributes: map[string]string{"mode": cfg.LLM.Mode}})
	}
	return out
}
