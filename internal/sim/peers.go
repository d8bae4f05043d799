package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/geo"
	"singrar/internal/radar"
)

// PeerSim orbits Count peer vessels around a center, evenly spaced.
type PeerSim struct {
	CenterLatDeg float64
	CenterLngDeg float64
	RadiusM      float64
	Period       time.Duration
	Count        int
	// Prefix names the peers Prefix-0, Prefix-1 and so on.
	Prefix string
}

// Peers returns the location of every simulated peer at now.
func (s PeerSim) Peers(now time.Time) []radar.LocationPayload {
	if s.Count <= 0 {
		return nil
	}
	period := s.Period
	if period <= 0 {
		period = 5 * time.Minute
	}
	radius := s.RadiusM
	if radius <= 0 {
		radius = 400
	}
	prefix := s.Prefix
	if prefix == "" {
		prefix = "sim"
	}

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	baseTheta := 2 * math.Pi * phase
	speed := 2 * math.Pi * radius / period.Seconds()

	out := make([]radar.LocationPayload, 0, s.Count)
	for i := 0; i < s.Count; i++ {
		theta := baseTheta + 2*math.Pi*(float64(i)/float64(s.Count))
		lat, lng := geo.Offset(s.CenterLatDeg, s.CenterLngDeg, radius*math.Cos(theta), radius*math.Sin(theta))
		heading := math.Mod((theta*180/math.Pi)+90, 360)
		v := speed
		out = append(out, radar.LocationPayload{
			ID:      fmt.Sprintf("%s-%d", prefix, i),
			Lat:     lat,
			Lng:     lng,
			Heading: &heading,
			Speed:   &v,
		})
	}
	return out
}

// PeerSource yields peer locations for an instant.
type PeerSource func(now time.Time) []radar.LocationPayload

type BroadcasterConfig struct {
	Channel  string
	Interval time.Duration
	Logger   zerolog.Logger
}

// PeerBroadcaster joins the radar channel once per simulated peer and sends
// each peer's location on every tick.
type PeerBroadcaster struct {
	cfg       BroadcasterConfig
	transport radar.Transport
	source    PeerSource
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	members map[string]radar.Channel
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPeerBroadcaster(cfg BroadcasterConfig, transport radar.Transport, source PeerSource) *PeerBroadcaster {
	if cfg.Channel == "" {
		cfg.Channel = radar.DefaultChannel
	}
	if cfg.Interval <= 0 {
		cfg.Interval = radar.DefaultBroadcastInterval
	}
	return &PeerBroadcaster{
		cfg:       cfg,
		transport: transport,
		source:    source,
		log:       cfg.Logger.With().Str("component", "sim-peers").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		members:   make(map[string]radar.Channel),
	}
}

func (b *PeerBroadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.Interval)
		defer ticker.Stop()
		b.SendOnce(childCtx)
		for {
			select {
			case <-childCtx.Done():
				return
			case <-ticker.C:
				b.SendOnce(childCtx)
			}
		}
	}()
}

// SendOnce sends one location message per peer, joining new peers on first
// sight. It returns how many messages were sent.
func (b *PeerBroadcaster) SendOnce(ctx context.Context) int {
	sent := 0
	for _, p := range b.source(b.now()) {
		ch, err := b.member(ctx, p.ID)
		if err != nil {
			b.log.Warn().Err(err).Str("peer", p.ID).Msg("sim peer join failed")
			continue
		}
		payload, err := radar.EncodeLocation(p)
		if err != nil {
			continue
		}
		if err := ch.Send(ctx, payload); err != nil {
			b.log.Debug().Err(err).Str("peer", p.ID).Msg("sim peer send failed")
			continue
		}
		sent++
	}
	return sent
}

func (b *PeerBroadcaster) member(ctx context.Context, id string) (radar.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.members[id]; ok {
		return ch, nil
	}
	ch, err := b.transport.Join(ctx, b.cfg.Channel, func([]byte) {})
	if err != nil {
		return nil, err
	}
	b.members[id] = ch
	return ch, nil
}

// Close stops the ticker and leaves the channel for every peer.
func (b *PeerBroadcaster) Close() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.members {
		_ = ch.Leave()
		delete(b.members, id)
	}
}
