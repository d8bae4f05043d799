// Package radar shares the vessel position with nearby peers over a named
// broadcast channel and tracks the peers it hears from.
package radar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/gps"
	"singrar/internal/metrics"
)

const (
	DefaultChannel           = "radar"
	DefaultBroadcastInterval = 5 * time.Second
	DefaultSweepInterval     = 10 * time.Second
	DefaultStaleAfter        = 60 * time.Second
)

// ErrTransportDisconnected means the channel could not be joined or dropped.
var ErrTransportDisconnected = errors.New("radar: transport disconnected")

// Connection states reported in Status.
const (
	StateDisabled     = "disabled"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

type Config struct {
	Channel           string
	BroadcastInterval time.Duration
	SweepInterval     time.Duration
	StaleAfter        time.Duration
	MaxPeers          int
	Logger            zerolog.Logger
}

// PositionFunc returns the own vessel's last known fix.
type PositionFunc func() (gps.PositionSample, bool)

type Status struct {
	Enabled   bool   `json:"enabled"`
	State     string `json:"state"`
	Channel   string `json:"channel"`
	SelfID    string `json:"self_id,omitempty"`
	Peers     int    `json:"peers"`
	LastError string `json:"last_error,omitempty"`
}

// Radar owns the peer table and the channel membership.
type Radar struct {
	cfg       Config
	transport Transport
	position  PositionFunc
	peers     *PeerTable
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	enabled   bool
	joining   bool
	state     string
	selfID    string
	ch        Channel
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastError string
}

func New(cfg Config, transport Transport, position PositionFunc) *Radar {
	if strings.TrimSpace(cfg.Channel) == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = DefaultBroadcastInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Radar{
		cfg:       cfg,
		transport: transport,
		position:  position,
		peers:     NewPeerTable(PeerTableConfig{MaxPeers: cfg.MaxPeers, StaleAfter: cfg.StaleAfter}),
		log:       cfg.Logger.With().Str("component", "radar").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		state:     StateDisabled,
	}
}

// Enable joins the channel as selfID and starts the broadcast and sweep
// tickers. Enabling an enabled or joining radar is a no-op. The join runs
// without holding the radar lock, so status reads never wait on the network.
func (r *Radar) Enable(ctx context.Context, selfID string) error {
	if strings.TrimSpace(selfID) == "" {
		return fmt.Errorf("radar: self id is required")
	}
	r.mu.Lock()
	if r.enabled || r.joining {
		r.mu.Unlock()
		return nil
	}
	if r.transport == nil {
		r.lastError = "no transport configured"
		r.mu.Unlock()
		return fmt.Errorf("%w: no transport configured", ErrTransportDisconnected)
	}
	r.selfID = selfID
	r.joining = true
	r.state = StateConnecting
	r.mu.Unlock()

	ch, err := r.transport.Join(ctx, r.cfg.Channel, r.handle)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.joining = false
	if err != nil {
		r.state = StateDisabled
		r.lastError = err.Error()
		return fmt.Errorf("%w: join %s: %v", ErrTransportDisconnected, r.cfg.Channel, err)
	}

	childCtx, cancel := context.WithCancel(context.Background())
	r.ch = ch
	r.cancel = cancel
	r.enabled = true
	r.state = StateConnected
	r.lastError = ""

	r.wg.Add(3)
	go r.runBroadcast(childCtx, ch)
	go r.runSweep(childCtx)
	go r.watchDisconnect(childCtx, ch)

	r.log.Info().Str("channel", r.cfg.Channel).Str("self", selfID).Msg("radar enabled")
	return nil
}

// Disable leaves the channel, stops this radar's tickers and clears the peers.
func (r *Radar) Disable() {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	ch := r.ch
	r.enabled = false
	r.state = StateDisabled
	r.cancel = nil
	r.ch = nil
	r.mu.Unlock()

	cancel()
	if err := ch.Leave(); err != nil {
		r.log.Warn().Err(err).Msg("radar leave failed")
	}
	r.wg.Wait()

	r.peers.Clear()
	metrics.RadarPeers.Set(0)
	r.log.Info().Msg("radar disabled")
}

func (r *Radar) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Connected reports whether the radar is enabled and still receiving.
func (r *Radar) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled && r.state == StateConnected
}

func (r *Radar) Peers() []PeerPosition {
	return r.peers.Snapshot()
}

func (r *Radar) SelfID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selfID
}

func (r *Radar) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Enabled:   r.enabled,
		State:     r.state,
		Channel:   r.cfg.Channel,
		SelfID:    r.selfID,
		Peers:     r.peers.Len(),
		LastError: r.lastError,
	}
}

func (r *Radar) handle(payload []byte) {
	p, err := DecodeLocation(payload)
	if err != nil {
		metrics.RadarMessages.WithLabelValues("dropped").Inc()
		r.log.Debug().Err(err).Msg("ignoring radar message")
		return
	}

	r.mu.Lock()
	ok := r.enabled && r.state == StateConnected && p.ID != r.selfID
	r.mu.Unlock()
	if !ok {
		return
	}

	metrics.RadarMessages.WithLabelValues("in").Inc()
	r.peers.Upsert(r.now(), PeerPosition{
		PeerID:     p.ID,
		LatDeg:     p.Lat,
		LngDeg:     p.Lng,
		HeadingDeg: p.Heading,
		SpeedMPS:   p.Speed,
	})
	metrics.RadarPeers.Set(float64(r.peers.Len()))
}

// BroadcastOnce sends the own position if one is known.
func (r *Radar) BroadcastOnce(ctx context.Context) error {
	r.mu.Lock()
	ch := r.ch
	selfID := r.selfID
	connected := r.enabled && r.state == StateConnected
	r.mu.Unlock()
	if !connected || ch == nil {
		return ErrTransportDisconnected
	}
	if r.position == nil {
		return nil
	}
	pos, ok := r.position()
	if !ok {
		return nil
	}
	b, err := EncodeLocation(LocationPayload{
		ID:      selfID,
		Lat:     pos.LatDeg,
		Lng:     pos.LngDeg,
		Heading: pos.HeadingDeg,
		Speed:   pos.SpeedMPS,
	})
	if err != nil {
		return err
	}
	if err := ch.Send(ctx, b); err != nil {
		return fmt.Errorf("radar send: %w", err)
	}
	metrics.RadarMessages.WithLabelValues("out").Inc()
	return nil
}

// Sweep evicts stale peers as of now.
func (r *Radar) Sweep(nowUTC time.Time) []string {
	evicted := r.peers.Sweep(nowUTC)
	if len(evicted) > 0 {
		r.log.Debug().Strs("peers", evicted).Msg("evicted stale peers")
	}
	metrics.RadarPeers.Set(float64(r.peers.Len()))
	return evicted
}

func (r *Radar) runBroadcast(ctx context.Context, ch Channel) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.Done():
			return
		case <-ticker.C:
			sendCtx, cancel := context.WithTimeout(ctx, r.cfg.BroadcastInterval)
			err := r.BroadcastOnce(sendCtx)
			cancel()
			if err != nil && !errors.Is(err, ErrTransportDisconnected) && ctx.Err() == nil {
				r.log.Warn().Err(err).Msg("radar broadcast failed")
			}
		}
	}
}

func (r *Radar) runSweep(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// watchDisconnect marks the radar disconnected when the transport drops the
// membership. There is no automatic rejoin; the next Enable resubscribes.
func (r *Radar) watchDisconnect(ctx context.Context, ch Channel) {
	defer r.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-ch.Done():
	}
	r.mu.Lock()
	if r.ch == ch {
		r.state = StateDisconnected
		r.lastError = ErrTransportDisconnected.Error()
	}
	r.mu.Unlock()
	r.log.Warn().Str("channel", r.cfg.Channel).Msg("radar transport disconnected")
}
