// Package collision runs the countdown-to-emergency state machine fed by
// radar proximity and device-motion spikes.
package collision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/alert"
	"singrar/internal/geo"
	"singrar/internal/gps"
	"singrar/internal/metrics"
	"singrar/internal/motion"
	"singrar/internal/radar"
)

type Phase int

const (
	Idle Phase = iota
	CountingDown
	Emergency
)

func (p Phase) String() string {
	switch p {
	case CountingDown:
		return "counting_down"
	case Emergency:
		return "emergency"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = Idle
	case "counting_down":
		*p = CountingDown
	case "emergency":
		*p = Emergency
	default:
		return fmt.Errorf("unknown collision phase %q", b)
	}
	return nil
}

// State is a copy of the detector state. SecondsRemaining is only
// meaningful while CountingDown and is never negative.
type State struct {
	Phase            Phase  `json:"phase"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Generation       uint64 `json:"generation"`
	// Trigger names what started the current countdown: "radar" or "motion".
	Trigger string `json:"trigger,omitempty"`
	PeerID  string `json:"peer_id,omitempty"`
}

type Config struct {
	CheckInterval   time.Duration
	Countdown       int
	ProximityM      float64
	MinPeerSpeedMPS float64
	MotionSpikeMPS2 float64
	Logger          zerolog.Logger
}

const (
	DefaultCheckInterval   = 3 * time.Second
	DefaultCountdown       = 30
	DefaultProximityM      = 50.0
	DefaultMinPeerSpeedMPS = 1.0
	DefaultMotionSpikeMPS2 = 25.0
)

// Dispatcher renders alerts.
type Dispatcher interface {
	Dispatch(ev alert.Event)
}

// Inputs are what the proximity check reads.
type Inputs struct {
	// Position returns the own vessel's last known fix.
	Position func() (gps.PositionSample, bool)
	// Peers returns the current peer table.
	Peers func() []radar.PeerPosition
	// RadarEnabled reports whether radar gating currently allows checks.
	RadarEnabled func() bool
	// SelfID is the own peer id, skipped during the check.
	SelfID func() string
}

// Detector serializes every transition behind one mutex.
type Detector struct {
	cfg     Config
	in      Inputs
	alerts  Dispatcher
	log     zerolog.Logger
	now     func() time.Time
	onState func(State)

	mu    sync.Mutex
	state State
	gen   uint64
	// seq orders transitions so callbacks never deliver an older state
	// after a newer one.
	seq uint64

	pubMu     sync.Mutex
	published uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, in Inputs, alerts Dispatcher) *Detector {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultCountdown
	}
	if cfg.ProximityM <= 0 {
		cfg.ProximityM = DefaultProximityM
	}
	if cfg.MinPeerSpeedMPS <= 0 {
		cfg.MinPeerSpeedMPS = DefaultMinPeerSpeedMPS
	}
	if cfg.MotionSpikeMPS2 <= 0 {
		cfg.MotionSpikeMPS2 = DefaultMotionSpikeMPS2
	}
	return &Detector{
		cfg:    cfg,
		in:     in,
		alerts: alerts,
		log:    cfg.Logger.With().Str("component", "collision").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnStateChange registers a callback invoked after transitions, outside the
// detector lock. A state already superseded by a later transition is not
// delivered. Callbacks are serialized and must not call back into the
// detector's transition methods.
func (d *Detector) OnStateChange(fn func(State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onState = fn
}

// Start runs the proximity ticker and the 1 Hz countdown ticker.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(2)
	d.mu.Unlock()

	go d.loop(childCtx, d.cfg.CheckInterval, func() { d.CheckProximity() })
	go d.loop(childCtx, time.Second, func() { d.Tick() })
}

func (d *Detector) Close() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Detector) loop(ctx context.Context, every time.Duration, fn func()) {
	defer d.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// CheckProximity flags a moving peer closer than ProximityM. It only runs
// while Idle with radar enabled and the own position known. It returns true
// if it started a countdown.
func (d *Detector) CheckProximity() bool {
	if d.in.RadarEnabled != nil && !d.in.RadarEnabled() {
		return false
	}
	if d.in.Position == nil || d.in.Peers == nil {
		return false
	}
	if d.State().Phase != Idle {
		return false
	}
	own, ok := d.in.Position()
	if !ok {
		return false
	}
	self := ""
	if d.in.SelfID != nil {
		self = d.in.SelfID()
	}

	for _, p := range d.in.Peers() {
		if p.PeerID == self {
			continue
		}
		dist := geo.DistanceM(own.LatDeg, own.LngDeg, p.LatDeg, p.LngDeg)
		if dist < d.cfg.ProximityM && p.Speed() > d.cfg.MinPeerSpeedMPS {
			msg := fmt.Sprintf("Vessel %s at %.0f m moving %.1f kt", p.PeerID, dist, geo.MPSToKnots(p.Speed()))
			return d.trigger("radar", p.PeerID, msg)
		}
	}
	return false
}

// OnMotion starts a countdown on an acceleration spike.
func (d *Detector) OnMotion(s motion.Sample) bool {
	mag := s.Magnitude()
	if mag <= d.cfg.MotionSpikeMPS2 {
		return false
	}
	return d.trigger("motion", "", fmt.Sprintf("Impact detected: %.1f m/s²", mag))
}

// trigger moves Idle to CountingDown. The first producer wins; any other
// producer arriving in any other phase is ignored.
func (d *Detector) trigger(source, peerID, msg string) bool {
	d.mu.Lock()
	if d.state.Phase != Idle {
		d.mu.Unlock()
		return false
	}
	d.gen++
	d.state = State{
		Phase:            CountingDown,
		SecondsRemaining: d.cfg.Countdown,
		Generation:       d.gen,
		Trigger:          source,
		PeerID:           peerID,
	}
	st, seq, fn := d.commitLocked()
	d.mu.Unlock()

	d.log.Warn().Str("trigger", source).Str("peer", peerID).Uint64("generation", st.Generation).Msg("collision countdown started")
	if d.alerts != nil {
		d.alerts.Dispatch(alert.Event{Kind: alert.KindCollisionImminent, Message: msg, Source: source, At: d.now()})
	}
	d.publish(seq, st, fn)
	return true
}

// Declare enters Emergency from any phase on the user's request. It reports
// false when an emergency is already declared.
func (d *Detector) Declare() bool {
	d.mu.Lock()
	if d.state.Phase == Emergency {
		d.mu.Unlock()
		return false
	}
	d.gen++
	d.state = State{Phase: Emergency, Generation: d.gen, Trigger: "manual"}
	st, seq, fn := d.commitLocked()
	d.mu.Unlock()

	d.log.Error().Uint64("generation", st.Generation).Msg("collision emergency declared manually")
	if d.alerts != nil {
		d.alerts.Dispatch(alert.Event{
			Kind:    alert.KindCollisionEmergency,
			Message: "Emergency declared",
			Source:  "manual",
			At:      d.now(),
		})
	}
	d.publish(seq, st, fn)
	return true
}

// Tick decrements an active countdown. Reaching zero declares the emergency
// in the same step.
func (d *Detector) Tick() {
	d.mu.Lock()
	if d.state.Phase != CountingDown {
		d.mu.Unlock()
		return
	}
	if d.state.SecondsRemaining > 0 {
		d.state.SecondsRemaining--
	}
	emergency := d.state.SecondsRemaining == 0
	if emergency {
		d.state = State{Phase: Emergency, Generation: d.state.Generation, Trigger: d.state.Trigger, PeerID: d.state.PeerID}
	}
	st, seq, fn := d.commitLocked()
	d.mu.Unlock()

	if emergency {
		d.log.Error().Uint64("generation", st.Generation).Msg("collision emergency declared")
		if d.alerts != nil {
			d.alerts.Dispatch(alert.Event{
				Kind:    alert.KindCollisionEmergency,
				Message: "Countdown expired without response",
				Source:  st.Trigger,
				At:      d.now(),
			})
		}
	}
	d.publish(seq, st, fn)
}

// Cancel aborts a running countdown. It reports whether one was running.
func (d *Detector) Cancel() bool {
	return d.reset(CountingDown, "collision countdown cancelled")
}

// ClearEmergency is the only way out of Emergency.
func (d *Detector) ClearEmergency() bool {
	return d.reset(Emergency, "collision emergency cleared")
}

func (d *Detector) reset(from Phase, msg string) bool {
	d.mu.Lock()
	if d.state.Phase != from {
		d.mu.Unlock()
		return false
	}
	d.state = State{Phase: Idle}
	st, seq, fn := d.commitLocked()
	d.mu.Unlock()

	d.log.Info().Msg(msg)
	d.publish(seq, st, fn)
	return true
}

// commitLocked records a transition. The gauge is set under d.mu so it
// always ends on the latest phase.
func (d *Detector) commitLocked() (State, uint64, func(State)) {
	d.seq++
	metrics.CollisionPhase.Set(float64(d.state.Phase))
	return d.state, d.seq, d.onState
}

func (d *Detector) publish(seq uint64, st State, fn func(State)) {
	if fn == nil {
		return
	}
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	if seq <= d.published {
		return
	}
	d.published = seq
	fn(st)
}
