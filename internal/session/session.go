// Package session owns the per-vessel safety state and routes position,
// radar and motion input to the state machines that act on it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/alert"
	"singrar/internal/anchor"
	"singrar/internal/collision"
	"singrar/internal/gps"
	"singrar/internal/motion"
	"singrar/internal/radar"
	"singrar/internal/store"
	"singrar/internal/track"
	"singrar/internal/weather"
)

// Positions is the GeoSampler side the session consumes.
type Positions interface {
	Subscribe(fn func(gps.PositionSample)) (cancel func())
	Last() (gps.PositionSample, bool)
	ForceRefresh(ctx context.Context) (gps.PositionSample, error)
}

// Alerts renders both one-shot and repeating alerts.
type Alerts interface {
	Dispatch(ev alert.Event)
	StartRepeat(ev alert.Event) bool
	StopRepeat(kind alert.Kind) bool
}

// AlarmStore persists the single anchor alarm.
type AlarmStore interface {
	SaveAnchorAlarm(ctx context.Context, a anchor.Alarm) error
	GetAnchorAlarm(ctx context.Context) (anchor.Alarm, error)
	DeleteAnchorAlarm(ctx context.Context) error
}

type Config struct {
	// Identity is the own radar peer id. Empty keeps the radar off.
	Identity     string
	RadarEnabled bool
	Offline      bool

	Collision collision.Config
	Track     track.Config
	Logger    zerolog.Logger
}

type Deps struct {
	Positions Positions
	Alerts    Alerts
	Radar     *radar.Radar
	Tracks    track.Store
	Alarms    AlarmStore
	// Weather is optional and only read for Snapshot.
	Weather *weather.Monitor
}

// Gating is the radar on/off inputs. The radar runs only when all allow it.
type Gating struct {
	RadarEnabled bool   `json:"radar_enabled"`
	Offline      bool   `json:"offline"`
	Identity     string `json:"identity"`
	Active       bool   `json:"active"`
}

type Snapshot struct {
	NowUTC     string               `json:"now_utc"`
	Position   *gps.PositionSample  `json:"position,omitempty"`
	HeadingDeg *float64             `json:"heading_deg,omitempty"`
	Anchor     anchor.Status        `json:"anchor"`
	Collision  collision.State      `json:"collision"`
	Gating     Gating               `json:"gating"`
	Radar      radar.Status         `json:"radar"`
	Peers      []radar.PeerPosition `json:"peers"`
	Track      track.Stats          `json:"track"`
	Weather    *weather.Status      `json:"weather,omitempty"`
}

// Session is the single owner of the anchor alarm, the collision state and
// the radar gating. GeoSampler and PeerRadar are only reached through it.
type Session struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	anchor    *anchor.Watch
	recorder  *track.Recorder
	collision *collision.Detector

	// gateMu serializes radar Enable/Disable so joins never run under mu.
	gateMu  sync.Mutex
	mu      sync.Mutex
	gating  Gating
	heading *float64
	unsubs  []func()
	started bool
}

func New(cfg Config, deps Deps) *Session {
	cfg.Identity = strings.TrimSpace(cfg.Identity)
	cfg.Collision.Logger = cfg.Logger
	cfg.Track.Logger = cfg.Logger

	s := &Session{
		cfg:  cfg,
		deps: deps,
		log:  cfg.Logger.With().Str("component", "session").Logger(),
		gating: Gating{
			RadarEnabled: cfg.RadarEnabled,
			Offline:      cfg.Offline,
			Identity:     cfg.Identity,
		},
	}
	s.anchor = anchor.NewWatch(deps.Alerts, cfg.Logger)
	s.recorder = track.NewRecorder(cfg.Track, deps.Tracks)
	s.collision = collision.New(cfg.Collision, collision.Inputs{
		Position:     deps.Positions.Last,
		Peers:        s.peers,
		RadarEnabled: s.radarActive,
		SelfID:       s.selfID,
	}, deps.Alerts)
	return s
}

// Start restores the persisted anchor alarm, subscribes the recorders to the
// GeoSampler, starts the collision tickers and applies the radar gating.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.restoreAnchor(ctx)

	unsubs := []func(){
		s.deps.Positions.Subscribe(s.recorder.OnSample),
		s.deps.Positions.Subscribe(s.anchor.OnSample),
	}
	s.mu.Lock()
	s.unsubs = unsubs
	s.mu.Unlock()

	s.collision.Start(ctx)
	if err := s.applyGating(ctx); err != nil {
		s.log.Warn().Err(err).Msg("radar not started")
	}
	s.log.Info().Str("identity", s.cfg.Identity).Msg("session started")
	return nil
}

func (s *Session) restoreAnchor(ctx context.Context) {
	if s.deps.Alarms == nil {
		return
	}
	a, err := s.deps.Alarms.GetAnchorAlarm(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Msg("anchor alarm restore failed")
		}
		return
	}
	if s.anchor.Restore(a) {
		s.log.Info().Float64("radius_m", a.RadiusM).Msg("anchor alarm restored")
	}
}

// Close releases every subscription and ticker the session started. The
// persisted anchor alarm is left in place.
func (s *Session) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.started = false
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.collision.Close()
	if s.deps.Radar != nil {
		s.deps.Radar.Disable()
	}
	if s.deps.Alerts != nil {
		s.deps.Alerts.StopRepeat(alert.KindAnchorDrift)
	}
}

// DropAnchor arms the geofence at the last known position.
func (s *Session) DropAnchor(ctx context.Context, radiusM float64) (anchor.Alarm, error) {
	pos, ok := s.deps.Positions.Last()
	if !ok {
		return anchor.Alarm{}, anchor.ErrNoPosition
	}
	a, err := s.anchor.Drop(pos.LatDeg, pos.LngDeg, radiusM)
	if err != nil {
		return anchor.Alarm{}, err
	}
	s.anchor.OnSample(pos)
	if s.deps.Alarms != nil {
		if err := s.deps.Alarms.SaveAnchorAlarm(ctx, a); err != nil {
			s.log.Warn().Err(err).Msg("anchor alarm not persisted")
		}
	}
	return a, nil
}

func (s *Session) RaiseAnchor(ctx context.Context) {
	s.anchor.Raise()
	if s.deps.Alarms != nil {
		if err := s.deps.Alarms.DeleteAnchorAlarm(ctx); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Msg("anchor alarm not removed")
		}
	}
}

func (s *Session) DismissAnchorAlarm() bool {
	return s.anchor.Dismiss()
}

func (s *Session) StartRecording() {
	s.recorder.Start()
}

func (s *Session) StopRecording(ctx context.Context, name string) (track.Track, error) {
	return s.recorder.Stop(ctx, name)
}

func (s *Session) CancelCountdown() bool {
	return s.collision.Cancel()
}

func (s *Session) ClearEmergency() bool {
	return s.collision.ClearEmergency()
}

// DeclareEmergency is the manual SOS. It wins over any running countdown.
func (s *Session) DeclareEmergency() bool {
	return s.collision.Declare()
}

func (s *Session) CollisionState() collision.State {
	return s.collision.State()
}

// OnCollisionChange registers a callback for every collision transition.
func (s *Session) OnCollisionChange(fn func(collision.State)) {
	s.collision.OnStateChange(fn)
}

func (s *Session) SetRadarEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.gating.RadarEnabled = enabled
	s.mu.Unlock()
	return s.applyGating(ctx)
}

func (s *Session) SetOffline(ctx context.Context, offline bool) error {
	s.mu.Lock()
	s.gating.Offline = offline
	s.mu.Unlock()
	return s.applyGating(ctx)
}

// SetIdentity changes the own peer id. A running radar rejoins under the
// new id.
func (s *Session) SetIdentity(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	s.gating.Identity = id
	s.mu.Unlock()
	return s.applyGating(ctx)
}

// applyGating enables or disables the radar to match the gating inputs. A
// radar whose transport dropped, or that joined under another identity, is
// rejoined. The join runs outside s.mu.
func (s *Session) applyGating(ctx context.Context) error {
	if s.deps.Radar == nil {
		return nil
	}
	s.gateMu.Lock()
	defer s.gateMu.Unlock()

	s.mu.Lock()
	g := s.gating
	want := g.RadarEnabled && !g.Offline && g.Identity != ""
	s.gating.Active = want
	s.mu.Unlock()

	r := s.deps.Radar
	if !want {
		if r.Enabled() {
			r.Disable()
		}
		return nil
	}
	if st := r.Status(); st.Enabled && (st.State == radar.StateDisconnected || st.SelfID != g.Identity) {
		r.Disable()
	}
	if r.Enabled() {
		return nil
	}
	return r.Enable(ctx, g.Identity)
}

func (s *Session) radarActive() bool {
	s.mu.Lock()
	active := s.gating.Active
	s.mu.Unlock()
	return active && s.deps.Radar != nil && s.deps.Radar.Enabled()
}

func (s *Session) peers() []radar.PeerPosition {
	if s.deps.Radar == nil {
		return nil
	}
	return s.deps.Radar.Peers()
}

func (s *Session) selfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gating.Identity
}

func (s *Session) ForceRefresh(ctx context.Context) (gps.PositionSample, error) {
	return s.deps.Positions.ForceRefresh(ctx)
}

// OnMotion feeds an acceleration reading to the collision detector.
func (s *Session) OnMotion(m motion.Sample) {
	if s.collision.OnMotion(m) {
		s.log.Warn().Float64("magnitude", m.Magnitude()).Msg("motion spike")
	}
}

// OnOrientation records the device heading. Readings without a usable
// heading leave the previous one.
func (s *Session) OnOrientation(o motion.Orientation) {
	h, ok := o.Heading()
	if !ok {
		return
	}
	s.mu.Lock()
	s.heading = &h
	s.mu.Unlock()
}

// Heading is the last device heading in degrees.
func (s *Session) Heading() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heading == nil {
		return 0, false
	}
	return *s.heading, true
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		Anchor:    s.anchor.Status(),
		Collision: s.collision.State(),
		Track:     s.recorder.Stats(),
	}
	if p, ok := s.deps.Positions.Last(); ok {
		snap.Position = &p
	}
	if h, ok := s.Heading(); ok {
		snap.HeadingDeg = &h
	}
	s.mu.Lock()
	snap.Gating = s.gating
	s.mu.Unlock()
	if s.deps.Radar != nil {
		snap.Radar = s.deps.Radar.Status()
		snap.Peers = s.deps.Radar.Peers()
	}
	if s.deps.Weather != nil {
		ws := s.deps.Weather.Status()
		snap.Weather = &ws
	}
	return snap
}
