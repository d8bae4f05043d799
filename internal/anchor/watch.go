// Package anchor implements the anchor-drift geofence.
package anchor

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"singrar/internal/alert"
	"singrar/internal/geo"
	"singrar/internal/gps"
)

var (
	ErrInvalidGeofence = errors.New("anchor: radius must be > 0")
	ErrNoPosition      = errors.New("anchor: no known position to drop at")
)

type State int

const (
	Disarmed State = iota
	Armed
	Alerting
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Alerting:
		return "alerting"
	default:
		return "disarmed"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disarmed":
		*s = Disarmed
	case "armed":
		*s = Armed
	case "alerting":
		*s = Alerting
	default:
		return fmt.Errorf("unknown anchor state %q", b)
	}
	return nil
}

// Alarm is the persisted geofence. Active implies RadiusM > 0.
type Alarm struct {
	Active    bool    `json:"active"`
	OriginLat float64 `json:"origin_lat"`
	OriginLng float64 `json:"origin_lng"`
	RadiusM   float64 `json:"radius_m"`
}

// Alerter is the repeat-capable side of the alert dispatcher.
type Alerter interface {
	StartRepeat(ev alert.Event) bool
	StopRepeat(kind alert.Kind) bool
}

type Status struct {
	State         State    `json:"state"`
	Alarm         Alarm    `json:"alarm"`
	DistanceM     *float64 `json:"distance_m,omitempty"`
	Dismissed     bool     `json:"dismissed"`
	AlertEpisodes int      `json:"alert_episodes"`
}

// Watch is the Disarmed/Armed/Alerting state machine.
type Watch struct {
	alerter Alerter
	log     zerolog.Logger

	mu        sync.Mutex
	state     State
	alarm     Alarm
	lastDist  float64
	hasDist   bool
	dismissed bool
	episodes  int
}

func NewWatch(alerter Alerter, logger zerolog.Logger) *Watch {
	return &Watch{
		alerter: alerter,
		log:     logger.With().Str("component", "anchor").Logger(),
	}
}

// Drop arms the geofence at origin. An invalid radius leaves the state unchanged.
func (w *Watch) Drop(originLat, originLng, radiusM float64) (Alarm, error) {
	if !(radiusM > 0) || math.IsInf(radiusM, 0) {
		return Alarm{}, fmt.Errorf("%w: got %v", ErrInvalidGeofence, radiusM)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopRepeatLocked()
	w.alarm = Alarm{Active: true, OriginLat: originLat, OriginLng: originLng, RadiusM: radiusM}
	w.state = Armed
	w.hasDist = false
	w.dismissed = false
	w.log.Info().Float64("lat", originLat).Float64("lng", originLng).Float64("radius_m", radiusM).Msg("anchor dropped")
	return w.alarm, nil
}

// Restore re-arms a persisted alarm. Inactive or invalid alarms are ignored.
func (w *Watch) Restore(a Alarm) bool {
	if !a.Active || !(a.RadiusM > 0) {
		return false
	}
	_, err := w.Drop(a.OriginLat, a.OriginLng, a.RadiusM)
	return err == nil
}

// Raise disarms from any state.
func (w *Watch) Raise() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Disarmed {
		return
	}
	w.stopRepeatLocked()
	w.state = Disarmed
	w.alarm.Active = false
	w.hasDist = false
	w.dismissed = false
	w.log.Info().Msg("anchor raised")
}

// OnSample is the GeoSampler subscriber.
func (w *Watch) OnSample(s gps.PositionSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Disarmed {
		return
	}

	d := geo.DistanceM(w.alarm.OriginLat, w.alarm.OriginLng, s.LatDeg, s.LngDeg)
	w.lastDist = d
	w.hasDist = true

	switch {
	case d > w.alarm.RadiusM && w.state != Alerting:
		w.state = Alerting
		w.dismissed = false
		w.episodes++
		w.log.Warn().Float64("distance_m", d).Float64("radius_m", w.alarm.RadiusM).Msg("anchor drift")
		if w.alerter != nil {
			w.alerter.StartRepeat(alert.Event{
				Kind:    alert.KindAnchorDrift,
				Message: fmt.Sprintf("Moved %.0f m (limit %.0f m)", d, w.alarm.RadiusM),
				Source:  "anchor",
				At:      s.Timestamp,
			})
		}
	case d <= w.alarm.RadiusM && w.state == Alerting:
		w.state = Armed
		w.stopRepeatLocked()
		w.log.Info().Float64("distance_m", d).Msg("back inside anchor radius")
	}
}

// Dismiss silences the repeating alert. The state stays Alerting.
func (w *Watch) Dismiss() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Alerting || w.dismissed {
		return false
	}
	w.dismissed = true
	w.stopRepeatLocked()
	return true
}

func (w *Watch) stopRepeatLocked() {
	if w.alerter != nil {
		w.alerter.StopRepeat(alert.KindAnchorDrift)
	}
}

func (w *Watch) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watch) Alarm() Alarm {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alarm
}

// LastDistance is the distance from origin at the last sample while armed.
func (w *Watch) LastDistance() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastDist, w.hasDist
}

func (w *Watch) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{State: w.state, Alarm: w.alarm, Dismissed: w.dismissed, AlertEpisodes: w.episodes}
	if w.hasDist {
		d := w.lastDist
		st.DistanceM = &d
	}
	return st
}
