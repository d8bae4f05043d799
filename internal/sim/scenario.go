package sim

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"singrar/internal/geo"
	"singrar/internal/gps"
	"singrar/internal/radar"
)

// ScenarioScript is a keyframed replay of the own vessel and its peers.
//
// Times are Go duration strings. If Duration is zero it is derived from the
// latest keyframe.
//
//	version: 1
//	duration: 10m
//	vessel:
//	  accuracy_m: 8
//	  keyframes:
//	    - t: 0s
//	      lat_deg: 59.91
//	      lng_deg: 10.75
//	      speed_kt: 0
//	      heading_deg: 180
//	peers:
//	  - id: "trawler"
//	    keyframes: ...
//
// Keyframes must be sorted by t.
type ScenarioScript struct {
	Version  int            `yaml:"version"`
	Duration time.Duration  `yaml:"duration"`
	Vessel   ScenarioVessel `yaml:"vessel"`
	Peers    []ScenarioPeer `yaml:"peers"`
}

type ScenarioVessel struct {
	AccuracyM float64    `yaml:"accuracy_m"`
	Keyframes []Keyframe `yaml:"keyframes"`
}

type ScenarioPeer struct {
	ID        string     `yaml:"id"`
	Keyframes []Keyframe `yaml:"keyframes"`
}

// Keyframe is a time-stamped position. A nil heading stays unknown.
type Keyframe struct {
	T          time.Duration `yaml:"t"`
	LatDeg     float64       `yaml:"lat_deg"`
	LngDeg     float64       `yaml:"lng_deg"`
	SpeedKt    float64       `yaml:"speed_kt"`
	HeadingDeg *float64      `yaml:"heading_deg"`
}

// Scenario is the validated runtime form. StateAt is deterministic.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Vessel.Keyframes) == 0 {
		return nil, fmt.Errorf("vessel.keyframes is required")
	}
	if err := validateKeyframes(script.Vessel.Keyframes, "vessel"); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(script.Peers))
	for i, p := range script.Peers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("peers[%d].id is required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("peers[%d].id %q is duplicated", i, id)
		}
		seen[id] = true
		if len(p.Keyframes) == 0 {
			return nil, fmt.Errorf("peers[%d].keyframes is required", i)
		}
		if err := validateKeyframes(p.Keyframes, fmt.Sprintf("peers[%d]", i)); err != nil {
			return nil, err
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = maxKeyframeTime(script)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// ScenarioState is the scenario at one instant.
type ScenarioState struct {
	Vessel gps.PositionSample
	Peers  []radar.LocationPayload
}

// StateAt computes the state at elapsed. With loop, elapsed wraps around
// Duration(); otherwise it is clamped to [0, Duration()]. The vessel
// timestamp is left zero.
func (s *Scenario) StateAt(elapsed time.Duration, loop bool) ScenarioState {
	if s == nil {
		return ScenarioState{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if loop {
		elapsed = elapsed % s.duration
	} else if elapsed > s.duration {
		elapsed = s.duration
	}

	v := sampleKeyframes(s.script.Vessel.Keyframes, elapsed)
	acc := s.script.Vessel.AccuracyM
	if acc <= 0 {
		acc = 8
	}
	speed := geo.KnotsToMPS(v.SpeedKt)
	out := ScenarioState{Vessel: gps.PositionSample{
		LatDeg:     v.LatDeg,
		LngDeg:     v.LngDeg,
		HeadingDeg: v.HeadingDeg,
		SpeedMPS:   &speed,
		AccuracyM:  acc,
		Source:     "scenario",
	}}

	for _, p := range s.script.Peers {
		kf := sampleKeyframes(p.Keyframes, elapsed)
		ps := geo.KnotsToMPS(kf.SpeedKt)
		out.Peers = append(out.Peers, radar.LocationPayload{
			ID:      strings.TrimSpace(p.ID),
			Lat:     kf.LatDeg,
			Lng:     kf.LngDeg,
			Heading: kf.HeadingDeg,
			Speed:   &ps,
		})
	}
	return out
}

// VesselFunc replays the vessel track from start.
func (s *Scenario) VesselFunc(start time.Time, loop bool) gps.SimFunc {
	return func(now time.Time) gps.PositionSample {
		v := s.StateAt(now.Sub(start), loop).Vessel
		v.Timestamp = now.UTC()
		return v
	}
}

// PeerSource replays the peers from start.
func (s *Scenario) PeerSource(start time.Time, loop bool) PeerSource {
	return func(now time.Time) []radar.LocationPayload {
		return s.StateAt(now.Sub(start), loop).Peers
	}
}

func validateKeyframes(kfs []Keyframe, name string) error {
	for i := range kfs {
		if kfs[i].T < 0 {
			return fmt.Errorf("%s.keyframes[%d].t must be >= 0", name, i)
		}
		if i > 0 && kfs[i].T < kfs[i-1].T {
			return fmt.Errorf("%s.keyframes must be sorted by t (index %d)", name, i)
		}
		if kfs[i].SpeedKt < 0 {
			return fmt.Errorf("%s.keyframes[%d].speed_kt must be >= 0", name, i)
		}
	}
	return nil
}

func maxKeyframeTime(s ScenarioScript) time.Duration {
	max := time.Duration(0)
	for _, kf := range s.Vessel.Keyframes {
		if kf.T > max {
			max = kf.T
		}
	}
	for _, p := range s.Peers {
		for _, kf := range p.Keyframes {
			if kf.T > max {
				max = kf.T
			}
		}
	}
	return max
}

func sampleKeyframes(kfs []Keyframe, t time.Duration) Keyframe {
	kf0, kf1, alpha := selectSegment(kfs, t)
	out := Keyframe{
		T:       t,
		LatDeg:  lerp(kf0.LatDeg, kf1.LatDeg, alpha),
		LngDeg:  lerp(kf0.LngDeg, kf1.LngDeg, alpha),
		SpeedKt: lerp(kf0.SpeedKt, kf1.SpeedKt, alpha),
	}
	switch {
	case kf0.HeadingDeg != nil && kf1.HeadingDeg != nil:
		h := lerpAngleDeg(*kf0.HeadingDeg, *kf1.HeadingDeg, alpha)
		out.HeadingDeg = &h
	case kf0.HeadingDeg != nil:
		h := *kf0.HeadingDeg
		out.HeadingDeg = &h
	}
	return out
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpAngleDeg(a0, a1, t float64) float64 {
	// Shortest-path interpolation across wraparound.
	norm := func(x float64) float64 {
		for x < 0 {
			x += 360
		}
		for x >= 360 {
			x -= 360
		}
		return x
	}
	a0 = norm(a0)
	a1 = norm(a1)
	delta := a1 - a0
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return norm(a0 + delta*t)
}
