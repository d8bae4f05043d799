// Package sim produces deterministic vessel and peer motion for demo mode
// and tests.
package sim

import (
	"math"
	"time"

	"singrar/internal/geo"
	"singrar/internal/gps"
)

// VesselSim moves the own vessel on a figure-eight around a center.
type VesselSim struct {
	CenterLatDeg float64
	CenterLngDeg float64
	RadiusM      float64
	Period       time.Duration
	AccuracyM    float64
}

func (s VesselSim) withDefaults() VesselSim {
	if s.RadiusM <= 0 {
		s.RadiusM = 200
	}
	if s.Period <= 0 {
		s.Period = 10 * time.Minute
	}
	if s.AccuracyM <= 0 {
		s.AccuracyM = 8
	}
	return s
}

// Sample returns the fix at now. It has the gps.SimFunc signature.
//
//	east  = R cos(wt)
//	north = R/2 sin(2wt)
func (s VesselSim) Sample(now time.Time) gps.PositionSample {
	s = s.withDefaults()

	phase := float64(now.UnixNano()%s.Period.Nanoseconds()) / float64(s.Period.Nanoseconds())
	w := 2 * math.Pi * phase
	omega := 2 * math.Pi / s.Period.Seconds()

	east := s.RadiusM * math.Cos(w)
	north := 0.5 * s.RadiusM * math.Sin(2*w)
	lat, lng := geo.Offset(s.CenterLatDeg, s.CenterLngDeg, north, east)

	ve := -s.RadiusM * omega * math.Sin(w)
	vn := s.RadiusM * omega * math.Cos(2*w)
	speed := math.Hypot(ve, vn)
	heading := math.Mod(math.Atan2(ve, vn)*180/math.Pi+360, 360)

	return gps.PositionSample{
		LatDeg:     lat,
		LngDeg:     lng,
		HeadingDeg: &heading,
		SpeedMPS:   &speed,
		AccuracyM:  s.AccuracyM,
		Timestamp:  now.UTC(),
		Source:     "sim",
	}
}
