// Package motion models device motion and orientation events.
package motion

import (
	"math"
	"time"
)

// Sample is one device-motion reading in m/s², gravity excluded.
type Sample struct {
	AccelX float64   `json:"x"`
	AccelY float64   `json:"y"`
	AccelZ float64   `json:"z"`
	At     time.Time `json:"at"`
}

// Magnitude is √(ax²+ay²+az²).
func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.AccelX*s.AccelX + s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
}

// Orientation is one device-orientation reading. Phones report either an
// absolute compass heading (iOS) or only the alpha rotation.
type Orientation struct {
	CompassHeading *float64  `json:"compass_heading,omitempty"`
	Alpha          *float64  `json:"alpha,omitempty"`
	At             time.Time `json:"at"`
}

// Heading prefers the compass heading and otherwise derives 360 - alpha.
// A compass heading of exactly 0 counts as absent, as browsers report 0 when
// the compass is not calibrated. The alpha path is approximate and is not
// normalized, so alpha=0 yields 360.
func (o Orientation) Heading() (float64, bool) {
	if o.CompassHeading != nil && *o.CompassHeading != 0 {
		return *o.CompassHeading, true
	}
	if o.Alpha != nil {
		return 360 - *o.Alpha, true
	}
	return 0, false
}
