package gps

import (
	"errors"
	"time"
)

var (
	// ErrSensorUnavailable means no position source is configured or it could not be opened.
	ErrSensorUnavailable = errors.New("gps: position source unavailable")
	// ErrSensorTimeout means no fresh fix arrived in time. The last known fix is kept.
	ErrSensorTimeout = errors.New("gps: timed out waiting for a fix")
)

// PositionSample is one normalized fix. Values are never mutated after publish.
type PositionSample struct {
	LatDeg     float64   `json:"lat"`
	LngDeg     float64   `json:"lng"`
	HeadingDeg *float64  `json:"heading,omitempty"`
	SpeedMPS   *float64  `json:"speed,omitempty"`
	AccuracyM  float64   `json:"accuracy_m"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source,omitempty"`
}

// Speed returns the speed in m/s, or 0 when unknown.
func (p PositionSample) Speed() float64 {
	if p.SpeedMPS == nil {
		return 0
	}
	return *p.SpeedMPS
}

// sameFix reports whether b is a redelivery of a.
func sameFix(a, b PositionSample) bool {
	return a.Timestamp.Equal(b.Timestamp) && a.LatDeg == b.LatDeg && a.LngDeg == b.LngDeg
}

func floatPtr(v float64) *float64 {
	return &v
}
