// Package weather derives the sharp pressure-drop alert from hourly forecast data.
package weather

import "time"

const (
	// DropThresholdHPa is the 3-hour change at or below which the alert fires.
	DropThresholdHPa = -3.0
	lookbackSamples  = 3
)

// Drop is the outcome of one pressure comparison.
type Drop struct {
	CurrentHPa float64 `json:"current_hpa"`
	PastHPa    float64 `json:"past_hpa"`
	DiffHPa    float64 `json:"diff_hpa"`
	Alert      bool    `json:"alert"`
}

// PressureDrop compares the current pressure with the hourly sample three
// hours before the current hour. The current hour is the last hourly
// timestamp not after now, or index 0 when none is.
func PressureDrop(currentHPa float64, hourlyHPa []float64, times []time.Time, now time.Time) (Drop, bool) {
	if len(hourlyHPa) == 0 {
		return Drop{}, false
	}
	idx := 0
	for i, t := range times {
		if i >= len(hourlyHPa) {
			break
		}
		if t.After(now) {
			break
		}
		idx = i
	}
	past := idx - lookbackSamples
	if past < 0 {
		past = 0
	}
	diff := currentHPa - hourlyHPa[past]
	return Drop{
		CurrentHPa: currentHPa,
		PastHPa:    hourlyHPa[past],
		DiffHPa:    diff,
		Alert:      diff <= DropThresholdHPa,
	}, true
}
