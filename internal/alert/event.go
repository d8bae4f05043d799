// Package alert renders safety triggers as an audible tone plus a banner.
package alert

import "time"

type Kind string

const (
	KindAnchorDrift         Kind = "anchor_drift"
	KindCollisionImminent   Kind = "collision_imminent"
	KindCollisionEmergency  Kind = "collision_emergency"
	KindWeatherPressureDrop Kind = "weather_pressure_drop"
)

type Style string

const (
	StyleBanner Style = "banner"
	StyleModal  Style = "modal"
)

// Event is one discrete trigger raised by a state machine.
type Event struct {
	Kind    Kind
	Message string
	// Source names the producer, e.g. "radar" or "motion".
	Source string
	At     time.Time
}

type Banner struct {
	Kind    Kind      `json:"kind"`
	Style   Style     `json:"style"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Source  string    `json:"source,omitempty"`
	At      time.Time `json:"at"`
}

type presentation struct {
	style Style
	title string
}

var presentations = map[Kind]presentation{
	KindAnchorDrift:         {style: StyleModal, title: "Anchor alarm"},
	KindCollisionImminent:   {style: StyleModal, title: "Collision alert"},
	KindCollisionEmergency:  {style: StyleModal, title: "Emergency"},
	KindWeatherPressureDrop: {style: StyleBanner, title: "Severe weather: sharp pressure drop"},
}

func bannerFor(ev Event) Banner {
	p, ok := presentations[ev.Kind]
	if !ok {
		p = presentation{style: StyleBanner, title: string(ev.Kind)}
	}
	return Banner{
		Kind:    ev.Kind,
		Style:   p.style,
		Title:   p.title,
		Message: ev.Message,
		Source:  ev.Source,
		At:      ev.At,
	}
}
