package radar

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// EventLocation is the only broadcast event the radar understands.
const EventLocation = "location"

// Message is the broadcast envelope.
type Message struct {
	Event   string          `json:"event"`
	Payload LocationPayload `json:"payload"`
}

type LocationPayload struct {
	ID      string   `json:"id"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Heading *float64 `json:"heading"`
	Speed   *float64 `json:"speed"`
}

func EncodeLocation(p LocationPayload) ([]byte, error) {
	return json.Marshal(Message{Event: EventLocation, Payload: p})
}

// DecodeLocation parses and validates a location message.
func DecodeLocation(b []byte) (LocationPayload, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return LocationPayload{}, fmt.Errorf("radar message parse failed: %w", err)
	}
	if m.Event != EventLocation {
		return LocationPayload{}, fmt.Errorf("radar message: unexpected event %q", m.Event)
	}
	p := m.Payload
	if strings.TrimSpace(p.ID) == "" {
		return LocationPayload{}, fmt.Errorf("radar message: missing id")
	}
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return LocationPayload{}, fmt.Errorf("radar message: position out of range lat=%v lng=%v", p.Lat, p.Lng)
	}
	return p, nil
}
