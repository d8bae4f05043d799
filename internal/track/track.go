// Package track records the vessel's path into named tracks.
package track

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"singrar/internal/geo"
	"singrar/internal/gps"
	"singrar/internal/metrics"
)

const (
	DefaultColor          = "#64ffda"
	DefaultMaxAccuracyM   = 30.0
	DefaultMinDisplaceM   = 5.0
	defaultNameTimeLayout = "2006-01-02 15:04"
)

// ErrNotRecording is returned by Stop when no recording is in progress.
var ErrNotRecording = errors.New("track: not recording")

type Point struct {
	LatDeg     float64   `json:"lat"`
	LngDeg     float64   `json:"lng"`
	Timestamp  time.Time `json:"timestamp"`
	SpeedKnots float64   `json:"speed"`
}

type Track struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Points    []Point   `json:"points"`
	Visible   bool      `json:"visible"`
	CreatedAt time.Time `json:"created_at"`
}

// LatLngs returns the track vertices for geometry helpers.
func (t Track) LatLngs() []geo.LatLng {
	out := make([]geo.LatLng, len(t.Points))
	for i, p := range t.Points {
		out[i] = geo.LatLng{Lat: p.LatDeg, Lng: p.LngDeg}
	}
	return out
}

// Store persists finished tracks.
type Store interface {
	CreateTrack(ctx context.Context, t Track) error
}

type Config struct {
	MaxAccuracyM float64
	MinDisplaceM float64
	Logger       zerolog.Logger
}

type Stats struct {
	Recording  bool      `json:"recording"`
	Points     int       `json:"points"`
	DistanceNM float64   `json:"distance_nm"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

// Recorder accumulates filtered fixes while recording.
type Recorder struct {
	cfg   Config
	store Store
	log   zerolog.Logger
	now   func() time.Time

	mu           sync.Mutex
	recording    bool
	startedAt    time.Time
	points       []Point
	lastRecorded *Point
	distanceM    float64
}

func NewRecorder(cfg Config, store Store) *Recorder {
	if cfg.MaxAccuracyM <= 0 {
		cfg.MaxAccuracyM = DefaultMaxAccuracyM
	}
	if cfg.MinDisplaceM <= 0 {
		cfg.MinDisplaceM = DefaultMinDisplaceM
	}
	return &Recorder{
		cfg:   cfg,
		store: store,
		log:   cfg.Logger.With().Str("component", "track").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start begins a fresh recording, discarding any unsaved points.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.startedAt = r.now()
	r.points = nil
	r.lastRecorded = nil
	r.distanceM = 0
	r.log.Info().Msg("recording started")
}

// OnSample is the GeoSampler subscriber.
func (r *Recorder) OnSample(s gps.PositionSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		r.lastRecorded = nil
		return
	}
	if s.AccuracyM > r.cfg.MaxAccuracyM {
		metrics.PositionSamples.WithLabelValues(metrics.ResultLowAccuracy).Inc()
		return
	}

	p := Point{
		LatDeg:     s.LatDeg,
		LngDeg:     s.LngDeg,
		Timestamp:  s.Timestamp,
		SpeedKnots: geo.MPSToKnots(s.Speed()),
	}
	if r.lastRecorded != nil {
		d := geo.DistanceM(r.lastRecorded.LatDeg, r.lastRecorded.LngDeg, p.LatDeg, p.LngDeg)
		if d <= r.cfg.MinDisplaceM {
			return
		}
		r.distanceM += d
	}
	r.points = append(r.points, p)
	r.lastRecorded = &r.points[len(r.points)-1]
	metrics.TrackPoints.Inc()
}

// Stop ends the recording and persists it as a Track. The recorder resets
// even when the store fails; the returned track carries the points.
func (r *Recorder) Stop(ctx context.Context, name string) (Track, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return Track{}, ErrNotRecording
	}
	now := r.now()
	if name == "" {
		name = "Track " + now.Format(defaultNameTimeLayout)
	}
	t := Track{
		ID:        uuid.NewString(),
		Name:      name,
		Color:     DefaultColor,
		Points:    r.points,
		Visible:   true,
		CreatedAt: now,
	}
	if t.Points == nil {
		t.Points = []Point{}
	}
	r.recording = false
	r.points = nil
	r.lastRecorded = nil
	r.distanceM = 0
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.CreateTrack(ctx, t); err != nil {
			return t, fmt.Errorf("save track %s: %w", t.ID, err)
		}
	}
	r.log.Info().Str("id", t.ID).Str("name", t.Name).Int("points", len(t.Points)).Msg("recording saved")
	return t, nil
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{
		Recording:  r.recording,
		Points:     len(r.points),
		DistanceNM: r.distanceM / geo.MetersPerNM,
	}
	if r.recording {
		st.StartedAt = r.startedAt
	}
	return st
}
