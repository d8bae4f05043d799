// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PositionSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "singrar_position_samples_total",
		Help: "Position samples seen by the sampler and recorder, by result",
	}, []string{"result"})
	TrackPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "singrar_track_points_total",
		Help: "Points appended to the active track",
	})
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "singrar_alerts_total",
		Help: "Alerts rendered, by kind",
	}, []string{"kind"})
	RadarPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "singrar_radar_peers",
		Help: "Peers currently in the radar table",
	})
	RadarMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "singrar_radar_messages_total",
		Help: "Radar messages by direction (in, out, dropped)",
	}, []string{"direction"})
	CollisionPhase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "singrar_collision_phase",
		Help: "Collision detector phase: 0 idle, 1 counting down, 2 emergency",
	})
)

// Sample result labels.
const (
	ResultPublished   = "published"
	ResultDuplicate   = "duplicate"
	ResultLowAccuracy = "low_accuracy"
	ResultRecorded    = "recorded"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
