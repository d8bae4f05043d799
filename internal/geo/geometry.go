package geo

import (
	"errors"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrTooFewPoints is returned when a line needs at least two vertices.
var ErrTooFewPoints = errors.New("geo: line needs at least two points")

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64
	Lng float64
}

// To3857 projects a WGS84 coordinate to web mercator (EPSG:3857) meters.
func To3857(p LatLng) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(p.Lng, p.Lat, 0)
	return x, y
}

// LineString3857 builds a web-mercator line for a track. Tracks are stored
// projected, matching how map clients consume them.
func LineString3857(points []LatLng) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, ErrTooFewPoints
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	coords := make([]float64, 0, len(points)*2)
	for _, p := range points {
		x, y, _ := f(p.Lng, p.Lat, 0)
		coords = append(coords, x, y)
	}
	seq := geom.NewSequence(coords, geom.DimXY)
	return geom.NewLineString(seq)
}

// TrackWKT returns the EPSG:3857 WKT of a track, or "" when the track has
// fewer than two points.
func TrackWKT(points []LatLng) string {
	ls, err := LineString3857(points)
	if err != nil {
		return ""
	}
	return ls.AsText()
}

// PathLengthM sums haversine legs along the points.
func PathLengthM(points []LatLng) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += DistanceM(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng)
	}
	return total
}
