// Package geo holds the great-circle math shared by the safety monitors.
package geo

import "math"

// EarthRadiusM is the mean Earth radius used for all haversine distances.
const EarthRadiusM = 6371000.0

// KnotsPerMPS converts meters/second to knots.
const KnotsPerMPS = 1.94384

// MetersPerNM is one international nautical mile.
const MetersPerNM = 1852.0

// DistanceM returns the haversine distance in meters between two lat/lng points (degrees).
func DistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// BearingDeg returns the initial great-circle bearing from point 1 to point 2, in [0,360).
func BearingDeg(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180
	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Offset moves a point by northM/eastM meters using a local flat-earth approximation.
// Good enough for the short distances the simulators and tests use.
func Offset(latDeg, lngDeg, northM, eastM float64) (float64, float64) {
	dLat := northM / EarthRadiusM * 180 / math.Pi
	dLng := eastM / (EarthRadiusM * math.Cos(latDeg*math.Pi/180)) * 180 / math.Pi
	return latDeg + dLat, lngDeg + dLng
}

func MPSToKnots(mps float64) float64 {
	return mps * KnotsPerMPS
}

func KnotsToMPS(kt float64) float64 {
	return kt / KnotsPerMPS
}
