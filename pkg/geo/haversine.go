package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for every distance in the router.
const EarthRadiusMeters = 6_371_000.0

// Haversine returns the great-circle distance in meters between two points.
// Edge weights and the A* heuristic both come from here, so the heuristic
// can never exceed the length of a road-following path.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = math.Pi / 180 * EarthRadiusMeters

// minCosLat keeps the longitude delta finite near the poles.
const minCosLat = 0.01

// DegreesDelta converts a radius in meters around lat into the latitude and
// longitude deltas of a box that contains the whole circle.
func DegreesDelta(lat, meters float64) (dLat, dLng float64) {
	dLat = meters / metersPerDegree
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < minCosLat {
		cosLat = minCosLat
	}
	dLng = dLat / cosLat
	if dLng > 180 {
		dLng = 180
	}
	return dLat, dLng
}
