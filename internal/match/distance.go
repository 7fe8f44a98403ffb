package match

import "math"

// metersPerDegree is the ground length of one degree of latitude (and of
// longitude at the equator).
const metersPerDegree = 111320.0

// EstimateMeters approximates the ground distance between two coordinate
// pairs using an equirectangular projection: latitude and longitude deltas
// are scaled to meters (longitude corrected by cos(lat1)) and combined
// Euclidean-style. This is deliberately planar, not great-circle: every
// candidate comparison happens inside a ~30 m search radius where curvature
// error is negligible. Callers must not invoke it with missing coordinates;
// absence of a coordinate means no proximity candidate, never distance zero.
func EstimateMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * metersPerDegree
	dLon := (lon2 - lon1) * metersPerDegree * math.Cos(lat1*math.Pi/180)
	return math.Hypot(dLat, dLon)
}
