// Package geo provides spatial operations for trip feature derivation and
// service-area validation.
package geo

import "math"

// earthRadiusKM is the mean Earth radius in kilometers.
const earthRadiusKM = 6371.0088

// HaversineKM computes the great-circle distance in kilometers between two
// latitude/longitude pairs using the haversine formula.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlon := rlon2 - rlon1

	a := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}
