package engine

import (
	"math"
	"math/rand"

	"mfcnet/internal/model"
)

const earthRadiusKm = 6371.0

// Traffic factor bounds applied to every travel-time estimate. Real
// congestion data is out of scope; a bounded random multiplier stands in.
const (
	trafficFactorMin = 1.2
	trafficFactorMax = 1.5
)

// Distance returns the great-circle distance between two points in km.
func Distance(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func baseSpeedKph(vehicleClass string) float64 {
	switch vehicleClass {
	case "car":
		return 20
	default:
		// motorbikes and other light two-wheelers
		return 25
	}
}

// TravelTime estimates minutes needed to cover distKm with the given
// vehicle class. The RNG is injected by the caller so repeated runs with
// the same seed produce identical estimates.
func TravelTime(rng *rand.Rand, distKm float64, vehicleClass string) float64 {
	factor := trafficFactorMin + rng.Float64()*(trafficFactorMax-trafficFactorMin)
	return distKm / baseSpeedKph(vehicleClass) * factor * 60
}
