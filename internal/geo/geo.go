package geo

import "math"

// earthRadiusM is the mean earth radius in meters.
const earthRadiusM = 6371000.0

// Location is a reported coordinate with the device's claimed GPS accuracy.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	AccuracyM float64 `json:"accuracy_m"`
}

// Distance returns the haversine great-circle distance between two
// locations in meters. Accuracy is ignored here; it only widens the fence.
func Distance(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// EffectiveRadius widens a base fence radius by both reported accuracies, so
// an attendee is never rejected for GPS noise the devices themselves admit to.
func EffectiveRadius(baseM float64, a, b Location) float64 {
	return baseM + a.AccuracyM + b.AccuracyM
}

// Within reports whether the distance between the two locations fits inside
// the effective fence radius.
func Within(baseM float64, a, b Location) bool {
	return Distance(a, b) <= EffectiveRadius(baseM, a, b)
}
