// Package geo contains pure geographic computation helpers.
package geo

import (
	"math"
	"sort"

	"ryde/internal/types"
)

const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// Within reports whether b lies within radiusKm of a.
func Within(a, b types.Point, radiusKm float64) bool {
	return HaversineKm(a, b) <= radiusKm
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance orders items by ascending distance from origin. The sort is
// stable so equidistant items keep their input order.
func SortByDistance[T any](items []T, origin types.Point, pos func(T) types.Point) {
	sort.SliceStable(items, func(i, j int) bool {
		return HaversineKm(origin, pos(items[i])) < HaversineKm(origin, pos(items[j]))
	})
}

// BoundingBox returns a lat/lng rectangle that contains every point within
// radiusKm of p. It is a prefilter; callers still apply HaversineKm. A box
// that would cross the antimeridian spans every longitude instead.
func BoundingBox(p types.Point, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	const kmPerDegree = EarthRadiusKm * math.Pi / 180.0

	latDelta := radiusKm / kmPerDegree
	minLat = math.Max(p.Lat-latDelta, -90)
	maxLat = math.Min(p.Lat+latDelta, 90)

	cosLat := math.Cos(degreesToRadians(p.Lat))
	if cosLat < 1e-6 || minLat == -90 || maxLat == 90 {
		return minLat, maxLat, -180, 180
	}
	lngDelta := radiusKm / (kmPerDegree * cosLat)
	if lngDelta >= 180 || p.Lng-lngDelta < -180 || p.Lng+lngDelta > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, p.Lng - lngDelta, p.Lng + lngDelta
}
