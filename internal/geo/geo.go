// Package geo contains pure geographic computation helpers shared by pricing,
// matching and the routing fallback.
package geo

import (
	"math"
	"sort"

	"campusride/internal/types"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between a and b.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// WithinMeters reports whether b lies within radiusM metres of a (inclusive).
func WithinMeters(a, b types.Point, radiusM float64) bool {
	return HaversineKm(a, b)*1000 <= radiusM
}

// Box is a lat/lng rectangle enclosing a circle; used as an index-friendly
// prefilter before the exact haversine check. MinLng > MaxLng means the box
// crosses the antimeridian.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

func BoundingBox(center types.Point, radiusKm float64) Box {
	latDelta := radiusKm / earthRadiusKm * 180 / math.Pi
	b := Box{
		MinLat: math.Max(-90, center.Lat-latDelta),
		MaxLat: math.Min(90, center.Lat+latDelta),
		MinLng: -180,
		MaxLng: 180,
	}
	// A circle reaching a pole spans every longitude.
	if b.MinLat <= -90 || b.MaxLat >= 90 {
		return b
	}
	lngDelta := latDelta / math.Cos(degreesToRadians(center.Lat))
	if lngDelta >= 180 {
		return b
	}
	b.MinLng, b.MaxLng = center.Lng-lngDelta, center.Lng+lngDelta
	if b.MinLng < -180 {
		b.MinLng += 360
	}
	if b.MaxLng > 180 {
		b.MaxLng -= 360
	}
	return b
}

func (b Box) Contains(p types.Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MinLng <= b.MaxLng {
		return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
	}
	return p.Lng >= b.MinLng || p.Lng <= b.MaxLng
}

// LngRanges splits the box's longitude span into at most two non-wrapping
// ranges.
func (b Box) LngRanges() [][2]float64 {
	if b.MinLng <= b.MaxLng {
		return [][2]float64{{b.MinLng, b.MaxLng}}
	}
	return [][2]float64{{b.MinLng, 180}, {-180, b.MaxLng}}
}

// SortByDistance orders items ascending by the accessor's distance. The sort
// is stable so equal distances keep their input order.
func SortByDistance[T any](items []T, dist func(T) float64) {
	sort.SliceStable(items, func(i, j int) bool {
		return dist(items[i]) < dist(items[j])
	})
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
