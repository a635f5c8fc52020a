// Package geo provides pure straight-line distance math used to shrink
// candidate sets before any paid routing call.
package geo

import (
	"math"
	"sort"
)

// earthRadiusKm is the mean Earth radius.
const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(a, b Point) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// Ranked is a candidate index with its computed straight-line distance.
type Ranked struct {
	Index      int
	DistanceKm float64
}

// NearestK returns the k candidates closest to origin, ascending by distance.
// Nil entries (candidates without coordinates) are skipped, never an error.
// Equal distances keep input order.
func NearestK(origin Point, candidates []*Point, k int) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for i, p := range candidates {
		if p == nil {
			continue
		}
		ranked = append(ranked, Ranked{Index: i, DistanceKm: HaversineKm(origin, *p)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})

	if k >= 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
