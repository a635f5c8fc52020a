package maps

import (
	"strconv"
	"strings"

	"agent-dispatch/internal/geo"
)

// Estimator derives driving legs from straight-line distance at an assumed
// average speed. Best-effort degraded mode for when the provider is
// unreachable or unconfigured; legs carry StatusEstimated so the cache layer
// treats them as retryable, never as confirmed routes.
type Estimator struct {
	urbanSpeedKmh float64 // under urbanCutoffKm
	roadSpeedKmh  float64
	urbanCutoffKm float64
}

func NewEstimator() *Estimator {
	return &Estimator{
		urbanSpeedKmh: 30,
		roadSpeedKmh:  80,
		urbanCutoffKm: 10,
	}
}

// EstimateLeg builds an estimated leg between two coordinates.
func (e *Estimator) EstimateLeg(a, b geo.Point) Leg {
	km := geo.HaversineKm(a, b)
	speed := e.roadSpeedKmh
	if km < e.urbanCutoffKm {
		speed = e.urbanSpeedKmh
	}
	return Leg{
		Status:          StatusEstimated,
		DistanceMeters:  int(km * 1000),
		DurationSeconds: int(km / speed * 3600),
	}
}

// DistanceMatrix estimates every leg of a matrix. Waypoints that are not
// "lat,lng" pairs cannot be estimated and come back unreachable.
func (e *Estimator) DistanceMatrix(origins, destinations []string) [][]Leg {
	matrix := make([][]Leg, len(origins))
	for i, o := range origins {
		matrix[i] = make([]Leg, len(destinations))
		op := ParseLatLng(o)
		for j, d := range destinations {
			dp := ParseLatLng(d)
			if op == nil || dp == nil {
				matrix[i][j] = Leg{Status: StatusUnreachable}
				continue
			}
			matrix[i][j] = e.EstimateLeg(*op, *dp)
		}
	}
	return matrix
}

// RouteMatrix estimates the many-to-one shape.
func (e *Estimator) RouteMatrix(origins []geo.Point, dest geo.Point) []Leg {
	legs := make([]Leg, len(origins))
	for i, o := range origins {
		legs[i] = e.EstimateLeg(o, dest)
	}
	return legs
}

// ParseLatLng parses a "lat,lng" waypoint string, returning nil for
// free-text addresses.
func ParseLatLng(s string) *geo.Point {
	parts := strings.SplitN(strings.TrimSpace(s), ",", 2)
	if len(parts) != 2 {
		return nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}
	return &geo.Point{Lat: lat, Lng: lng}
}

// FormatLatLng renders a coordinate waypoint the provider accepts.
func FormatLatLng(p geo.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
