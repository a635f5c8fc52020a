// Package maps adapts the external driving-time provider. It exposes the two
// matrix shapes the dispatch core needs: one origin to many destinations
// (cache fills, central times) and many origins to one destination (precision
// recompute, live ranking).
package maps

import (
	"context"
	"math"

	"agent-dispatch/internal/geo"
)

// MaxMatrixLegs bounds a single matrix call to respect upstream API limits.
// Callers are responsible for chunking.
const MaxMatrixLegs = 25

// Leg statuses. Provider error codes (NOT_FOUND, ZERO_RESULTS, ...) pass
// through verbatim; these are the ones produced locally.
const (
	StatusOK          = "OK"
	StatusEstimated   = "ESTIMATED"
	StatusUnreachable = "UNREACHABLE"
)

// Leg is a single origin-destination result inside a matrix response.
type Leg struct {
	Status          string
	DistanceMeters  int
	DurationSeconds int
}

// OK reports whether the provider resolved this leg.
func (l Leg) OK() bool {
	return l.Status == StatusOK
}

// DistanceKm returns the leg distance rounded to two decimals.
func (l Leg) DistanceKm() float64 {
	return math.Round(float64(l.DistanceMeters)/10) / 100
}

// DurationMin returns the whole minutes of the leg duration.
func (l Leg) DurationMin() int {
	return l.DurationSeconds / 60
}

// Provider is the driving-time boundary consumed by the dispatch core.
//
// DistanceMatrix takes waypoints as "lat,lng" pairs or free-text addresses
// and returns matrix[originIndex][destIndex]. RouteMatrix takes exact
// coordinates for the street-level recompute and returns one leg per origin,
// in origin order.
//
// Both degrade predictably: a misconfigured or unreachable provider yields an
// error (or estimated legs when the estimator is enabled), never a panic, and
// per-leg failures are reported in Leg.Status while the call itself succeeds.
type Provider interface {
	DistanceMatrix(ctx context.Context, origins, destinations []string) ([][]Leg, error)
	RouteMatrix(ctx context.Context, origins []geo.Point, dest geo.Point) ([]Leg, error)
}
