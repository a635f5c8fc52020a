// Package store holds the relational persistence layer: origins (serviceable
// postal codes), field agents, the route cache, the settings bag and search
// history.
package store

import (
	"fmt"
	"time"

	"agent-dispatch/internal/geo"
)

// Origin is a serviceable postal-code location. MinutesToCentral is nil until
// the central gate has computed it; Viable is derived from it and the
// configured threshold.
type Origin struct {
	Code             string
	City             string
	Lat              *float64
	Lng              *float64
	MinutesToCentral *int
	Viable           bool
}

// Coords returns the origin's coordinates, or nil when not geocoded.
func (o Origin) Coords() *geo.Point {
	if o.Lat == nil || o.Lng == nil {
		return nil
	}
	return &geo.Point{Lat: *o.Lat, Lng: *o.Lng}
}

// Waypoint renders the origin for a provider call: exact coordinates when
// available, otherwise the postal code with a country hint.
func (o Origin) Waypoint(country string) string {
	if p := o.Coords(); p != nil {
		return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
	}
	return fmt.Sprintf("%s, %s", o.Code, country)
}

// Agent is a field representative. Only active agents participate in ranking
// and precalculation; the core treats agent rows as read-only.
type Agent struct {
	ID      int
	Name    string
	Address string
	City    string
	ZipCode string
	Lat     *float64
	Lng     *float64
	Active  bool
}

// Coords returns the agent's coordinates, or nil when not geocoded.
func (a Agent) Coords() *geo.Point {
	if a.Lat == nil || a.Lng == nil {
		return nil
	}
	return &geo.Point{Lat: *a.Lat, Lng: *a.Lng}
}

// Waypoint renders the agent for a provider call.
func (a Agent) Waypoint(country string) string {
	if p := a.Coords(); p != nil {
		return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
	}
	return fmt.Sprintf("%s, %s, %s, %s", a.Address, a.City, a.ZipCode, country)
}

// RouteEntry is one cached (origin, agent) driving-time row. Status "OK"
// means a confirmed route; any other status means "tried and failed", which
// incremental fills do not retry. A missing row means "never tried".
type RouteEntry struct {
	OriginCode  string
	AgentID     int
	DistanceKm  float64
	DurationMin int
	Status      string
	UpdatedAt   time.Time
}

// BestMatch is a ranked route-cache hit joined with its agent.
type BestMatch struct {
	AgentID     int
	Name        string
	City        string
	DistanceKm  float64
	DurationMin int
	Lat         *float64
	Lng         *float64
}

// Coords returns the matched agent's coordinates, or nil.
func (m BestMatch) Coords() *geo.Point {
	if m.Lat == nil || m.Lng == nil {
		return nil
	}
	return &geo.Point{Lat: *m.Lat, Lng: *m.Lng}
}

// SearchRecord is one audited ranking query.
type SearchRecord struct {
	Query     string    `json:"query"`
	IP        string    `json:"ip"`
	Result    string    `json:"result"`
	UserAgent string    `json:"userAgent"`
	At        time.Time `json:"at"`
}
