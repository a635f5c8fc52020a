package dispatch

import (
	"context"
	"sort"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/geo"
	"agent-dispatch/internal/maps"
)

// LiveCandidate is one agent scored during a live search.
type LiveCandidate struct {
	AgentID     int     `json:"agentId"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	DistanceKm  float64 `json:"distanceKm"`
	DurationMin int     `json:"durationMin"`
	Rank        int     `json:"rank"`
}

// LiveResult is the answer to a live (cache-free) search.
type LiveResult struct {
	Address          string          `json:"address"`
	Location         geo.Point       `json:"location"`
	Viable           bool            `json:"viable"`
	MinutesToCentral *int            `json:"minutesToCentral,omitempty"`
	Candidates       []LiveCandidate `json:"candidates"`
}

// SearchLive ranks agents for an arbitrary address without touching the route
// cache. A straight-line prefilter picks the closest agents so one provider
// call covers them plus the central-office viability leg; nothing computed
// here is persisted.
func (r *Ranker) SearchLive(ctx context.Context, address string) (*LiveResult, error) {
	settings, err := r.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	central := settings.CentralCoords()
	if central == nil {
		return nil, commonerrors.NewInvalidInputError("central office coordinates not configured")
	}

	geocoded, err := r.geocoder.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}
	dest := geo.Point{Lat: geocoded.Lat, Lng: geocoded.Lng}

	agents, err := r.agents.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	points := make([]*geo.Point, len(agents))
	for i, a := range agents {
		points[i] = a.Coords()
	}

	// One leg is reserved for the central office; the straight-line prefilter
	// keeps the single provider call down to the agents we could return anyway.
	k := settings.SearchResultsCount
	if k > maps.MaxMatrixLegs-1 {
		k = maps.MaxMatrixLegs - 1
	}
	nearest := geo.NearestK(dest, points, k)

	origins := make([]geo.Point, 0, len(nearest)+1)
	for _, n := range nearest {
		origins = append(origins, *points[n.Index])
	}
	origins = append(origins, *central)

	legs, err := r.provider.RouteMatrix(ctx, origins, dest)
	if err != nil {
		return nil, err
	}
	if len(legs) != len(origins) {
		return nil, commonerrors.NewProviderUnavailableError(nil)
	}

	result := &LiveResult{
		Address:    geocoded.FormattedAddress,
		Location:   dest,
		Candidates: []LiveCandidate{},
	}

	// Viability comes from the central leg; without it the answer would be
	// a guess.
	centralLeg := legs[len(legs)-1]
	if !centralLeg.OK() {
		return nil, commonerrors.NewProviderLegFailedError("central office leg " + centralLeg.Status)
	}
	minutes := centralLeg.DurationMin()
	result.MinutesToCentral = &minutes
	result.Viable = minutes <= settings.CentralMaxMinutes

	for i, n := range nearest {
		leg := legs[i]
		if !leg.OK() || leg.DurationMin() > settings.RouteMaxMinutes {
			continue
		}
		agent := agents[n.Index]
		result.Candidates = append(result.Candidates, LiveCandidate{
			AgentID:     agent.ID,
			Name:        agent.Name,
			City:        agent.City,
			DistanceKm:  leg.DistanceKm(),
			DurationMin: leg.DurationMin(),
		})
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		if result.Candidates[i].DurationMin != result.Candidates[j].DurationMin {
			return result.Candidates[i].DurationMin < result.Candidates[j].DurationMin
		}
		return result.Candidates[i].DistanceKm < result.Candidates[j].DistanceKm
	})
	if len(result.Candidates) > settings.SearchResultsCount {
		result.Candidates = result.Candidates[:settings.SearchResultsCount]
	}
	for i := range result.Candidates {
		result.Candidates[i].Rank = i + 1
	}

	return result, nil
}
