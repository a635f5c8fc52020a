package dispatch

import (
	"context"
	"fmt"
	"sync"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/geo"
	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/store"
)

// In-memory collaborators for exercising the core without a database or a
// provider.

type fakeOrigins struct {
	mu            sync.Mutex
	origins       map[string]*store.Origin
	order         []string
	getCalls      int
	recomputes    int
	lastThreshold int
}

func newFakeOrigins(origins ...store.Origin) *fakeOrigins {
	f := &fakeOrigins{origins: make(map[string]*store.Origin)}
	for i := range origins {
		o := origins[i]
		f.origins[o.Code] = &o
		f.order = append(f.order, o.Code)
	}
	return f
}

func (f *fakeOrigins) GetByCode(ctx context.Context, code string) (*store.Origin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	o, ok := f.origins[code]
	if !ok {
		return nil, commonerrors.NewUnknownOriginError(code)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrigins) ListAll(ctx context.Context) ([]store.Origin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Origin
	for _, code := range f.order {
		out = append(out, *f.origins[code])
	}
	return out, nil
}

func (f *fakeOrigins) ListViable(ctx context.Context) ([]store.Origin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Origin
	for _, code := range f.order {
		if f.origins[code].Viable {
			out = append(out, *f.origins[code])
		}
	}
	return out, nil
}

func (f *fakeOrigins) SetMinutesToCentral(ctx context.Context, code string, minutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.origins[code]
	if !ok {
		return commonerrors.NewUnknownOriginError(code)
	}
	m := minutes
	o.MinutesToCentral = &m
	return nil
}

func (f *fakeOrigins) RecomputeViability(ctx context.Context, threshold int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputes++
	f.lastThreshold = threshold
	var affected int64
	for _, o := range f.origins {
		if o.MinutesToCentral == nil {
			continue
		}
		o.Viable = *o.MinutesToCentral <= threshold
		affected++
	}
	return affected, nil
}

func (f *fakeOrigins) RecomputeViabilityFor(ctx context.Context, code string, threshold int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.origins[code]
	if ok && o.MinutesToCentral != nil {
		o.Viable = *o.MinutesToCentral <= threshold
	}
	return nil
}

func (f *fakeOrigins) minutes(code string) *int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.origins[code].MinutesToCentral
}

type fakeAgents struct {
	agents []store.Agent
}

func (f *fakeAgents) GetByID(ctx context.Context, id int) (*store.Agent, error) {
	for i := range f.agents {
		if f.agents[i].ID == id {
			cp := f.agents[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("agent %d not found", id)
}

func (f *fakeAgents) ListActive(ctx context.Context) ([]store.Agent, error) {
	var out []store.Agent
	for _, a := range f.agents {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]store.RouteEntry
	best    map[string][]store.BestMatch
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string]store.RouteEntry),
		best:    make(map[string][]store.BestMatch),
	}
}

func pairKey(originCode string, agentID int) string {
	return fmt.Sprintf("%s/%d", originCode, agentID)
}

func (f *fakeCache) Upsert(ctx context.Context, e store.RouteEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[pairKey(e.OriginCode, e.AgentID)] = e
	return nil
}

func (f *fakeCache) get(originCode string, agentID int) (store.RouteEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[pairKey(originCode, agentID)]
	return e, ok
}

func (f *fakeCache) CachedAgentIDs(ctx context.Context, originCode string) (map[int]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[int]struct{})
	for _, e := range f.entries {
		if e.OriginCode == originCode && e.Status != store.StatusEstimated {
			ids[e.AgentID] = struct{}{}
		}
	}
	return ids, nil
}

func (f *fakeCache) CachedOriginCodes(ctx context.Context, agentID int) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := make(map[string]struct{})
	for _, e := range f.entries {
		if e.AgentID == agentID && e.Status != store.StatusEstimated {
			codes[e.OriginCode] = struct{}{}
		}
	}
	return codes, nil
}

func (f *fakeCache) BestFor(ctx context.Context, originCode string, maxDurationMin, limit int) ([]store.BestMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.BestMatch
	for _, m := range f.best[originCode] {
		if m.DurationMin <= maxDurationMin && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeProvider struct {
	mu            sync.Mutex
	distanceCalls [][2][]string
	routeCalls    [][]geo.Point
	distanceFn    func(origins, destinations []string) ([][]maps.Leg, error)
	routeFn       func(origins []geo.Point, dest geo.Point) ([]maps.Leg, error)
}

func (f *fakeProvider) DistanceMatrix(ctx context.Context, origins, destinations []string) ([][]maps.Leg, error) {
	f.mu.Lock()
	f.distanceCalls = append(f.distanceCalls, [2][]string{origins, destinations})
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.distanceFn != nil {
		return f.distanceFn(origins, destinations)
	}
	return okMatrix(len(origins), len(destinations), 600, 10000), nil
}

func (f *fakeProvider) RouteMatrix(ctx context.Context, origins []geo.Point, dest geo.Point) ([]maps.Leg, error) {
	f.mu.Lock()
	f.routeCalls = append(f.routeCalls, origins)
	f.mu.Unlock()
	if f.routeFn != nil {
		return f.routeFn(origins, dest)
	}
	legs := make([]maps.Leg, len(origins))
	for i := range legs {
		legs[i] = maps.Leg{Status: maps.StatusOK, DurationSeconds: 600, DistanceMeters: 10000}
	}
	return legs, nil
}

func (f *fakeProvider) distanceCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.distanceCalls)
}

func (f *fakeProvider) routeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.routeCalls)
}

func okMatrix(rows, cols, durationSec, distanceM int) [][]maps.Leg {
	matrix := make([][]maps.Leg, rows)
	for i := range matrix {
		matrix[i] = make([]maps.Leg, cols)
		for j := range matrix[i] {
			matrix[i][j] = maps.Leg{Status: maps.StatusOK, DurationSeconds: durationSec, DistanceMeters: distanceM}
		}
	}
	return matrix
}

type fakeSettings struct {
	settings store.Settings
	err      error
}

func (f *fakeSettings) Load(ctx context.Context) (store.Settings, error) {
	return f.settings, f.err
}

type fakeHistory struct {
	mu      sync.Mutex
	records []store.SearchRecord
}

func (f *fakeHistory) Record(ctx context.Context, rec store.SearchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) last() *store.SearchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return nil
	}
	return &f.records[len(f.records)-1]
}

type fakeGeocoder struct {
	result *maps.GeocodeResult
	err    error
	calls  int
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (*maps.GeocodeResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func ptrInt(v int) *int           { return &v }
func ptrFloat(v float64) *float64 { return &v }
