// Package dispatch implements the assignment core: central-office gating,
// incremental route-cache precalculation and cache-backed agent ranking.
package dispatch

import (
	"context"

	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/store"
)

// OriginDirectory is the origin persistence consumed by the core.
type OriginDirectory interface {
	GetByCode(ctx context.Context, code string) (*store.Origin, error)
	ListAll(ctx context.Context) ([]store.Origin, error)
	ListViable(ctx context.Context) ([]store.Origin, error)
	SetMinutesToCentral(ctx context.Context, code string, minutes int) error
	RecomputeViability(ctx context.Context, thresholdMinutes int) (int64, error)
	RecomputeViabilityFor(ctx context.Context, code string, thresholdMinutes int) error
}

// AgentDirectory is the agent persistence consumed by the core.
type AgentDirectory interface {
	GetByID(ctx context.Context, id int) (*store.Agent, error)
	ListActive(ctx context.Context) ([]store.Agent, error)
}

// RouteCache is the persisted route-time cache consumed by the core.
type RouteCache interface {
	Upsert(ctx context.Context, e store.RouteEntry) error
	CachedAgentIDs(ctx context.Context, originCode string) (map[int]struct{}, error)
	CachedOriginCodes(ctx context.Context, agentID int) (map[string]struct{}, error)
	BestFor(ctx context.Context, originCode string, maxDurationMin, limit int) ([]store.BestMatch, error)
}

// SettingsLoader provides the effective settings for one request or job.
type SettingsLoader interface {
	Load(ctx context.Context) (store.Settings, error)
}

// SettingsRepository adds write access for the settings admin surface.
type SettingsRepository interface {
	SettingsLoader
	Set(ctx context.Context, key, value string) error
}

// HistoryRecorder audits ranking queries.
type HistoryRecorder interface {
	Record(ctx context.Context, rec store.SearchRecord) error
}

// Geocoder resolves free-text addresses.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*maps.GeocodeResult, error)
}
