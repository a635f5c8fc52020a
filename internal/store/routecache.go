package store

import (
	"context"
	"database/sql"
	"errors"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/metrics"
)

// Cache entry statuses. StatusOK marks a confirmed route. StatusEstimated
// marks a straight-line approximation written while the provider was
// unavailable; it is recalculated on the next fill. Any other status is a
// recorded failure: known unreachable, not retried by incremental fills.
const (
	StatusOK        = "OK"
	StatusEstimated = "ESTIMATED"
)

// RouteCacheStore persists driving times between origins and agents, keyed by
// the pair. Upserts are last-write-wins and every write is durable
// immediately, so a crash mid-batch loses at most the in-flight call.
type RouteCacheStore struct {
	db *sql.DB
}

func NewRouteCacheStore(db *sql.DB) *RouteCacheStore {
	return &RouteCacheStore{db: db}
}

// Get returns the cached entry for a pair, or nil when never tried.
func (s *RouteCacheStore) Get(ctx context.Context, originCode string, agentID int) (*RouteEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT origin_code, agent_id, COALESCE(distance_km, 0), COALESCE(duration_min, 0), status, updated_at
		 FROM route_cache WHERE origin_code = $1 AND agent_id = $2`,
		originCode, agentID)

	var e RouteEntry
	err := row.Scan(&e.OriginCode, &e.AgentID, &e.DistanceKm, &e.DurationMin, &e.Status, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, commonerrors.NewQueryExecutionFailedError("get route", err)
	}
	return &e, nil
}

// Has reports whether a confirmed OK route exists for the pair. A recorded
// failure does not count.
func (s *RouteCacheStore) Has(ctx context.Context, originCode string, agentID int) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM route_cache WHERE origin_code = $1 AND agent_id = $2 AND status = $3)`,
		originCode, agentID, StatusOK)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, commonerrors.NewQueryExecutionFailedError("route exists", err)
	}
	if exists {
		metrics.RouteCacheLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.RouteCacheLookups.WithLabelValues("miss").Inc()
	}
	return exists, nil
}

// Upsert writes one cache entry, last write wins, updated_at refreshed.
func (s *RouteCacheStore) Upsert(ctx context.Context, e RouteEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_cache (origin_code, agent_id, distance_km, duration_min, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (origin_code, agent_id)
		DO UPDATE SET
			distance_km = EXCLUDED.distance_km,
			duration_min = EXCLUDED.duration_min,
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP`,
		e.OriginCode, e.AgentID, e.DistanceKm, e.DurationMin, e.Status)
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("upsert route", err)
	}
	return nil
}

// CachedAgentIDs returns the set of agents already tried from the origin,
// confirmed or failed. Incremental fills skip this whole set: a recorded
// failure is not retried. Estimated legs are excluded so a real provider
// replaces them.
func (s *RouteCacheStore) CachedAgentIDs(ctx context.Context, originCode string) (map[int]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id FROM route_cache WHERE origin_code = $1 AND status <> $2`,
		originCode, StatusEstimated)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("cached agents", err)
	}
	defer rows.Close()

	ids := make(map[int]struct{})
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("scan agent id", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("cached agents", err)
	}
	return ids, nil
}

// CachedOriginCodes is the per-agent mirror of CachedAgentIDs.
func (s *RouteCacheStore) CachedOriginCodes(ctx context.Context, agentID int) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT origin_code FROM route_cache WHERE agent_id = $1 AND status <> $2`,
		agentID, StatusEstimated)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("cached origins", err)
	}
	defer rows.Close()

	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("scan origin code", err)
		}
		codes[code] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("cached origins", err)
	}
	return codes, nil
}

// BestFor returns the best cached candidates for an origin: active agents
// only, confirmed routes only, within the duration cutoff, ordered by
// duration then distance.
func (s *RouteCacheStore) BestFor(ctx context.Context, originCode string, maxDurationMin, limit int) ([]BestMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rc.agent_id, a.name, a.city, rc.distance_km, rc.duration_min, a.lat, a.lng
		FROM route_cache rc
		JOIN agents a ON a.id = rc.agent_id
		WHERE rc.origin_code = $1 AND rc.status = $2 AND rc.duration_min <= $3 AND a.active = TRUE
		ORDER BY rc.duration_min ASC, rc.distance_km ASC
		LIMIT $4`,
		originCode, StatusOK, maxDurationMin, limit)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("best for origin", err)
	}
	defer rows.Close()

	var matches []BestMatch
	for rows.Next() {
		var m BestMatch
		if err := rows.Scan(&m.AgentID, &m.Name, &m.City, &m.DistanceKm, &m.DurationMin, &m.Lat, &m.Lng); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("scan best match", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("best for origin", err)
	}
	return matches, nil
}
