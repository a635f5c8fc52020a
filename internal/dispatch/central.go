package dispatch

import (
	"context"
	"time"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/store"
)

// CentralGate computes driving times from origins to the central office. Only
// confirmed provider results are persisted; an origin whose leg fails keeps a
// null central time and stays in the "pending" state rather than being marked
// unreachable.
type CentralGate struct {
	origins  OriginDirectory
	provider maps.Provider
	logger   logger.Logger
	country  string
	pacing   time.Duration
}

func NewCentralGate(origins OriginDirectory, provider maps.Provider, country string, pacing time.Duration, log logger.Logger) *CentralGate {
	return &CentralGate{
		origins:  origins,
		provider: provider,
		logger:   log.WithFields(map[string]interface{}{"component": "central_gate"}),
		country:  country,
		pacing:   pacing,
	}
}

// EnsureCentralTimes fills the central driving time for every origin that does
// not have one yet, batched to the provider leg limit. A failed batch is
// logged and skipped so one bad chunk cannot starve the rest; onProgress is
// still called for it, so subscribers see the phase advance batch by batch.
// Returns the number of times persisted.
func (g *CentralGate) EnsureCentralTimes(ctx context.Context, settings store.Settings, origins []store.Origin, onProgress func(done, total int)) (int, error) {
	dest := settings.CentralWaypoint()
	if dest == "" {
		return 0, commonerrors.NewInvalidInputError("central office location not configured")
	}

	var missing []store.Origin
	for _, o := range origins {
		if o.MinutesToCentral == nil {
			missing = append(missing, o)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	g.logger.Info("computing central driving times", map[string]interface{}{
		"pending": len(missing),
	})

	computed := 0
	for start := 0; start < len(missing); start += maps.MaxMatrixLegs {
		if err := ctx.Err(); err != nil {
			return computed, err
		}

		end := start + maps.MaxMatrixLegs
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		waypoints := make([]string, len(batch))
		for i, o := range batch {
			waypoints[i] = o.Waypoint(g.country)
		}

		matrix, err := g.provider.DistanceMatrix(ctx, waypoints, []string{dest})
		if err != nil {
			g.logger.Warn("central batch failed", map[string]interface{}{
				"from":  batch[0].Code,
				"size":  len(batch),
				"error": err.Error(),
			})
			if onProgress != nil {
				onProgress(end, len(missing))
			}
			continue
		}

		for i, row := range matrix {
			if i >= len(batch) || len(row) == 0 {
				break
			}
			leg := row[0]
			if !leg.OK() {
				g.logger.Debug("central leg not resolved", map[string]interface{}{
					"origin": batch[i].Code,
					"status": leg.Status,
				})
				continue
			}
			if err := g.origins.SetMinutesToCentral(ctx, batch[i].Code, leg.DurationMin()); err != nil {
				return computed, err
			}
			computed++
		}

		if onProgress != nil {
			onProgress(end, len(missing))
		}

		if end < len(missing) {
			if err := sleepCtx(ctx, g.pacing); err != nil {
				return computed, err
			}
		}
	}

	return computed, nil
}

// EnsureCentralTimeFor computes and persists the central time for one origin.
// Returns the minutes, or nil when the provider could not resolve the leg.
func (g *CentralGate) EnsureCentralTimeFor(ctx context.Context, settings store.Settings, origin store.Origin) (*int, error) {
	if origin.MinutesToCentral != nil {
		return origin.MinutesToCentral, nil
	}

	dest := settings.CentralWaypoint()
	if dest == "" {
		return nil, commonerrors.NewInvalidInputError("central office location not configured")
	}

	matrix, err := g.provider.DistanceMatrix(ctx, []string{origin.Waypoint(g.country)}, []string{dest})
	if err != nil {
		return nil, err
	}
	if len(matrix) == 0 || len(matrix[0]) == 0 || !matrix[0][0].OK() {
		return nil, nil
	}

	minutes := matrix[0][0].DurationMin()
	if err := g.origins.SetMinutesToCentral(ctx, origin.Code, minutes); err != nil {
		return nil, err
	}
	return &minutes, nil
}

// sleepCtx waits for the pacing delay unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
