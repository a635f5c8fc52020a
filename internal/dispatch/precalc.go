package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/common/metrics"
	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/store"
)

// Engine drives route-cache precalculation. It is incremental: pairs with a
// confirmed cached route are never recalculated, and recorded failures are not
// retried. At most one run is active per Engine; concurrent attempts get a
// JOB_RUNNING error instead of queueing.
type Engine struct {
	origins     OriginDirectory
	agents      AgentDirectory
	cache       RouteCache
	settings    SettingsLoader
	provider    maps.Provider
	gate        *CentralGate
	broadcaster *Broadcaster
	logger      logger.Logger
	country     string
	pacing      time.Duration

	mu      sync.Mutex
	running bool
}

func NewEngine(
	origins OriginDirectory,
	agents AgentDirectory,
	cache RouteCache,
	settings SettingsLoader,
	provider maps.Provider,
	gate *CentralGate,
	broadcaster *Broadcaster,
	country string,
	pacing time.Duration,
	log logger.Logger,
) *Engine {
	return &Engine{
		origins:     origins,
		agents:      agents,
		cache:       cache,
		settings:    settings,
		provider:    provider,
		gate:        gate,
		broadcaster: broadcaster,
		logger:      log.WithFields(map[string]interface{}{"component": "precalc"}),
		country:     country,
		pacing:      pacing,
	}
}

// Broadcaster exposes the progress feed for subscribers.
func (e *Engine) Broadcaster() *Broadcaster {
	return e.broadcaster
}

// Running reports whether a precalculation pass is currently active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return commonerrors.NewJobRunningError()
	}
	e.running = true
	metrics.PrecalcJobsActive.Inc()
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	metrics.PrecalcJobsActive.Dec()
}

func (e *Engine) observe(scope string, start time.Time, err error) {
	metrics.PrecalcDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.PrecalcRuns.WithLabelValues(scope, outcome).Inc()
}

// Run executes a full precalculation pass: central times first, then the
// viability flags, then the route cache for every viable origin.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	start := time.Now()
	err := e.runFull(ctx)
	e.observe("full", start, err)
	return err
}

func (e *Engine) runFull(ctx context.Context) error {
	settings, err := e.settings.Load(ctx)
	if err != nil {
		return err
	}

	all, err := e.origins.ListAll(ctx)
	if err != nil {
		return err
	}

	computed, err := e.gate.EnsureCentralTimes(ctx, settings, all, func(done, total int) {
		e.broadcaster.Publish(Progress{Done: done, Total: total})
	})
	if err != nil {
		return err
	}
	if _, err := e.origins.RecomputeViability(ctx, settings.CentralMaxMinutes); err != nil {
		return err
	}

	viable, err := e.origins.ListViable(ctx)
	if err != nil {
		return err
	}
	agents, err := e.agents.ListActive(ctx)
	if err != nil {
		return err
	}

	if len(viable) == 0 || len(agents) == 0 {
		e.logger.Info("nothing to precalculate", map[string]interface{}{
			"viable_origins": len(viable),
			"active_agents":  len(agents),
		})
		e.broadcaster.Publish(Progress{})
		return nil
	}

	e.logger.Info("starting route fill", map[string]interface{}{
		"viable_origins": len(viable),
		"active_agents":  len(agents),
		"central_times":  computed,
	})

	total := len(viable)
	for i, origin := range viable {
		if err := ctx.Err(); err != nil {
			return err
		}

		called, err := e.fillOrigin(ctx, settings, origin, agents)
		if err != nil {
			e.logger.Warn("origin fill failed", map[string]interface{}{
				"origin": origin.Code,
				"error":  err.Error(),
			})
		}

		e.broadcaster.Publish(Progress{Done: i + 1, Total: total})

		if called && i+1 < total {
			if err := sleepCtx(ctx, e.pacing); err != nil {
				return err
			}
		}
	}

	return nil
}

// fillOrigin calculates the missing routes from one origin to the given
// agents. Returns whether the provider was actually called, so the caller can
// skip pacing on all-cached origins.
func (e *Engine) fillOrigin(ctx context.Context, settings store.Settings, origin store.Origin, agents []store.Agent) (bool, error) {
	cached, err := e.cache.CachedAgentIDs(ctx, origin.Code)
	if err != nil {
		return false, err
	}

	var missing []store.Agent
	for _, a := range agents {
		if _, ok := cached[a.ID]; !ok {
			missing = append(missing, a)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	originWaypoint := origin.Waypoint(e.country)

	for start := 0; start < len(missing); start += maps.MaxMatrixLegs {
		end := start + maps.MaxMatrixLegs
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		destinations := make([]string, len(batch))
		for i, a := range batch {
			destinations[i] = a.Waypoint(e.country)
		}

		matrix, err := e.provider.DistanceMatrix(ctx, []string{originWaypoint}, destinations)
		if err != nil {
			return true, err
		}
		if len(matrix) == 0 {
			return true, commonerrors.NewProviderUnavailableError(fmt.Errorf("empty matrix for origin %s", origin.Code))
		}

		row := matrix[0]
		for i, a := range batch {
			if i >= len(row) {
				break
			}
			leg := row[i]

			entry := store.RouteEntry{
				OriginCode: origin.Code,
				AgentID:    a.ID,
				Status:     leg.Status,
			}
			if leg.OK() {
				entry.DistanceKm = leg.DistanceKm()
				entry.DurationMin = leg.DurationMin()
			}
			if err := e.cache.Upsert(ctx, entry); err != nil {
				return true, err
			}
		}

		if end < len(missing) {
			if err := sleepCtx(ctx, e.pacing); err != nil {
				return true, err
			}
		}
	}

	return true, nil
}

// RunForOrigin recalculates one origin: its central time when missing, its
// viability flag, and its missing routes when it turns out viable.
func (e *Engine) RunForOrigin(ctx context.Context, code string) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	start := time.Now()
	err := e.runForOrigin(ctx, code)
	e.observe("origin", start, err)
	return err
}

func (e *Engine) runForOrigin(ctx context.Context, code string) error {
	settings, err := e.settings.Load(ctx)
	if err != nil {
		return err
	}

	origin, err := e.origins.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	minutes, err := e.gate.EnsureCentralTimeFor(ctx, settings, *origin)
	if err != nil {
		return err
	}
	if err := e.origins.RecomputeViabilityFor(ctx, code, settings.CentralMaxMinutes); err != nil {
		return err
	}

	if minutes == nil {
		e.logger.Warn("central time still unresolved", map[string]interface{}{"origin": code})
		return commonerrors.NewPendingDataError(code)
	}
	if *minutes > settings.CentralMaxMinutes {
		e.logger.Info("origin outside central threshold", map[string]interface{}{
			"origin":  code,
			"minutes": *minutes,
		})
		return nil
	}

	agents, err := e.agents.ListActive(ctx)
	if err != nil {
		return err
	}

	_, err = e.fillOrigin(ctx, settings, *origin, agents)
	return err
}

// RunForAgent fills the missing routes from every viable origin to one agent,
// for example after a new agent is onboarded.
func (e *Engine) RunForAgent(ctx context.Context, agentID int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	start := time.Now()
	err := e.runForAgent(ctx, agentID)
	e.observe("agent", start, err)
	return err
}

func (e *Engine) runForAgent(ctx context.Context, agentID int) error {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	if !agent.Active {
		return commonerrors.NewInvalidInputError(fmt.Sprintf("agent %d is inactive", agentID))
	}

	viable, err := e.origins.ListViable(ctx)
	if err != nil {
		return err
	}
	cached, err := e.cache.CachedOriginCodes(ctx, agentID)
	if err != nil {
		return err
	}

	var missing []store.Origin
	for _, o := range viable {
		if _, ok := cached[o.Code]; !ok {
			missing = append(missing, o)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	destination := agent.Waypoint(e.country)

	for start := 0; start < len(missing); start += maps.MaxMatrixLegs {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + maps.MaxMatrixLegs
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		origins := make([]string, len(batch))
		for i, o := range batch {
			origins[i] = o.Waypoint(e.country)
		}

		matrix, err := e.provider.DistanceMatrix(ctx, origins, []string{destination})
		if err != nil {
			return err
		}

		for i, o := range batch {
			if i >= len(matrix) || len(matrix[i]) == 0 {
				break
			}
			leg := matrix[i][0]

			entry := store.RouteEntry{
				OriginCode: o.Code,
				AgentID:    agentID,
				Status:     leg.Status,
			}
			if leg.OK() {
				entry.DistanceKm = leg.DistanceKm()
				entry.DurationMin = leg.DurationMin()
			}
			if err := e.cache.Upsert(ctx, entry); err != nil {
				return err
			}
		}

		if end < len(missing) {
			if err := sleepCtx(ctx, e.pacing); err != nil {
				return err
			}
		}
	}

	return nil
}
