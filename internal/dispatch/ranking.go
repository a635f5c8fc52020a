package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/common/metrics"
	"agent-dispatch/internal/geo"
	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/store"
)

// Verdict classifies a ranking query outcome.
type Verdict string

const (
	VerdictUnknown   Verdict = "UNKNOWN_CP"
	VerdictPending   Verdict = "PENDING_CALC"
	VerdictNotViable Verdict = "NOT_VIABLE"
	VerdictViable    Verdict = "VIABLE"
)

// Query is one incoming ranking request.
type Query struct {
	Text      string
	IP        string
	UserAgent string
}

// Candidate is one ranked agent. Precise marks durations refreshed by a
// street-level recompute; those values are never written back to the cache.
type Candidate struct {
	AgentID     int     `json:"agentId"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	DistanceKm  float64 `json:"distanceKm"`
	DurationMin int     `json:"durationMin"`
	Rank        int     `json:"rank"`
	Precise     bool    `json:"precise"`
}

// Result is the answer to a ranking query.
type Result struct {
	Verdict          Verdict     `json:"verdict"`
	Viable           bool        `json:"viable"`
	Message          string      `json:"message"`
	OriginCode       string      `json:"originCode,omitempty"`
	City             string      `json:"city,omitempty"`
	MinutesToCentral *int        `json:"minutesToCentral,omitempty"`
	Candidates       []Candidate `json:"candidates"`
}

// tieBreakTimeout bounds the street-level recompute; on expiry the cached
// ordering is served as-is.
const tieBreakTimeout = 5 * time.Second

// Ranker answers "nearest agent" queries from the route cache. Reads never
// trigger cache fills: an uncached origin is reported as pending, not
// calculated inline.
type Ranker struct {
	origins    OriginDirectory
	agents     AgentDirectory
	cache      RouteCache
	settings   SettingsLoader
	geocoder   Geocoder
	provider   maps.Provider
	history    HistoryRecorder
	verdicts   *redis.Client
	verdictTTL time.Duration
	logger     logger.Logger
}

func NewRanker(
	origins OriginDirectory,
	agents AgentDirectory,
	cache RouteCache,
	settings SettingsLoader,
	geocoder Geocoder,
	provider maps.Provider,
	history HistoryRecorder,
	verdicts *redis.Client,
	verdictTTL time.Duration,
	log logger.Logger,
) *Ranker {
	return &Ranker{
		origins:    origins,
		agents:     agents,
		cache:      cache,
		settings:   settings,
		geocoder:   geocoder,
		provider:   provider,
		history:    history,
		verdicts:   verdicts,
		verdictTTL: verdictTTL,
		logger:     log.WithFields(map[string]interface{}{"component": "ranker"}),
	}
}

// Search resolves the query to a known origin and ranks cached agents for it.
// Plain postal-code queries are additionally served from a short-lived verdict
// cache; geocoded queries bypass it because their coordinates feed the
// street-level tie-break.
func (r *Ranker) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, commonerrors.NewInvalidInputError("empty query")
	}

	settings, err := r.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	code, point, err := r.resolve(ctx, text)
	if err != nil {
		r.record(ctx, q, "RESOLUTION_FAILED")
		return nil, err
	}

	if point == nil {
		if cached := r.cachedVerdict(ctx, code); cached != nil {
			metrics.SearchVerdicts.WithLabelValues("cached").Inc()
			r.record(ctx, q, string(cached.Verdict))
			return cached, nil
		}
	}

	result, err := r.rank(ctx, settings, code, point)
	if err != nil {
		return nil, err
	}

	metrics.SearchVerdicts.WithLabelValues(string(result.Verdict)).Inc()
	r.record(ctx, q, string(result.Verdict))

	if point == nil {
		r.storeVerdict(ctx, code, result)
	}
	return result, nil
}

// resolve turns the query text into a five-digit postal code, plus exact
// coordinates when the text had to be geocoded.
func (r *Ranker) resolve(ctx context.Context, text string) (string, *geo.Point, error) {
	if isPostalCode(text) {
		return padPostalCode(text), nil, nil
	}

	res, err := r.geocoder.Geocode(ctx, text)
	if err != nil {
		return "", nil, err
	}
	if res.PostalCode == "" {
		return "", nil, commonerrors.NewResolutionFailedError(text, fmt.Errorf("no postal code in geocoding result"))
	}
	return padPostalCode(res.PostalCode), &geo.Point{Lat: res.Lat, Lng: res.Lng}, nil
}

func (r *Ranker) rank(ctx context.Context, settings store.Settings, code string, point *geo.Point) (*Result, error) {
	origin, err := r.origins.GetByCode(ctx, code)
	if err != nil {
		if commonerrors.CodeOf(err) == commonerrors.ErrCodeUnknownOrigin {
			return &Result{
				Verdict:    VerdictUnknown,
				Message:    "Postal code is not in the service area",
				OriginCode: code,
				Candidates: []Candidate{},
			}, nil
		}
		return nil, err
	}

	if origin.MinutesToCentral == nil {
		return &Result{
			Verdict:    VerdictPending,
			Message:    "Driving time to the central office is still being calculated",
			OriginCode: origin.Code,
			City:       origin.City,
			Candidates: []Candidate{},
		}, nil
	}

	// The threshold comparison is live: a stale viable flag from before a
	// settings change cannot override the current limit.
	if *origin.MinutesToCentral > settings.CentralMaxMinutes {
		return &Result{
			Verdict: VerdictNotViable,
			Message: fmt.Sprintf("Origin is %d minutes from the central office, over the %d minute limit",
				*origin.MinutesToCentral, settings.CentralMaxMinutes),
			OriginCode:       origin.Code,
			City:             origin.City,
			MinutesToCentral: origin.MinutesToCentral,
			Candidates:       []Candidate{},
		}, nil
	}

	matches, err := r.cache.BestFor(ctx, origin.Code, settings.RouteMaxMinutes, settings.SearchResultsCount)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(matches))
	for i, m := range matches {
		candidates[i] = Candidate{
			AgentID:     m.AgentID,
			Name:        m.Name,
			City:        m.City,
			DistanceKm:  m.DistanceKm,
			DurationMin: m.DurationMin,
			Rank:        i + 1,
		}
	}

	if point != nil {
		candidates = r.breakTies(ctx, settings, candidates, matches, *point)
	}

	message := fmt.Sprintf("%d agents available", len(candidates))
	if len(candidates) == 0 {
		message = "No agents within range yet"
	}

	return &Result{
		Verdict:          VerdictViable,
		Viable:           true,
		Message:          message,
		OriginCode:       origin.Code,
		City:             origin.City,
		MinutesToCentral: origin.MinutesToCentral,
		Candidates:       candidates,
	}, nil
}

// breakTies recomputes street-level durations when the cached leaders are too
// close to call. One many-to-one call covers every returned candidate, each
// refreshed leg is marked precise, and the whole list is re-sorted so a
// refined duration can never sit above a faster cached one. Every candidate
// must have known coordinates; any failure falls back to the cached ordering.
func (r *Ranker) breakTies(ctx context.Context, settings store.Settings, candidates []Candidate, matches []store.BestMatch, dest geo.Point) []Candidate {
	if len(candidates) < 2 {
		return candidates
	}
	gap := candidates[1].DurationMin - candidates[0].DurationMin
	if gap > settings.ConflictThresholdMinutes {
		return candidates
	}

	points := make([]geo.Point, len(candidates))
	for i := range candidates {
		p := matches[i].Coords()
		if p == nil {
			return candidates
		}
		points[i] = *p
	}

	tctx, cancel := context.WithTimeout(ctx, tieBreakTimeout)
	defer cancel()

	legs, err := r.provider.RouteMatrix(tctx, points, dest)
	if err != nil || len(legs) != len(candidates) {
		r.logger.Warn("tie-break recompute failed, keeping cached order", map[string]interface{}{
			"candidates": len(candidates),
		})
		return candidates
	}

	for i, leg := range legs {
		if !leg.OK() {
			continue
		}
		candidates[i].DurationMin = leg.DurationMin()
		candidates[i].DistanceKm = leg.DistanceKm()
		candidates[i].Precise = true
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DurationMin != candidates[j].DurationMin {
			return candidates[i].DurationMin < candidates[j].DurationMin
		}
		return candidates[i].DistanceKm < candidates[j].DistanceKm
	})
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates
}

func (r *Ranker) record(ctx context.Context, q Query, outcome string) {
	err := r.history.Record(ctx, store.SearchRecord{
		Query:     q.Text,
		IP:        q.IP,
		Result:    outcome,
		UserAgent: q.UserAgent,
	})
	if err != nil {
		r.logger.Warn("failed to record search", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (r *Ranker) cachedVerdict(ctx context.Context, code string) *Result {
	if r.verdicts == nil {
		return nil
	}
	raw, err := r.verdicts.Get(ctx, verdictKey(code)).Bytes()
	if err != nil {
		return nil
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	return &result
}

func (r *Ranker) storeVerdict(ctx context.Context, code string, result *Result) {
	if r.verdicts == nil || r.verdictTTL <= 0 {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := r.verdicts.Set(ctx, verdictKey(code), raw, r.verdictTTL).Err(); err != nil {
		r.logger.Debug("verdict cache write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func verdictKey(code string) string {
	return "search:" + code
}

// isPostalCode reports whether the text is a bare numeric code of at most
// five digits.
func isPostalCode(text string) bool {
	if len(text) == 0 || len(text) > 5 {
		return false
	}
	for _, c := range text {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// padPostalCode left-pads short numeric codes to five digits, so "7001"
// matches the stored "07001".
func padPostalCode(code string) string {
	for len(code) < 5 {
		code = "0" + code
	}
	return code
}
