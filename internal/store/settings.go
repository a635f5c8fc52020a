package store

import (
	"context"
	"database/sql"
	"strconv"

	"agent-dispatch/internal/common/config"
	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/geo"
)

// Settings is the typed view of the settings key-value table, loaded once per
// request or job. Missing or unparsable rows fall back to the configured
// defaults, so every call site sees the same values.
type Settings struct {
	CentralAddress           string
	CentralLat               *float64
	CentralLng               *float64
	CentralMaxMinutes        int
	ConflictThresholdMinutes int
	SearchResultsCount       int
	RouteMaxMinutes          int
}

// CentralCoords returns the central office coordinates, or nil when only an
// address is configured.
func (s Settings) CentralCoords() *geo.Point {
	if s.CentralLat == nil || s.CentralLng == nil {
		return nil
	}
	return &geo.Point{Lat: *s.CentralLat, Lng: *s.CentralLng}
}

// CentralWaypoint renders the central office for a provider call, preferring
// exact coordinates.
func (s Settings) CentralWaypoint() string {
	if p := s.CentralCoords(); p != nil {
		return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
	}
	return s.CentralAddress
}

// Setting keys as stored in the settings table.
const (
	KeyCentralAddress    = "central_address"
	KeyCentralLat        = "central_lat"
	KeyCentralLng        = "central_lng"
	KeyCentralMaxMinutes = "central_max_minutes"
	KeyConflictThreshold = "conflict_threshold_minutes"
	KeySearchResults     = "search_results_count"
	KeyRouteMaxMinutes   = "route_max_minutes"
)

// IsSettingKey reports whether the key names a known setting.
func IsSettingKey(key string) bool {
	switch key {
	case KeyCentralAddress, KeyCentralLat, KeyCentralLng,
		KeyCentralMaxMinutes, KeyConflictThreshold, KeySearchResults, KeyRouteMaxMinutes:
		return true
	}
	return false
}

// SettingsStore loads the settings bag into the typed Settings struct.
type SettingsStore struct {
	db       *sql.DB
	defaults config.DispatchConfig
}

func NewSettingsStore(db *sql.DB, defaults config.DispatchConfig) *SettingsStore {
	return &SettingsStore{db: db, defaults: defaults}
}

// Load reads every settings row and applies defaults for whatever is absent.
func (s *SettingsStore) Load(ctx context.Context) (Settings, error) {
	out := Settings{
		CentralMaxMinutes:        s.defaults.CentralMaxMinutes,
		ConflictThresholdMinutes: s.defaults.ConflictThresholdMinutes,
		SearchResultsCount:       s.defaults.SearchResultsCount,
		RouteMaxMinutes:          s.defaults.RouteMaxMinutes,
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return out, commonerrors.NewQueryExecutionFailedError("load settings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return out, commonerrors.NewQueryExecutionFailedError("scan setting", err)
		}
		if !value.Valid || value.String == "" {
			continue
		}

		switch key {
		case KeyCentralAddress:
			out.CentralAddress = value.String
		case KeyCentralLat:
			if v, err := strconv.ParseFloat(value.String, 64); err == nil {
				out.CentralLat = &v
			}
		case KeyCentralLng:
			if v, err := strconv.ParseFloat(value.String, 64); err == nil {
				out.CentralLng = &v
			}
		case KeyCentralMaxMinutes:
			if v, err := strconv.Atoi(value.String); err == nil && v > 0 {
				out.CentralMaxMinutes = v
			}
		case KeyConflictThreshold:
			if v, err := strconv.Atoi(value.String); err == nil && v >= 0 {
				out.ConflictThresholdMinutes = v
			}
		case KeySearchResults:
			if v, err := strconv.Atoi(value.String); err == nil && v > 0 {
				out.SearchResultsCount = v
			}
		case KeyRouteMaxMinutes:
			if v, err := strconv.Atoi(value.String); err == nil && v > 0 {
				out.RouteMaxMinutes = v
			}
		}
	}
	if err := rows.Err(); err != nil {
		return out, commonerrors.NewQueryExecutionFailedError("load settings", err)
	}

	return out, nil
}

// Set writes one setting row.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("set setting", err)
	}
	return nil
}
