package store

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-dispatch/internal/common/config"
)

var testDefaults = config.DispatchConfig{
	CentralMaxMinutes:        100,
	ConflictThresholdMinutes: 5,
	SearchResultsCount:       3,
	RouteMaxMinutes:          30,
}

func TestSettingsStore_Load(t *testing.T) {
	tests := []struct {
		name     string
		rows     [][]driver.Value
		expected Settings
	}{
		{
			name: "empty table falls back to defaults",
			rows: nil,
			expected: Settings{
				CentralMaxMinutes:        100,
				ConflictThresholdMinutes: 5,
				SearchResultsCount:       3,
				RouteMaxMinutes:          30,
			},
		},
		{
			name: "stored rows override defaults",
			rows: [][]driver.Value{
				{"central_address", "Calle Colon 1, Valencia"},
				{"central_max_minutes", "90"},
				{"search_results_count", "5"},
			},
			expected: Settings{
				CentralAddress:           "Calle Colon 1, Valencia",
				CentralMaxMinutes:        90,
				ConflictThresholdMinutes: 5,
				SearchResultsCount:       5,
				RouteMaxMinutes:          30,
			},
		},
		{
			name: "unparsable values keep defaults",
			rows: [][]driver.Value{
				{"central_max_minutes", "soon"},
				{"route_max_minutes", "-4"},
			},
			expected: Settings{
				CentralMaxMinutes:        100,
				ConflictThresholdMinutes: 5,
				SearchResultsCount:       3,
				RouteMaxMinutes:          30,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			rows := sqlmock.NewRows([]string{"key", "value"})
			for _, r := range tt.rows {
				rows.AddRow(r...)
			}
			mock.ExpectQuery("SELECT key, value FROM settings").WillReturnRows(rows)

			settings := NewSettingsStore(db, testDefaults)
			got, err := settings.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSettings_CentralWaypoint(t *testing.T) {
	lat, lng := 39.469907, -0.376288

	withCoords := Settings{CentralAddress: "Calle Colon 1", CentralLat: &lat, CentralLng: &lng}
	assert.Equal(t, "39.469907,-0.376288", withCoords.CentralWaypoint())

	addressOnly := Settings{CentralAddress: "Calle Colon 1"}
	assert.Equal(t, "Calle Colon 1", addressOnly.CentralWaypoint())
	assert.Nil(t, addressOnly.CentralCoords())
}

func TestSettingsStore_Set(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO settings").
		WithArgs("central_max_minutes", "90").
		WillReturnResult(sqlmock.NewResult(0, 1))

	settings := NewSettingsStore(db, testDefaults)
	require.NoError(t, settings.Set(context.Background(), "central_max_minutes", "90"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
