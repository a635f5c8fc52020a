package maps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"agent-dispatch/internal/common/config"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cfg config.MapsConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5000
	}
	return NewClient(cfg, logger.NewTestLogger(t))
}

func TestDistanceMatrix_ParsesLegs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("origins"), "39.47")
		w.Write([]byte(`{
			"status": "OK",
			"rows": [{
				"elements": [
					{"status": "OK", "distance": {"value": 12345}, "duration": {"value": 720}},
					{"status": "NOT_FOUND"}
				]
			}]
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, config.MapsConfig{
		APIKey:            "test-key",
		DistanceMatrixURL: server.URL,
	})

	matrix, err := client.DistanceMatrix(context.Background(),
		[]string{"39.47,-0.38"}, []string{"46001, Spain", "46002, Spain"})
	require.NoError(t, err)
	require.Len(t, matrix, 1)
	require.Len(t, matrix[0], 2)

	assert.True(t, matrix[0][0].OK())
	assert.Equal(t, 12345, matrix[0][0].DistanceMeters)
	assert.Equal(t, 12.35, matrix[0][0].DistanceKm())
	assert.Equal(t, 12, matrix[0][0].DurationMin())

	assert.False(t, matrix[0][1].OK())
	assert.Equal(t, "NOT_FOUND", matrix[0][1].Status)
}

func TestDistanceMatrix_LegCap(t *testing.T) {
	client := newTestClient(t, config.MapsConfig{APIKey: "test-key"})

	origins := []string{"a", "b"}
	destinations := make([]string, 13)
	for i := range destinations {
		destinations[i] = "x"
	}

	_, err := client.DistanceMatrix(context.Background(), origins, destinations)
	assert.Error(t, err)
}

func TestDistanceMatrix_EmptyInput(t *testing.T) {
	client := newTestClient(t, config.MapsConfig{APIKey: "test-key"})

	matrix, err := client.DistanceMatrix(context.Background(), nil, []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, matrix)
}

func TestDistanceMatrix_NoKeyWithoutEstimatorFails(t *testing.T) {
	client := newTestClient(t, config.MapsConfig{})

	_, err := client.DistanceMatrix(context.Background(), []string{"0,0"}, []string{"1,0"})
	assert.Error(t, err)
}

func TestDistanceMatrix_EstimatorFallback(t *testing.T) {
	client := newTestClient(t, config.MapsConfig{AllowEstimator: true})

	matrix, err := client.DistanceMatrix(context.Background(),
		[]string{"0,0"}, []string{"1,0", "not an address we can estimate"})
	require.NoError(t, err)
	require.Len(t, matrix, 1)

	assert.Equal(t, StatusEstimated, matrix[0][0].Status)
	assert.InDelta(t, 111190, matrix[0][0].DistanceMeters, 600)
	assert.Equal(t, StatusUnreachable, matrix[0][1].Status)
}

func TestDistanceMatrix_ProviderRejectionFallsBackWhenAllowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "REQUEST_DENIED", "error_message": "bad key"}`))
	}))
	defer server.Close()

	client := newTestClient(t, config.MapsConfig{
		APIKey:            "bad-key",
		DistanceMatrixURL: server.URL,
		AllowEstimator:    true,
	})

	matrix, err := client.DistanceMatrix(context.Background(), []string{"0,0"}, []string{"1,0"})
	require.NoError(t, err)
	assert.Equal(t, StatusEstimated, matrix[0][0].Status)
}

func TestRouteMatrix_ParsesAndOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		w.Write([]byte(`[
			{"originIndex": 1, "condition": "ROUTE_EXISTS", "distanceMeters": 5000, "duration": "600s"},
			{"originIndex": 0, "condition": "ROUTE_EXISTS", "distanceMeters": 9000, "duration": "900s"},
			{"originIndex": 2, "condition": "ROUTE_NOT_FOUND"}
		]`))
	}))
	defer server.Close()

	client := newTestClient(t, config.MapsConfig{
		APIKey:         "test-key",
		RouteMatrixURL: server.URL,
	})

	origins := []geo.Point{{Lat: 1}, {Lat: 2}, {Lat: 3}}
	legs, err := client.RouteMatrix(context.Background(), origins, geo.Point{Lat: 0, Lng: 0})
	require.NoError(t, err)
	require.Len(t, legs, 3)

	assert.Equal(t, 900, legs[0].DurationSeconds)
	assert.Equal(t, 600, legs[1].DurationSeconds)
	assert.Equal(t, 15, legs[0].DurationMin())
	assert.False(t, legs[2].OK())
}

func TestRouteMatrix_HTTPErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"message": "denied"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, config.MapsConfig{
		APIKey:         "test-key",
		RouteMatrixURL: server.URL,
	})

	_, err := client.RouteMatrix(context.Background(), []geo.Point{{Lat: 1}}, geo.Point{})
	assert.Error(t, err)
}

func TestParseLatLng(t *testing.T) {
	p := ParseLatLng("39.47, -0.38")
	require.NotNil(t, p)
	assert.Equal(t, 39.47, p.Lat)
	assert.Equal(t, -0.38, p.Lng)

	assert.Nil(t, ParseLatLng("Calle Mayor 1, Valencia"))
	assert.Nil(t, ParseLatLng(""))
}

func TestGeocode_ExtractsPostalCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "Calle Mayor 1, 46001 Valencia, Spain",
				"geometry": {"location": {"lat": 39.47, "lng": -0.38}},
				"address_components": [
					{"long_name": "Valencia", "types": ["locality"]},
					{"long_name": "46001", "types": ["postal_code"]}
				]
			}]
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, config.MapsConfig{
		APIKey:     "test-key",
		GeocodeURL: server.URL,
	})

	res, err := client.Geocode(context.Background(), "Calle Mayor 1, Valencia")
	require.NoError(t, err)
	assert.Equal(t, "46001", res.PostalCode)
	assert.Equal(t, 39.47, res.Lat)
}

func TestGeocode_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer server.Close()

	client := newTestClient(t, config.MapsConfig{
		APIKey:     "test-key",
		GeocodeURL: server.URL,
	})

	_, err := client.Geocode(context.Background(), "nowhere at all")
	assert.Error(t, err)
}
