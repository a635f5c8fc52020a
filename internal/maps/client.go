package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"agent-dispatch/internal/common/config"
	commonerrors "agent-dispatch/internal/common/errors"
	commonhttp "agent-dispatch/internal/common/http"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/common/metrics"
	"agent-dispatch/internal/geo"
)

// Client talks to the Google Distance Matrix and Routes APIs. With no API key
// it falls back to the haversine estimator when allowed, otherwise every call
// fails with PROVIDER_UNAVAILABLE.
type Client struct {
	cfg       config.MapsConfig
	http      *commonhttp.Client
	logger    logger.Logger
	estimator *Estimator
}

func NewClient(cfg config.MapsConfig, log logger.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		http:   commonhttp.NewClient(config.GetDuration(cfg.Timeout)),
		logger: log.WithFields(map[string]interface{}{"component": "maps"}),
	}
	if cfg.AllowEstimator {
		c.estimator = NewEstimator()
	}
	return c
}

type distanceMatrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Value int `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value int `json:"value"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// DistanceMatrix issues a one-to-many (or many-to-one) matrix query. The
// total number of legs must not exceed MaxMatrixLegs.
func (c *Client) DistanceMatrix(ctx context.Context, origins, destinations []string) ([][]Leg, error) {
	if len(origins) == 0 || len(destinations) == 0 {
		return [][]Leg{}, nil
	}
	if len(origins)*len(destinations) > MaxMatrixLegs {
		return nil, commonerrors.NewInvalidInputError(
			fmt.Sprintf("matrix of %d legs exceeds cap of %d", len(origins)*len(destinations), MaxMatrixLegs))
	}

	if c.cfg.APIKey == "" {
		return c.estimateMatrix(origins, destinations)
	}

	params := url.Values{}
	params.Set("origins", strings.Join(origins, "|"))
	params.Set("destinations", strings.Join(destinations, "|"))
	params.Set("key", c.cfg.APIKey)
	params.Set("units", "metric")
	if c.cfg.Region != "" {
		params.Set("region", c.cfg.Region)
	}

	req, err := http.NewRequest(http.MethodGet, c.cfg.DistanceMatrixURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("distance_matrix", "error").Inc()
		return c.fallbackMatrix(origins, destinations, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("distance_matrix", "error").Inc()
		return c.fallbackMatrix(origins, destinations, err)
	}

	var parsed distanceMatrixResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.ProviderCalls.WithLabelValues("distance_matrix", "error").Inc()
		return c.fallbackMatrix(origins, destinations, err)
	}

	if parsed.Status != StatusOK {
		c.logger.Error("distance matrix call rejected", map[string]interface{}{
			"status":       parsed.Status,
			"errorMessage": parsed.ErrorMessage,
		})
		metrics.ProviderCalls.WithLabelValues("distance_matrix", parsed.Status).Inc()
		return c.fallbackMatrix(origins, destinations, fmt.Errorf("provider status %s", parsed.Status))
	}

	metrics.ProviderCalls.WithLabelValues("distance_matrix", StatusOK).Inc()

	matrix := make([][]Leg, len(origins))
	for i := range matrix {
		matrix[i] = make([]Leg, len(destinations))
		for j := range matrix[i] {
			matrix[i][j] = Leg{Status: StatusUnreachable}
		}
	}

	for i, row := range parsed.Rows {
		if i >= len(origins) {
			break
		}
		for j, el := range row.Elements {
			if j >= len(destinations) {
				break
			}
			leg := Leg{Status: el.Status}
			if el.Status == StatusOK {
				leg.DistanceMeters = el.Distance.Value
				leg.DurationSeconds = el.Duration.Value
			}
			metrics.ProviderLegs.WithLabelValues("distance_matrix", leg.Status).Inc()
			matrix[i][j] = leg
		}
	}

	return matrix, nil
}

type routeMatrixRequest struct {
	Origins           []routeWaypoint `json:"origins"`
	Destinations      []routeWaypoint `json:"destinations"`
	TravelMode        string          `json:"travelMode"`
	RoutingPreference string          `json:"routingPreference"`
}

type routeWaypoint struct {
	Waypoint struct {
		Location struct {
			LatLng struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"latLng"`
		} `json:"location"`
	} `json:"waypoint"`
}

type routeMatrixElement struct {
	OriginIndex int `json:"originIndex"`
	Status      struct {
		Code int `json:"code"`
	} `json:"status"`
	Condition      string `json:"condition"`
	DistanceMeters int    `json:"distanceMeters"`
	Duration       string `json:"duration"` // "123s"
}

func newRouteWaypoint(p geo.Point) routeWaypoint {
	var w routeWaypoint
	w.Waypoint.Location.LatLng.Latitude = p.Lat
	w.Waypoint.Location.LatLng.Longitude = p.Lng
	return w
}

// RouteMatrix issues a many-to-one precise matrix query against the Routes
// API, traffic-unaware for consistency with cached values. Results come back
// ordered by origin index, one leg per origin.
func (c *Client) RouteMatrix(ctx context.Context, origins []geo.Point, dest geo.Point) ([]Leg, error) {
	if len(origins) == 0 {
		return []Leg{}, nil
	}
	if len(origins) > MaxMatrixLegs {
		return nil, commonerrors.NewInvalidInputError(
			fmt.Sprintf("matrix of %d legs exceeds cap of %d", len(origins), MaxMatrixLegs))
	}

	if c.cfg.APIKey == "" {
		if c.estimator != nil {
			return c.estimator.RouteMatrix(origins, dest), nil
		}
		return nil, commonerrors.NewProviderUnavailableError(fmt.Errorf("no API key configured"))
	}

	reqBody := routeMatrixRequest{
		Origins:           make([]routeWaypoint, 0, len(origins)),
		Destinations:      []routeWaypoint{newRouteWaypoint(dest)},
		TravelMode:        "DRIVE",
		RoutingPreference: "TRAFFIC_UNAWARE",
	}
	for _, o := range origins {
		reqBody.Origins = append(reqBody.Origins, newRouteWaypoint(o))
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}

	req, err := http.NewRequest(http.MethodPost, c.cfg.RouteMatrixURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-Goog-FieldMask", "originIndex,destinationIndex,status,condition,distanceMeters,duration")

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("route_matrix", "error").Inc()
		return nil, commonerrors.NewProviderUnavailableError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("route_matrix", "error").Inc()
		return nil, commonerrors.NewProviderUnavailableError(err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("route matrix call rejected", map[string]interface{}{
			"httpStatus": resp.StatusCode,
			"body":       truncate(string(body), 500),
		})
		metrics.ProviderCalls.WithLabelValues("route_matrix", strconv.Itoa(resp.StatusCode)).Inc()
		return nil, commonerrors.NewProviderUnavailableError(fmt.Errorf("provider HTTP %d", resp.StatusCode))
	}

	var elements []routeMatrixElement
	if err := json.Unmarshal(body, &elements); err != nil {
		// Single-element responses are not wrapped in an array
		var single routeMatrixElement
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			metrics.ProviderCalls.WithLabelValues("route_matrix", "error").Inc()
			return nil, commonerrors.NewProviderUnavailableError(err)
		}
		elements = []routeMatrixElement{single}
	}

	metrics.ProviderCalls.WithLabelValues("route_matrix", StatusOK).Inc()

	sort.Slice(elements, func(i, j int) bool { return elements[i].OriginIndex < elements[j].OriginIndex })

	legs := make([]Leg, len(origins))
	for i := range legs {
		legs[i] = Leg{Status: StatusUnreachable}
	}
	for _, el := range elements {
		if el.OriginIndex < 0 || el.OriginIndex >= len(origins) {
			continue
		}
		leg := Leg{Status: StatusUnreachable}
		if el.Status.Code == 0 && el.Condition == "ROUTE_EXISTS" {
			leg = Leg{
				Status:          StatusOK,
				DistanceMeters:  el.DistanceMeters,
				DurationSeconds: parseDurationSeconds(el.Duration),
			}
		}
		metrics.ProviderLegs.WithLabelValues("route_matrix", leg.Status).Inc()
		legs[el.OriginIndex] = leg
	}

	return legs, nil
}

// estimateMatrix serves the whole matrix from the estimator, or fails when
// the degraded mode is disabled.
func (c *Client) estimateMatrix(origins, destinations []string) ([][]Leg, error) {
	if c.estimator == nil {
		return nil, commonerrors.NewProviderUnavailableError(fmt.Errorf("no API key configured"))
	}
	c.logger.Warn("no API key configured, using straight-line estimator", nil)
	return c.estimator.DistanceMatrix(origins, destinations), nil
}

// fallbackMatrix degrades a failed real call to estimates when allowed.
func (c *Client) fallbackMatrix(origins, destinations []string, cause error) ([][]Leg, error) {
	if c.estimator == nil {
		return nil, commonerrors.NewProviderUnavailableError(cause)
	}
	c.logger.Warn("provider call failed, falling back to estimator", map[string]interface{}{
		"error": cause.Error(),
	})
	return c.estimator.DistanceMatrix(origins, destinations), nil
}

func parseDurationSeconds(s string) int {
	s = strings.TrimSuffix(s, "s")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
