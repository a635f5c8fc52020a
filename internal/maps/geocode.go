package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/metrics"
)

// GeocodeResult is a resolved address.
type GeocodeResult struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	PostalCode       string  `json:"postalCode"`
	FormattedAddress string  `json:"formattedAddress"`
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// Geocode resolves a free-text address to coordinates and a postal code.
func (c *Client) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	if c.cfg.APIKey == "" {
		return nil, commonerrors.NewProviderUnavailableError(fmt.Errorf("no API key configured"))
	}

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", c.cfg.APIKey)
	if c.cfg.Language != "" {
		params.Set("language", c.cfg.Language)
	}
	if c.cfg.Region != "" {
		params.Set("region", c.cfg.Region)
	}

	req, err := http.NewRequest(http.MethodGet, c.cfg.GeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("geocode", "error").Inc()
		return nil, commonerrors.NewResolutionFailedError(address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("geocode", "error").Inc()
		return nil, commonerrors.NewResolutionFailedError(address, err)
	}

	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.ProviderCalls.WithLabelValues("geocode", "error").Inc()
		return nil, commonerrors.NewResolutionFailedError(address, err)
	}

	metrics.ProviderCalls.WithLabelValues("geocode", parsed.Status).Inc()

	if parsed.Status != StatusOK || len(parsed.Results) == 0 {
		c.logger.Info("geocoding found no results", map[string]interface{}{
			"address": address,
			"status":  parsed.Status,
		})
		return nil, commonerrors.NewResolutionFailedError(address, nil)
	}

	result := parsed.Results[0]

	out := &GeocodeResult{
		Lat:              result.Geometry.Location.Lat,
		Lng:              result.Geometry.Location.Lng,
		FormattedAddress: result.FormattedAddress,
	}
	for _, component := range result.AddressComponents {
		for _, t := range component.Types {
			if t == "postal_code" {
				out.PostalCode = component.LongName
				break
			}
		}
	}

	return out, nil
}
